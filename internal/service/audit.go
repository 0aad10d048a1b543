package service

import (
	"context"
	"fmt"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// Page limits for ListEvents.
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// ListEvents pages the audit log. limit <= 0 means DefaultEventLimit; larger
// values are capped at MaxEventLimit.
func (e *Engine) ListEvents(ctx context.Context, since int64, limit int) (out []model.AuditEvent, err error) {
	if since < 0 {
		return nil, fmt.Errorf("%w: negative sequence", errs.ErrInvalidArgument)
	}
	switch {
	case limit <= 0:
		limit = DefaultEventLimit
	case limit > MaxEventLimit:
		limit = MaxEventLimit
	}
	err = e.store.View(ctx, func(r repository.Reader) error {
		out, err = r.EventsSince(ctx, since, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.AuditEvent{}
	}
	return out, nil
}

package service

import (
	"context"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// Initialize registers caller as a patient exactly once.
func (e *Engine) Initialize(ctx context.Context, caller model.Identity) error {
	if err := requireIdentities(caller); err != nil {
		return err
	}
	return e.store.UpdatePatient(ctx, caller, func(tx repository.Tx) error {
		ok, err := tx.IsInitialized(ctx, caller)
		if err != nil {
			return err
		}
		if ok {
			return errs.ErrAlreadyInitialized
		}
		now := e.now()
		if err := tx.InitializePatient(ctx, caller, now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(model.EventPatientInitialized, caller, caller, now))
	})
}

// IsInitialized is a pure lookup and never fails on unknown identities.
func (e *Engine) IsInitialized(ctx context.Context, id model.Identity) (ok bool, err error) {
	err = e.store.View(ctx, func(r repository.Reader) error {
		ok, err = r.IsInitialized(ctx, id)
		return err
	})
	return ok, err
}

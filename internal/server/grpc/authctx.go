package grpcserver

import (
	"context"

	"github.com/and161185/medgate/internal/model"
)

type ctxKey string

const identityKey ctxKey = "mg.identity"

// WithIdentity stores the authenticated caller in context.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx fetches the authenticated caller from context.
func IdentityFromCtx(ctx context.Context) (model.Identity, bool) {
	v := ctx.Value(identityKey)
	if v == nil {
		return model.NilIdentity, false
	}
	id, ok := v.(model.Identity)
	return id, ok && id != model.NilIdentity
}

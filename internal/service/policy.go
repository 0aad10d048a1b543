package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// Role is a capability the caller may hold relative to a patient.
type Role uint8

// Roles, combinable as a bit set.
const (
	RoleOwner Role = 1 << iota
	RoleSelf
	RoleDoctor
	RoleHealthCenter
)

// Action names a gated operation.
type Action string

// Gated actions.
const (
	ActionSetAllowlist   Action = "setHealthCenterAllowlist"
	ActionAddRecord      Action = "addRecord"
	ActionUpdateRecord   Action = "updateRecord"
	ActionGetRecord      Action = "getRecord"
	ActionSetDataSharing Action = "setDataSharing"
	ActionAddReview      Action = "addReview"
	ActionGetReviews     Action = "getReviews"
)

// decisionTable lists, per action, the roles that permit it.
var decisionTable = map[Action]Role{
	ActionSetAllowlist:   RoleOwner,
	ActionAddRecord:      RoleSelf | RoleDoctor | RoleHealthCenter,
	ActionUpdateRecord:   RoleSelf | RoleDoctor | RoleHealthCenter,
	ActionGetRecord:      RoleSelf | RoleDoctor | RoleHealthCenter,
	ActionSetDataSharing: RoleSelf,
	ActionAddReview:      RoleDoctor,
	ActionGetReviews:     RoleSelf | RoleDoctor | RoleHealthCenter,
}

// Allows reports whether holding role permits action.
func Allows(action Action, role Role) bool { return decisionTable[action]&role != 0 }

// authorize resolves the caller's roles against current state and fails closed.
func (e *Engine) authorize(ctx context.Context, r repository.Reader, action Action, caller, patient model.Identity) error {
	allowed := decisionTable[action]
	role, err := e.resolveRole(ctx, r, allowed, caller, patient)
	if err != nil {
		return err
	}
	ok := role&allowed != 0
	e.metrics.ObserveDecision(string(action), ok)
	if ok {
		return nil
	}
	denial := denialFor(allowed)
	e.log.Debug("denied",
		zap.String("action", string(action)),
		zap.String("caller", caller.String()),
		zap.String("patient", patient.String()),
		zap.Error(denial),
	)
	return denial
}

// resolveRole returns the first role in wanted that caller holds, checking
// cheap roles first. Grants are read from r on every call; nothing is cached.
func (e *Engine) resolveRole(ctx context.Context, r repository.Reader, wanted Role, caller, patient model.Identity) (Role, error) {
	if wanted&RoleOwner != 0 && caller == e.owner {
		return RoleOwner, nil
	}
	if wanted&RoleSelf != 0 && caller == patient {
		return RoleSelf, nil
	}
	if wanted&RoleDoctor != 0 {
		ok, err := r.DoctorConsent(ctx, patient, caller)
		if err != nil {
			return 0, err
		}
		if ok {
			return RoleDoctor, nil
		}
	}
	if wanted&RoleHealthCenter != 0 {
		ok, err := centerAuthorized(ctx, r, patient, caller)
		if err != nil {
			return 0, err
		}
		if ok {
			return RoleHealthCenter, nil
		}
	}
	return 0, nil
}

// centerAuthorized is the dual gate: owner approval AND patient consent.
func centerAuthorized(ctx context.Context, r repository.Reader, patient, center model.Identity) (bool, error) {
	approved, err := r.CenterApproved(ctx, center)
	if err != nil || !approved {
		return false, err
	}
	return r.CenterConsent(ctx, patient, center)
}

func denialFor(allowed Role) error {
	switch allowed {
	case RoleOwner:
		return errs.ErrNotOwner
	case RoleSelf:
		return errs.ErrNotSelf
	case RoleDoctor:
		return errs.ErrDoctorNotConsented
	case RoleHealthCenter:
		return errs.ErrHealthCenterNotAuthorized
	default:
		return errs.ErrNotAuthorized
	}
}

package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// SetHealthCenterAllowlist sets the platform-wide approval of center.
// Patient consents are left untouched either way.
func (e *Engine) SetHealthCenterAllowlist(ctx context.Context, caller, center model.Identity, approved bool) error {
	if err := requireIdentities(caller, center); err != nil {
		return err
	}
	err := e.store.UpdateGlobal(ctx, func(tx repository.Tx) error {
		if err := e.authorize(ctx, tx, ActionSetAllowlist, caller, model.NilIdentity); err != nil {
			return err
		}
		if err := tx.SetCenterApproved(ctx, center, approved); err != nil {
			return err
		}
		ev := newEvent(model.EventHealthCenterAllowlistChanged, caller, model.NilIdentity, e.now())
		ev.Subject, ev.Flag = center, approved
		return tx.AppendEvent(ctx, ev)
	})
	if err == nil {
		e.log.Info("allowlist changed", zap.String("center", center.String()), zap.Bool("approved", approved))
	}
	return err
}

// SetHealthCenterConsent sets caller's own consent bit for center. The allow-list
// is not consulted here; it only matters when the grant is used.
func (e *Engine) SetHealthCenterConsent(ctx context.Context, caller, center model.Identity, granted bool) error {
	if err := requireIdentities(caller, center); err != nil {
		return err
	}
	return e.store.UpdatePatient(ctx, caller, func(tx repository.Tx) error {
		if err := requireInitialized(ctx, tx, caller); err != nil {
			return err
		}
		if err := tx.SetCenterConsent(ctx, caller, center, granted); err != nil {
			return err
		}
		ev := newEvent(model.EventHealthCenterAuthorizationChanged, caller, caller, e.now())
		ev.Subject, ev.Flag = center, granted
		return tx.AppendEvent(ctx, ev)
	})
}

// GrantHealthCenter is SetHealthCenterConsent(granted=true).
func (e *Engine) GrantHealthCenter(ctx context.Context, caller, center model.Identity) error {
	return e.SetHealthCenterConsent(ctx, caller, center, true)
}

// RevokeHealthCenter is SetHealthCenterConsent(granted=false).
func (e *Engine) RevokeHealthCenter(ctx context.Context, caller, center model.Identity) error {
	return e.SetHealthCenterConsent(ctx, caller, center, false)
}

// SetDoctorConsent sets caller's own consent bit for doctor.
func (e *Engine) SetDoctorConsent(ctx context.Context, caller, doctor model.Identity, granted bool) error {
	if err := requireIdentities(caller, doctor); err != nil {
		return err
	}
	return e.store.UpdatePatient(ctx, caller, func(tx repository.Tx) error {
		if err := requireInitialized(ctx, tx, caller); err != nil {
			return err
		}
		if err := tx.SetDoctorConsent(ctx, caller, doctor, granted); err != nil {
			return err
		}
		ev := newEvent(model.EventDoctorAuthorizationChanged, caller, caller, e.now())
		ev.Subject, ev.Flag = doctor, granted
		return tx.AppendEvent(ctx, ev)
	})
}

// GrantDoctor is SetDoctorConsent(granted=true).
func (e *Engine) GrantDoctor(ctx context.Context, caller, doctor model.Identity) error {
	return e.SetDoctorConsent(ctx, caller, doctor, true)
}

// RevokeDoctor is SetDoctorConsent(granted=false).
func (e *Engine) RevokeDoctor(ctx context.Context, caller, doctor model.Identity) error {
	return e.SetDoctorConsent(ctx, caller, doctor, false)
}

// IsHealthCenterAuthorized is true iff the owner approved center and patient consented to it.
func (e *Engine) IsHealthCenterAuthorized(ctx context.Context, patient, center model.Identity) (ok bool, err error) {
	err = e.store.View(ctx, func(r repository.Reader) error {
		ok, err = centerAuthorized(ctx, r, patient, center)
		return err
	})
	return ok, err
}

// IsDoctorAuthorized is true iff patient consented to doctor.
func (e *Engine) IsDoctorAuthorized(ctx context.Context, patient, doctor model.Identity) (ok bool, err error) {
	err = e.store.View(ctx, func(r repository.Reader) error {
		ok, err = r.DoctorConsent(ctx, patient, doctor)
		return err
	})
	return ok, err
}

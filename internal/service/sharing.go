package service

import (
	"context"

	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// SetDataSharing toggles the public sharing flag. Only the patient may flip it.
func (e *Engine) SetDataSharing(ctx context.Context, caller, patient model.Identity, enabled bool) error {
	if patient == model.NilIdentity {
		patient = caller
	}
	if err := requireIdentities(caller, patient); err != nil {
		return err
	}
	return e.store.UpdatePatient(ctx, patient, func(tx repository.Tx) error {
		if err := requireInitialized(ctx, tx, patient); err != nil {
			return err
		}
		if err := e.authorize(ctx, tx, ActionSetDataSharing, caller, patient); err != nil {
			return err
		}
		if err := tx.SetDataSharing(ctx, patient, enabled); err != nil {
			return err
		}
		ev := newEvent(model.EventDataSharingChanged, caller, patient, e.now())
		ev.Flag = enabled
		return tx.AppendEvent(ctx, ev)
	})
}

// GetDataSharing is false for unknown patients.
func (e *Engine) GetDataSharing(ctx context.Context, patient model.Identity) (on bool, err error) {
	err = e.store.View(ctx, func(r repository.Reader) error {
		on, err = r.DataSharing(ctx, patient)
		return err
	})
	return on, err
}

package service

import (
	"context"
	"errors"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// AddRecord creates the patient's record.
// Checks, in order: patient initialized, caller authorized, no live record.
func (e *Engine) AddRecord(ctx context.Context, caller, patient model.Identity, f model.RecordFields) (*model.PatientRecord, error) {
	if err := requireIdentities(caller, patient); err != nil {
		return nil, err
	}
	if err := e.validateStruct(f); err != nil {
		return nil, err
	}
	var rec model.PatientRecord
	err := e.store.UpdatePatient(ctx, patient, func(tx repository.Tx) error {
		if err := requireInitialized(ctx, tx, patient); err != nil {
			return err
		}
		if err := e.authorize(ctx, tx, ActionAddRecord, caller, patient); err != nil {
			return err
		}
		switch _, err := tx.GetRecord(ctx, patient); {
		case err == nil:
			return errs.ErrAlreadyExists
		case !errors.Is(err, errs.ErrNotFound):
			return err
		}

		now := e.now()
		rec = model.PatientRecord{Patient: patient, RecordFields: f, CreatedAt: now, LastUpdated: now}
		if err := tx.PutRecord(ctx, rec); err != nil {
			return err
		}
		ev := newEvent(model.EventRecordAdded, caller, patient, now)
		ev.Record = &rec
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecord rewrites the three mutable fields. Identity-fixed fields stay as created.
func (e *Engine) UpdateRecord(ctx context.Context, caller, patient model.Identity, u model.RecordUpdate) (*model.PatientRecord, error) {
	if err := requireIdentities(caller, patient); err != nil {
		return nil, err
	}
	if err := e.validateStruct(u); err != nil {
		return nil, err
	}
	var rec *model.PatientRecord
	err := e.store.UpdatePatient(ctx, patient, func(tx repository.Tx) error {
		var err error
		if rec, err = tx.GetRecord(ctx, patient); err != nil {
			return err
		}
		if err := e.authorize(ctx, tx, ActionUpdateRecord, caller, patient); err != nil {
			return err
		}
		now := e.now()
		rec.Apply(u, now)
		if err := tx.PutRecord(ctx, *rec); err != nil {
			return err
		}
		ev := newEvent(model.EventRecordUpdated, caller, patient, now)
		ev.Record = rec
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecord returns the sensitive view. Authorization is checked before existence
// so unauthorized callers learn nothing about the record.
func (e *Engine) GetRecord(ctx context.Context, caller, patient model.Identity) (*model.SensitiveRecord, error) {
	if err := requireIdentities(caller, patient); err != nil {
		return nil, err
	}
	var out model.SensitiveRecord
	err := e.store.View(ctx, func(r repository.Reader) error {
		if err := e.authorize(ctx, r, ActionGetRecord, caller, patient); err != nil {
			return err
		}
		rec, err := r.GetRecord(ctx, patient)
		if err != nil {
			return err
		}
		sharing, err := r.DataSharing(ctx, patient)
		if err != nil {
			return err
		}
		out = model.SensitiveRecord{PatientRecord: *rec, DataSharing: sharing}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPublicRecords returns, in registration order, every record whose patient
// currently shares data. Qualifying records are returned in full.
func (e *Engine) ListPublicRecords(ctx context.Context) (out []model.PatientRecord, err error) {
	err = e.store.View(ctx, func(r repository.Reader) error {
		out, err = r.SharedRecords(ctx)
		return err
	})
	if out == nil && err == nil {
		out = []model.PatientRecord{}
	}
	return out, err
}

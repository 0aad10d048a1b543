// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/medgate/internal/model"
)

// Store owns every per-identity map of the engine and runs operations as
// all-or-nothing transactions.
type Store interface {
	// UpdatePatient runs fn under the patient's critical section. Writes on the
	// same patient, and global writes, never interleave with it. An error from fn
	// discards every write.
	UpdatePatient(ctx context.Context, patient model.Identity, fn func(Tx) error) error
	// UpdateGlobal runs fn exclusively against all other writes.
	UpdateGlobal(ctx context.Context, fn func(Tx) error) error
	// View runs fn over a consistent view of committed state.
	View(ctx context.Context, fn func(Reader) error) error
}

// Reader exposes committed state.
type Reader interface {
	// IsInitialized reports whether id was registered as a patient.
	IsInitialized(ctx context.Context, id model.Identity) (bool, error)
	// CenterApproved reports the owner allow-list bit for center.
	CenterApproved(ctx context.Context, center model.Identity) (bool, error)
	// CenterConsent reports the patient's consent bit for center.
	CenterConsent(ctx context.Context, patient, center model.Identity) (bool, error)
	// DoctorConsent reports the patient's consent bit for doctor.
	DoctorConsent(ctx context.Context, patient, doctor model.Identity) (bool, error)
	// DataSharing reports the patient's public sharing flag.
	DataSharing(ctx context.Context, patient model.Identity) (bool, error)
	// GetRecord returns the live record or errs.ErrNotFound.
	GetRecord(ctx context.Context, patient model.Identity) (*model.PatientRecord, error)
	// Reviews returns the patient's reviews in append order.
	Reviews(ctx context.Context, patient model.Identity) ([]model.DoctorReview, error)
	// SharedRecords returns records of sharing patients in registration order.
	SharedRecords(ctx context.Context) ([]model.PatientRecord, error)
	// EventsSince returns up to limit events with Seq > since, ascending.
	EventsSince(ctx context.Context, since int64, limit int) ([]model.AuditEvent, error)
}

// Tx is a write transaction. Reads observe state committed before the
// transaction acquired its locks; callers must not depend on reading their own writes.
type Tx interface {
	Reader

	// InitializePatient registers id; the caller has checked it is new.
	InitializePatient(ctx context.Context, id model.Identity, at time.Time) error
	// SetCenterApproved writes the owner allow-list bit.
	SetCenterApproved(ctx context.Context, center model.Identity, approved bool) error
	// SetCenterConsent writes the patient's consent bit for center.
	SetCenterConsent(ctx context.Context, patient, center model.Identity, granted bool) error
	// SetDoctorConsent writes the patient's consent bit for doctor.
	SetDoctorConsent(ctx context.Context, patient, doctor model.Identity, granted bool) error
	// SetDataSharing writes the patient's sharing flag.
	SetDataSharing(ctx context.Context, patient model.Identity, enabled bool) error
	// PutRecord inserts or replaces the patient's record.
	PutRecord(ctx context.Context, rec model.PatientRecord) error
	// AppendReview appends to the patient's review log.
	AppendReview(ctx context.Context, r model.DoctorReview) error
	// AppendEvent appends to the audit log.
	AppendEvent(ctx context.Context, ev model.AuditEvent) error
}

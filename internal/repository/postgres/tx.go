package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// tx implements repository.Tx over a pgx transaction.
type tx struct{ q pgx.Tx }

var _ repository.Tx = (*tx)(nil)

const recordColumns = `r.patient_id, r.name, r.date_of_birth, r.gender, r.contact_info_hash,
r.emergency_contact_hash, r.medical_record_hash, r.current_medications, r.allergies,
r.blood_type, r.created_at, r.last_updated`

func (t *tx) flag(ctx context.Context, q string, args ...any) (bool, error) {
	var ok bool
	if err := t.q.QueryRow(ctx, q, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// IsInitialized reports whether id has a patients row.
func (t *tx) IsInitialized(ctx context.Context, id model.Identity) (bool, error) {
	return t.flag(ctx, `SELECT EXISTS(SELECT 1 FROM patients WHERE id=$1)`, id)
}

// CenterApproved is false for centers never put on the allow-list.
func (t *tx) CenterApproved(ctx context.Context, center model.Identity) (bool, error) {
	return t.flag(ctx, `SELECT COALESCE((SELECT approved FROM health_centers WHERE id=$1), false)`, center)
}

func (t *tx) CenterConsent(ctx context.Context, patient, center model.Identity) (bool, error) {
	return t.flag(ctx, `SELECT EXISTS(SELECT 1 FROM center_consents WHERE patient_id=$1 AND center_id=$2)`, patient, center)
}

func (t *tx) DoctorConsent(ctx context.Context, patient, doctor model.Identity) (bool, error) {
	return t.flag(ctx, `SELECT EXISTS(SELECT 1 FROM doctor_consents WHERE patient_id=$1 AND doctor_id=$2)`, patient, doctor)
}

func (t *tx) DataSharing(ctx context.Context, patient model.Identity) (bool, error) {
	return t.flag(ctx, `SELECT COALESCE((SELECT data_sharing FROM patients WHERE id=$1), false)`, patient)
}

// GetRecord selects the patient's record.
func (t *tx) GetRecord(ctx context.Context, patient model.Identity) (*model.PatientRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM records r WHERE r.patient_id=$1`
	rec, err := scanRecord(t.q.QueryRow(ctx, q, patient))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Reviews returns the review log ordered by insertion.
func (t *tx) Reviews(ctx context.Context, patient model.Identity) ([]model.DoctorReview, error) {
	const q = `
SELECT patient_id, doctor_id, text, created_at
FROM reviews WHERE patient_id=$1
ORDER BY seq ASC`
	rows, err := t.q.Query(ctx, q, patient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DoctorReview
	for rows.Next() {
		var r model.DoctorReview
		if err = rows.Scan(&r.Patient, &r.Doctor, &r.Text, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SharedRecords joins records with sharing patients in registration order.
func (t *tx) SharedRecords(ctx context.Context) ([]model.PatientRecord, error) {
	q := `SELECT ` + recordColumns + `
FROM records r JOIN patients p ON p.id = r.patient_id
WHERE p.data_sharing
ORDER BY p.seq ASC`
	rows, err := t.q.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PatientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// EventsSince returns events strictly after since.
func (t *tx) EventsSince(ctx context.Context, since int64, limit int) ([]model.AuditEvent, error) {
	const q = `
SELECT seq, id, kind, actor, patient, subject, flag, record, review, occurred_at
FROM audit_events
WHERE seq>$1
ORDER BY seq ASC
LIMIT $2`
	rows, err := t.q.Query(ctx, q, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var (
			ev             model.AuditEvent
			kind           string
			record, review []byte
		)
		if err = rows.Scan(&ev.Seq, &ev.ID, &kind, &ev.Actor, &ev.Patient, &ev.Subject, &ev.Flag,
			&record, &review, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		if len(record) > 0 {
			ev.Record = new(model.PatientRecord)
			if err = json.Unmarshal(record, ev.Record); err != nil {
				return nil, fmt.Errorf("event %d record: %w", ev.Seq, err)
			}
		}
		if len(review) > 0 {
			ev.Review = new(model.DoctorReview)
			if err = json.Unmarshal(review, ev.Review); err != nil {
				return nil, fmt.Errorf("event %d review: %w", ev.Seq, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InitializePatient inserts the patients row.
func (t *tx) InitializePatient(ctx context.Context, id model.Identity, at time.Time) error {
	const q = `INSERT INTO patients (id, initialized_at) VALUES ($1, $2)`
	_, err := t.q.Exec(ctx, q, id, at)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyInitialized
	}
	return err
}

func (t *tx) SetCenterApproved(ctx context.Context, center model.Identity, approved bool) error {
	const q = `
INSERT INTO health_centers (id, approved, updated_at) VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET approved=EXCLUDED.approved, updated_at=now()`
	_, err := t.q.Exec(ctx, q, center, approved)
	return err
}

func (t *tx) SetCenterConsent(ctx context.Context, patient, center model.Identity, granted bool) error {
	if granted {
		_, err := t.q.Exec(ctx, `INSERT INTO center_consents (patient_id, center_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, patient, center)
		return err
	}
	_, err := t.q.Exec(ctx, `DELETE FROM center_consents WHERE patient_id=$1 AND center_id=$2`, patient, center)
	return err
}

func (t *tx) SetDoctorConsent(ctx context.Context, patient, doctor model.Identity, granted bool) error {
	if granted {
		_, err := t.q.Exec(ctx, `INSERT INTO doctor_consents (patient_id, doctor_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, patient, doctor)
		return err
	}
	_, err := t.q.Exec(ctx, `DELETE FROM doctor_consents WHERE patient_id=$1 AND doctor_id=$2`, patient, doctor)
	return err
}

func (t *tx) SetDataSharing(ctx context.Context, patient model.Identity, enabled bool) error {
	tag, err := t.q.Exec(ctx, `UPDATE patients SET data_sharing=$2 WHERE id=$1`, patient, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotInitialized
	}
	return nil
}

// PutRecord upserts the record row.
func (t *tx) PutRecord(ctx context.Context, rec model.PatientRecord) error {
	const q = `
INSERT INTO records (patient_id, name, date_of_birth, gender, contact_info_hash,
  emergency_contact_hash, medical_record_hash, current_medications, allergies,
  blood_type, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (patient_id) DO UPDATE SET
  medical_record_hash=EXCLUDED.medical_record_hash,
  current_medications=EXCLUDED.current_medications,
  allergies=EXCLUDED.allergies,
  last_updated=EXCLUDED.last_updated`
	_, err := t.q.Exec(ctx, q, rec.Patient, rec.Name, rec.DateOfBirth, rec.Gender, rec.ContactInfoHash,
		rec.EmergencyContactHash, rec.MedicalRecordHash, rec.CurrentMedications, rec.Allergies,
		rec.BloodType, rec.CreatedAt, rec.LastUpdated)
	return err
}

func (t *tx) AppendReview(ctx context.Context, r model.DoctorReview) error {
	const q = `INSERT INTO reviews (patient_id, doctor_id, text, created_at) VALUES ($1, $2, $3, $4)`
	_, err := t.q.Exec(ctx, q, r.Patient, r.Doctor, r.Text, r.CreatedAt)
	return err
}

// AppendEvent takes the next sequence number from audit_counter. The counter row
// stays locked until commit, so sequence order equals commit order.
func (t *tx) AppendEvent(ctx context.Context, ev model.AuditEvent) error {
	const q = `
WITH n AS (UPDATE audit_counter SET seq = seq + 1 RETURNING seq)
INSERT INTO audit_events (seq, id, kind, actor, patient, subject, flag, record, review, occurred_at)
SELECT n.seq, $1, $2, $3, $4, $5, $6, $7, $8, $9 FROM n`
	record, err := marshalOptional(ev.Record)
	if err != nil {
		return err
	}
	review, err := marshalOptional(ev.Review)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, q, ev.ID, string(ev.Kind), ev.Actor, ev.Patient, ev.Subject, ev.Flag,
		record, review, ev.OccurredAt)
	return err
}

func marshalOptional[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func scanRecord(row pgx.Row) (*model.PatientRecord, error) {
	var r model.PatientRecord
	err := row.Scan(&r.Patient, &r.Name, &r.DateOfBirth, &r.Gender, &r.ContactInfoHash,
		&r.EmergencyContactHash, &r.MedicalRecordHash, &r.CurrentMedications, &r.Allergies,
		&r.BloodType, &r.CreatedAt, &r.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

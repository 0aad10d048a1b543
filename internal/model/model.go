// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Identity is the opaque caller identifier supplied by the execution environment.
// Owners, patients, doctors and health centers all share this space.
type Identity = uuid.UUID

// NilIdentity is the zero identity; it never names a real caller.
var NilIdentity = uuid.Nil

// ParseIdentity parses the canonical textual form of an identity.
func ParseIdentity(s string) (Identity, error) { return uuid.FromString(s) }

// RecordFields is the full payload accepted by addRecord.
type RecordFields struct {
	Name                 string `validate:"required,max=1024"`
	DateOfBirth          int64  // unix seconds
	Gender               string `validate:"max=1024"`
	ContactInfoHash      string `validate:"max=1024"`
	EmergencyContactHash string `validate:"max=1024"`
	MedicalRecordHash    string `validate:"max=1024"`
	CurrentMedications   string `validate:"max=1024"`
	Allergies            string `validate:"max=1024"`
	BloodType            string `validate:"max=1024"`
}

// RecordUpdate carries the three fields that may change after creation.
type RecordUpdate struct {
	MedicalRecordHash  string `validate:"max=1024"`
	CurrentMedications string `validate:"max=1024"`
	Allergies          string `validate:"max=1024"`
}

// PatientRecord is the single live record of an initialized patient.
type PatientRecord struct {
	Patient Identity
	RecordFields
	CreatedAt   time.Time
	LastUpdated time.Time // set on create and on every update
}

// Apply overwrites the mutable fields and bumps LastUpdated.
func (r *PatientRecord) Apply(u RecordUpdate, at time.Time) {
	r.MedicalRecordHash = u.MedicalRecordHash
	r.CurrentMedications = u.CurrentMedications
	r.Allergies = u.Allergies
	r.LastUpdated = at
}

// SensitiveRecord is the getRecord view: the record plus the patient's sharing flag.
type SensitiveRecord struct {
	PatientRecord
	DataSharing bool
}

// DoctorReview is one append-only entry of a patient's review log.
type DoctorReview struct {
	Patient   Identity
	Doctor    Identity
	Text      string
	CreatedAt time.Time
}

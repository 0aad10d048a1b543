// Package medgatev1 is the wire contract of the MedGate gRPC service.
//
// Messages are plain structs carried by the "json" codec; well-known protobuf
// types (Empty, BoolValue) go through protojson.
package medgatev1

import "time"

// IdentityRequest names one identity.
type IdentityRequest struct {
	ID string `json:"id"`
}

// AllowlistRequest sets the owner approval of a health center.
type AllowlistRequest struct {
	Center   string `json:"center"`
	Approved bool   `json:"approved"`
}

// ConsentRequest sets the caller's consent bit for a doctor or health center.
type ConsentRequest struct {
	Subject string `json:"subject"`
	Granted bool   `json:"granted"`
}

// AuthorizationQuery asks whether subject is authorized for patient.
type AuthorizationQuery struct {
	Patient string `json:"patient"`
	Subject string `json:"subject"`
}

// PatientRequest targets one patient.
type PatientRequest struct {
	Patient string `json:"patient"`
}

// RecordFields is the full addRecord payload.
type RecordFields struct {
	Name                 string `json:"name"`
	DateOfBirth          int64  `json:"date_of_birth"`
	Gender               string `json:"gender,omitempty"`
	ContactInfoHash      string `json:"contact_info_hash,omitempty"`
	EmergencyContactHash string `json:"emergency_contact_hash,omitempty"`
	MedicalRecordHash    string `json:"medical_record_hash,omitempty"`
	CurrentMedications   string `json:"current_medications,omitempty"`
	Allergies            string `json:"allergies,omitempty"`
	BloodType            string `json:"blood_type,omitempty"`
}

// AddRecordRequest creates the record of Patient.
type AddRecordRequest struct {
	Patient string       `json:"patient"`
	Fields  RecordFields `json:"fields"`
}

// UpdateRecordRequest rewrites the mutable record fields.
type UpdateRecordRequest struct {
	Patient            string `json:"patient"`
	MedicalRecordHash  string `json:"medical_record_hash"`
	CurrentMedications string `json:"current_medications"`
	Allergies          string `json:"allergies"`
}

// Record is a patient record on the wire.
type Record struct {
	Patient string `json:"patient"`
	RecordFields
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// SensitiveRecord is the getRecord response.
type SensitiveRecord struct {
	Record
	DataSharing bool `json:"data_sharing"`
}

// RecordList is the public listing.
type RecordList struct {
	Records []Record `json:"records"`
}

// DataSharingRequest sets the sharing flag. Patient defaults to the caller.
type DataSharingRequest struct {
	Patient string `json:"patient,omitempty"`
	Enabled bool   `json:"enabled"`
}

// AddReviewRequest appends a doctor review.
type AddReviewRequest struct {
	Patient string `json:"patient"`
	Text    string `json:"text"`
}

// Review is one doctor review.
type Review struct {
	Patient   string    `json:"patient"`
	Doctor    string    `json:"doctor"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewList is a patient's review log in append order.
type ReviewList struct {
	Reviews []Review `json:"reviews"`
}

// ListEventsRequest pages the audit log.
type ListEventsRequest struct {
	Since int64 `json:"since"`
	Limit int32 `json:"limit,omitempty"`
}

// Event is one audit log entry.
type Event struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Actor      string    `json:"actor"`
	Patient    string    `json:"patient,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Flag       bool      `json:"flag"`
	Record     *Record   `json:"record,omitempty"`
	Review     *Review   `json:"review,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventList is one page of the audit log.
type EventList struct {
	Events []Event `json:"events"`
}

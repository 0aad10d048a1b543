package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// EventKind tags an AuditEvent.
type EventKind string

// Audit event kinds, one per successful state transition family.
const (
	EventPatientInitialized               EventKind = "PatientInitialized"
	EventRecordAdded                      EventKind = "RecordAdded"
	EventRecordUpdated                    EventKind = "RecordUpdated"
	EventHealthCenterAllowlistChanged     EventKind = "HealthCenterAllowlistChanged"
	EventDoctorAuthorizationChanged       EventKind = "DoctorAuthorizationChanged"
	EventHealthCenterAuthorizationChanged EventKind = "HealthCenterAuthorizationChanged"
	EventDataSharingChanged               EventKind = "DataSharingChanged"
	EventReviewAdded                      EventKind = "ReviewAdded"
)

// AuditEvent is an immutable entry of the change feed. Replaying the feed in Seq
// order rebuilds the engine state.
type AuditEvent struct {
	Seq     int64     // assigned by the store, strictly increasing from 1
	ID      uuid.UUID // stable id for downstream de-duplication
	Kind    EventKind
	Actor   Identity // caller that performed the transition
	Patient Identity // nil for allow-list changes
	Subject Identity // health center or doctor, when relevant
	Flag    bool     // approved / granted / enabled

	Record *PatientRecord // snapshot after RecordAdded / RecordUpdated
	Review *DoctorReview  // the appended review for ReviewAdded

	OccurredAt time.Time
}

// Package convert maps domain models to wire messages and back.
package convert

import (
	"fmt"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
)

// --- identities ---

// Identity parses a wire identity. Empty or malformed values are ErrInvalidArgument.
func Identity(field, s string) (model.Identity, error) {
	id, err := model.ParseIdentity(s)
	if err != nil || id == model.NilIdentity {
		return model.NilIdentity, fmt.Errorf("%w: bad %s %q", errs.ErrInvalidArgument, field, s)
	}
	return id, nil
}

// OptionalIdentity is Identity but maps "" to NilIdentity.
func OptionalIdentity(field, s string) (model.Identity, error) {
	if s == "" {
		return model.NilIdentity, nil
	}
	return Identity(field, s)
}

func idString(id model.Identity) string {
	if id == model.NilIdentity {
		return ""
	}
	return id.String()
}

// --- records ---

// FromWireFields converts the addRecord payload.
func FromWireFields(f pb.RecordFields) model.RecordFields {
	return model.RecordFields{
		Name:                 f.Name,
		DateOfBirth:          f.DateOfBirth,
		Gender:               f.Gender,
		ContactInfoHash:      f.ContactInfoHash,
		EmergencyContactHash: f.EmergencyContactHash,
		MedicalRecordHash:    f.MedicalRecordHash,
		CurrentMedications:   f.CurrentMedications,
		Allergies:            f.Allergies,
		BloodType:            f.BloodType,
	}
}

// FromWireUpdate converts the updateRecord payload.
func FromWireUpdate(in *pb.UpdateRecordRequest) model.RecordUpdate {
	return model.RecordUpdate{
		MedicalRecordHash:  in.MedicalRecordHash,
		CurrentMedications: in.CurrentMedications,
		Allergies:          in.Allergies,
	}
}

// ToWireRecord converts a record.
func ToWireRecord(r model.PatientRecord) *pb.Record {
	return &pb.Record{
		Patient: r.Patient.String(),
		RecordFields: pb.RecordFields{
			Name:                 r.Name,
			DateOfBirth:          r.DateOfBirth,
			Gender:               r.Gender,
			ContactInfoHash:      r.ContactInfoHash,
			EmergencyContactHash: r.EmergencyContactHash,
			MedicalRecordHash:    r.MedicalRecordHash,
			CurrentMedications:   r.CurrentMedications,
			Allergies:            r.Allergies,
			BloodType:            r.BloodType,
		},
		CreatedAt:   r.CreatedAt,
		LastUpdated: r.LastUpdated,
	}
}

// ToWireSensitive converts the getRecord view.
func ToWireSensitive(r model.SensitiveRecord) *pb.SensitiveRecord {
	return &pb.SensitiveRecord{Record: *ToWireRecord(r.PatientRecord), DataSharing: r.DataSharing}
}

// ToWireRecordList converts the public listing; never returns a nil slice.
func ToWireRecordList(rs []model.PatientRecord) *pb.RecordList {
	out := &pb.RecordList{Records: make([]pb.Record, 0, len(rs))}
	for _, r := range rs {
		out.Records = append(out.Records, *ToWireRecord(r))
	}
	return out
}

// --- reviews ---

// ToWireReview converts one review.
func ToWireReview(r model.DoctorReview) *pb.Review {
	return &pb.Review{
		Patient:   r.Patient.String(),
		Doctor:    r.Doctor.String(),
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
	}
}

// ToWireReviewList converts a review log.
func ToWireReviewList(rs []model.DoctorReview) *pb.ReviewList {
	out := &pb.ReviewList{Reviews: make([]pb.Review, 0, len(rs))}
	for _, r := range rs {
		out.Reviews = append(out.Reviews, *ToWireReview(r))
	}
	return out
}

// --- events ---

// ToWireEvent converts one audit event. Nil identities are omitted.
func ToWireEvent(ev model.AuditEvent) pb.Event {
	out := pb.Event{
		Seq:        ev.Seq,
		ID:         ev.ID.String(),
		Kind:       string(ev.Kind),
		Actor:      idString(ev.Actor),
		Patient:    idString(ev.Patient),
		Subject:    idString(ev.Subject),
		Flag:       ev.Flag,
		OccurredAt: ev.OccurredAt,
	}
	if ev.Record != nil {
		out.Record = ToWireRecord(*ev.Record)
	}
	if ev.Review != nil {
		out.Review = ToWireReview(*ev.Review)
	}
	return out
}

// ToWireEventList converts a page of events.
func ToWireEventList(evs []model.AuditEvent) *pb.EventList {
	out := &pb.EventList{Events: make([]pb.Event, 0, len(evs))}
	for _, ev := range evs {
		out.Events = append(out.Events, ToWireEvent(ev))
	}
	return out
}

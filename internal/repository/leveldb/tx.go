package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// kv is the read surface shared by *leveldb.Snapshot and *leveldb.Transaction.
type kv interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type patientEntry struct {
	Seq           int64     `json:"seq"`
	InitializedAt time.Time `json:"initialized_at"`
	Sharing       bool      `json:"sharing"`
}

type view struct{ r kv }

var _ repository.Reader = (*view)(nil)

func (v *view) getJSON(k []byte, dst any) (bool, error) {
	b, err := v.r.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decode %q: %w", k, err)
	}
	return true, nil
}

func (v *view) patient(id model.Identity) (*patientEntry, error) {
	var p patientEntry
	ok, err := v.getJSON(key(pfxPatient, id.Bytes()), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (v *view) counter(name string) (int64, error) {
	b, err := v.r.Get([]byte(name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seqFrom(b), nil
}

func (v *view) IsInitialized(_ context.Context, id model.Identity) (bool, error) {
	return v.r.Has(key(pfxPatient, id.Bytes()), nil)
}

func (v *view) CenterApproved(_ context.Context, center model.Identity) (bool, error) {
	b, err := v.r.Get(key(pfxCenter, center.Bytes()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(b) == 1 && b[0] == 1, nil
}

func (v *view) CenterConsent(_ context.Context, patient, center model.Identity) (bool, error) {
	return v.r.Has(key(pfxCenterConsent, patient.Bytes(), center.Bytes()), nil)
}

func (v *view) DoctorConsent(_ context.Context, patient, doctor model.Identity) (bool, error) {
	return v.r.Has(key(pfxDoctorConsent, patient.Bytes(), doctor.Bytes()), nil)
}

func (v *view) DataSharing(_ context.Context, patient model.Identity) (bool, error) {
	p, err := v.patient(patient)
	if err != nil || p == nil {
		return false, err
	}
	return p.Sharing, nil
}

func (v *view) GetRecord(_ context.Context, patient model.Identity) (*model.PatientRecord, error) {
	var rec model.PatientRecord
	ok, err := v.getJSON(key(pfxRecord, patient.Bytes()), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

func (v *view) Reviews(_ context.Context, patient model.Identity) ([]model.DoctorReview, error) {
	it := v.r.NewIterator(util.BytesPrefix(key(pfxReview, patient.Bytes())), nil)
	defer it.Release()

	var out []model.DoctorReview
	for it.Next() {
		var r model.DoctorReview
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("decode review: %w", err)
		}
		out = append(out, r)
	}
	return out, it.Error()
}

func (v *view) SharedRecords(ctx context.Context) ([]model.PatientRecord, error) {
	it := v.r.NewIterator(util.BytesPrefix([]byte(pfxPatientOrder)), nil)
	defer it.Release()

	var out []model.PatientRecord
	for it.Next() {
		pid, err := uuid.FromBytes(it.Value())
		if err != nil {
			return nil, fmt.Errorf("decode patient order: %w", err)
		}
		p, err := v.patient(pid)
		if err != nil {
			return nil, err
		}
		if p == nil || !p.Sharing {
			continue
		}
		rec, err := v.GetRecord(ctx, pid)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, it.Error()
}

func (v *view) EventsSince(_ context.Context, since int64, limit int) ([]model.AuditEvent, error) {
	rng := util.BytesPrefix([]byte(pfxEvent))
	rng.Start = key(pfxEvent, seqBytes(since+1))
	it := v.r.NewIterator(rng, nil)
	defer it.Release()

	var out []model.AuditEvent
	for it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var ev model.AuditEvent
		if err := json.Unmarshal(it.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, it.Error()
}

type tx struct {
	view
	tr *leveldb.Transaction
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) putJSON(k []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.tr.Put(k, b, nil)
}

// next bumps the named counter and returns its new value.
func (t *tx) next(name string) (int64, error) {
	cur, err := t.counter(name)
	if err != nil {
		return 0, err
	}
	cur++
	return cur, t.tr.Put([]byte(name), seqBytes(cur), nil)
}

func (t *tx) InitializePatient(_ context.Context, pid model.Identity, at time.Time) error {
	seq, err := t.next(metaPatientSeq)
	if err != nil {
		return err
	}
	if err := t.putJSON(key(pfxPatient, pid.Bytes()), patientEntry{Seq: seq, InitializedAt: at}); err != nil {
		return err
	}
	return t.tr.Put(key(pfxPatientOrder, seqBytes(seq)), pid.Bytes(), nil)
}

func (t *tx) SetCenterApproved(_ context.Context, center model.Identity, approved bool) error {
	v := []byte{0}
	if approved {
		v[0] = 1
	}
	return t.tr.Put(key(pfxCenter, center.Bytes()), v, nil)
}

func (t *tx) setBit(k []byte, on bool) error {
	if on {
		return t.tr.Put(k, []byte{1}, nil)
	}
	return t.tr.Delete(k, nil)
}

func (t *tx) SetCenterConsent(_ context.Context, patient, center model.Identity, granted bool) error {
	return t.setBit(key(pfxCenterConsent, patient.Bytes(), center.Bytes()), granted)
}

func (t *tx) SetDoctorConsent(_ context.Context, patient, doctor model.Identity, granted bool) error {
	return t.setBit(key(pfxDoctorConsent, patient.Bytes(), doctor.Bytes()), granted)
}

func (t *tx) SetDataSharing(_ context.Context, patient model.Identity, enabled bool) error {
	p, err := t.patient(patient)
	if err != nil {
		return err
	}
	if p == nil {
		return errs.ErrNotInitialized
	}
	p.Sharing = enabled
	return t.putJSON(key(pfxPatient, patient.Bytes()), p)
}

func (t *tx) PutRecord(_ context.Context, rec model.PatientRecord) error {
	return t.putJSON(key(pfxRecord, rec.Patient.Bytes()), rec)
}

func (t *tx) AppendReview(_ context.Context, r model.DoctorReview) error {
	seq, err := t.next(metaReviewSeq)
	if err != nil {
		return err
	}
	return t.putJSON(key(pfxReview, r.Patient.Bytes(), seqBytes(seq)), r)
}

func (t *tx) AppendEvent(_ context.Context, ev model.AuditEvent) error {
	seq, err := t.next(metaEventSeq)
	if err != nil {
		return err
	}
	ev.Seq = seq
	return t.putJSON(key(pfxEvent, seqBytes(seq)), ev)
}

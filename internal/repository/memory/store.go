// Package memory is the in-process Store backend.
//
// Patient-scoped writes hold a per-patient mutex plus a shared gate; global
// writes hold the gate exclusively. Writes are staged and applied under a single
// state lock at commit, so readers never observe a half-applied transaction.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

type pair struct{ owner, other model.Identity }

type patientEntry struct {
	initializedAt time.Time
	sharing       bool
}

type state struct {
	patients      map[model.Identity]*patientEntry
	order         []model.Identity // registration order
	approved      map[model.Identity]bool
	centerConsent map[pair]bool
	doctorConsent map[pair]bool
	records       map[model.Identity]model.PatientRecord
	reviews       map[model.Identity][]model.DoctorReview
	events        []model.AuditEvent // events[i].Seq == i+1
}

// Store implements repository.Store in memory.
type Store struct {
	gate  sync.RWMutex
	locks keyedMutex

	mu sync.RWMutex
	st state
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		locks: keyedMutex{m: make(map[model.Identity]*keyedEntry)},
		st: state{
			patients:      make(map[model.Identity]*patientEntry),
			approved:      make(map[model.Identity]bool),
			centerConsent: make(map[pair]bool),
			doctorConsent: make(map[pair]bool),
			records:       make(map[model.Identity]model.PatientRecord),
			reviews:       make(map[model.Identity][]model.DoctorReview),
		},
	}
}

// UpdatePatient runs fn under the patient's lock and the shared gate.
func (s *Store) UpdatePatient(ctx context.Context, patient model.Identity, fn func(repository.Tx) error) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	unlock := s.locks.Lock(patient)
	defer unlock()
	return s.run(ctx, fn)
}

// UpdateGlobal runs fn with the gate held exclusively.
func (s *Store) UpdateGlobal(ctx context.Context, fn func(repository.Tx) error) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.run(ctx, fn)
}

// View runs fn while holding the state read lock for its whole duration.
func (s *Store) View(ctx context.Context, fn func(repository.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{s: s, held: true})
}

func (s *Store) run(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{s: s}
	if err := fn(t); err != nil {
		return err
	}
	s.mu.Lock()
	for _, op := range t.ops {
		op(&s.st)
	}
	s.mu.Unlock()
	return nil
}

type tx struct {
	s    *Store
	held bool
	ops  []func(*state)
}

func (t *tx) read(fn func(*state)) {
	if !t.held {
		t.s.mu.RLock()
		defer t.s.mu.RUnlock()
	}
	fn(&t.s.st)
}

func (t *tx) stage(op func(*state)) error {
	t.ops = append(t.ops, op)
	return nil
}

func (t *tx) IsInitialized(_ context.Context, id model.Identity) (ok bool, _ error) {
	t.read(func(st *state) { _, ok = st.patients[id] })
	return ok, nil
}

func (t *tx) CenterApproved(_ context.Context, center model.Identity) (ok bool, _ error) {
	t.read(func(st *state) { ok = st.approved[center] })
	return ok, nil
}

func (t *tx) CenterConsent(_ context.Context, patient, center model.Identity) (ok bool, _ error) {
	t.read(func(st *state) { ok = st.centerConsent[pair{patient, center}] })
	return ok, nil
}

func (t *tx) DoctorConsent(_ context.Context, patient, doctor model.Identity) (ok bool, _ error) {
	t.read(func(st *state) { ok = st.doctorConsent[pair{patient, doctor}] })
	return ok, nil
}

func (t *tx) DataSharing(_ context.Context, patient model.Identity) (ok bool, _ error) {
	t.read(func(st *state) {
		if p := st.patients[patient]; p != nil {
			ok = p.sharing
		}
	})
	return ok, nil
}

func (t *tx) GetRecord(_ context.Context, patient model.Identity) (*model.PatientRecord, error) {
	var (
		rec model.PatientRecord
		ok  bool
	)
	t.read(func(st *state) { rec, ok = st.records[patient] })
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

func (t *tx) Reviews(_ context.Context, patient model.Identity) (out []model.DoctorReview, _ error) {
	t.read(func(st *state) { out = append([]model.DoctorReview(nil), st.reviews[patient]...) })
	return out, nil
}

func (t *tx) SharedRecords(_ context.Context) (out []model.PatientRecord, _ error) {
	t.read(func(st *state) {
		for _, id := range st.order {
			if !st.patients[id].sharing {
				continue
			}
			if rec, ok := st.records[id]; ok {
				out = append(out, rec)
			}
		}
	})
	return out, nil
}

func (t *tx) EventsSince(_ context.Context, since int64, limit int) (out []model.AuditEvent, _ error) {
	t.read(func(st *state) {
		if since < 0 {
			since = 0
		}
		if since >= int64(len(st.events)) {
			return
		}
		tail := st.events[since:]
		if limit > 0 && len(tail) > limit {
			tail = tail[:limit]
		}
		out = make([]model.AuditEvent, 0, len(tail))
		for _, ev := range tail {
			out = append(out, cloneEvent(ev))
		}
	})
	return out, nil
}

func (t *tx) InitializePatient(_ context.Context, id model.Identity, at time.Time) error {
	return t.stage(func(st *state) {
		if _, ok := st.patients[id]; ok {
			return
		}
		st.patients[id] = &patientEntry{initializedAt: at}
		st.order = append(st.order, id)
	})
}

func (t *tx) SetCenterApproved(_ context.Context, center model.Identity, approved bool) error {
	return t.stage(func(st *state) { st.approved[center] = approved })
}

func (t *tx) SetCenterConsent(_ context.Context, patient, center model.Identity, granted bool) error {
	return t.stage(func(st *state) { setBit(st.centerConsent, pair{patient, center}, granted) })
}

func (t *tx) SetDoctorConsent(_ context.Context, patient, doctor model.Identity, granted bool) error {
	return t.stage(func(st *state) { setBit(st.doctorConsent, pair{patient, doctor}, granted) })
}

func (t *tx) SetDataSharing(_ context.Context, patient model.Identity, enabled bool) error {
	return t.stage(func(st *state) {
		if p := st.patients[patient]; p != nil {
			p.sharing = enabled
		}
	})
}

func (t *tx) PutRecord(_ context.Context, rec model.PatientRecord) error {
	return t.stage(func(st *state) { st.records[rec.Patient] = rec })
}

func (t *tx) AppendReview(_ context.Context, r model.DoctorReview) error {
	return t.stage(func(st *state) { st.reviews[r.Patient] = append(st.reviews[r.Patient], r) })
}

func (t *tx) AppendEvent(_ context.Context, ev model.AuditEvent) error {
	ev = cloneEvent(ev)
	return t.stage(func(st *state) {
		ev.Seq = int64(len(st.events)) + 1
		st.events = append(st.events, ev)
	})
}

// setBit keeps absent and false equivalent by deleting revoked grants.
func setBit(m map[pair]bool, k pair, v bool) {
	if v {
		m[k] = true
		return
	}
	delete(m, k)
}

func cloneEvent(ev model.AuditEvent) model.AuditEvent {
	if ev.Record != nil {
		rec := *ev.Record
		ev.Record = &rec
	}
	if ev.Review != nil {
		r := *ev.Review
		ev.Review = &r
	}
	return ev
}

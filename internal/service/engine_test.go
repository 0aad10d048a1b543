package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/metrics"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
	"github.com/and161185/medgate/internal/repository/memory"
)

func newID() model.Identity { return uuid.Must(uuid.NewV4()) }

type fixture struct {
	eng    *Engine
	owner  model.Identity
	clock  *fakeClock
	ctx    context.Context
	metric *metrics.Metrics
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := metrics.New(prometheus.NewRegistry())
	owner := newID()
	eng := NewEngine(memory.New(), owner,
		WithClock(clk.Now),
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(m),
	)
	return &fixture{eng: eng, owner: owner, clock: clk, ctx: context.Background(), metric: m}
}

func (f *fixture) patient(t *testing.T) model.Identity {
	t.Helper()
	p := newID()
	if err := f.eng.Initialize(f.ctx, p); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return p
}

// center returns a health center fully authorized for patient.
func (f *fixture) center(t *testing.T, patient model.Identity) model.Identity {
	t.Helper()
	c := newID()
	if err := f.eng.SetHealthCenterAllowlist(f.ctx, f.owner, c, true); err != nil {
		t.Fatalf("allowlist: %v", err)
	}
	if err := f.eng.GrantHealthCenter(f.ctx, patient, c); err != nil {
		t.Fatalf("grant center: %v", err)
	}
	return c
}

func (f *fixture) doctor(t *testing.T, patient model.Identity) model.Identity {
	t.Helper()
	d := newID()
	if err := f.eng.GrantDoctor(f.ctx, patient, d); err != nil {
		t.Fatalf("grant doctor: %v", err)
	}
	return d
}

func fields(name string) model.RecordFields {
	return model.RecordFields{
		Name:               name,
		DateOfBirth:        631152000,
		Gender:             "M",
		ContactInfoHash:    "0xabc",
		MedicalRecordHash:  "rec0",
		CurrentMedications: "none",
		Allergies:          "none",
		BloodType:          "O+",
	}
}

func TestInitialize_Once(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := newID()

	ok, err := f.eng.IsInitialized(f.ctx, p)
	if err != nil || ok {
		t.Fatalf("fresh identity: ok=%v err=%v", ok, err)
	}
	if err := f.eng.Initialize(f.ctx, p); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.eng.Initialize(f.ctx, p); !errors.Is(err, errs.ErrAlreadyInitialized) {
			t.Fatalf("repeat %d: want ErrAlreadyInitialized, got %v", i, err)
		}
	}
	ok, _ = f.eng.IsInitialized(f.ctx, p)
	if !ok {
		t.Fatalf("want initialized")
	}
}

func TestValidation_RejectedBeforeState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)

	if err := f.eng.Initialize(f.ctx, model.NilIdentity); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("nil caller: %v", err)
	}
	if _, err := f.eng.AddRecord(f.ctx, p, p, model.RecordFields{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("empty name: %v", err)
	}
	long := fields("x")
	long.Allergies = strings.Repeat("a", 1025)
	if _, err := f.eng.AddRecord(f.ctx, p, p, long); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("long field: %v", err)
	}
	d := f.doctor(t, p)
	if _, err := f.eng.AddReview(f.ctx, d, p, ""); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("empty review: %v", err)
	}
	if _, err := f.eng.AddReview(f.ctx, d, p, strings.Repeat("r", 4097)); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("long review: %v", err)
	}
	if _, err := f.eng.ListEvents(f.ctx, -1, 10); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("negative since: %v", err)
	}

	if _, err := f.eng.GetRecord(f.ctx, p, p); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("no record must exist: %v", err)
	}
}

func TestAddRecord_UninitializedAlwaysNotInitialized(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := newID()

	callers := []model.Identity{p, f.owner, newID()}
	for _, c := range callers {
		if _, err := f.eng.AddRecord(f.ctx, c, p, fields("x")); !errors.Is(err, errs.ErrNotInitialized) {
			t.Fatalf("caller %s: want ErrNotInitialized, got %v", c, err)
		}
	}
}

func TestDecisionTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		action Action
		role   Role
		want   bool
	}{
		{ActionSetAllowlist, RoleOwner, true},
		{ActionSetAllowlist, RoleSelf, false},
		{ActionAddRecord, RoleOwner, false},
		{ActionAddRecord, RoleSelf, true},
		{ActionAddRecord, RoleDoctor, true},
		{ActionAddRecord, RoleHealthCenter, true},
		{ActionGetRecord, RoleOwner, false},
		{ActionSetDataSharing, RoleSelf, true},
		{ActionSetDataSharing, RoleDoctor, false},
		{ActionAddReview, RoleDoctor, true},
		{ActionAddReview, RoleSelf, false},
		{ActionAddReview, RoleHealthCenter, false},
		{ActionGetReviews, RoleSelf, true},
		{ActionGetReviews, RoleHealthCenter, true},
	}
	for _, c := range cases {
		if got := Allows(c.action, c.role); got != c.want {
			t.Fatalf("Allows(%s, %b) = %v, want %v", c.action, c.role, got, c.want)
		}
	}
}

func TestAllowlist_OwnerOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := newID()

	err := f.eng.SetHealthCenterAllowlist(f.ctx, newID(), c, true)
	if !errors.Is(err, errs.ErrNotOwner) || !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("want ErrNotOwner wrapping ErrNotAuthorized, got %v", err)
	}
	if err := f.eng.SetHealthCenterAllowlist(f.ctx, f.owner, c, true); err != nil {
		t.Fatalf("owner: %v", err)
	}
	if got := testutil.ToFloat64(f.metric.Decisions.WithLabelValues(string(ActionSetAllowlist), "denied")); got != 1 {
		t.Fatalf("denied decisions: %v", got)
	}
}

func TestDualGate_TruthTable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)
	if _, err := f.eng.AddRecord(f.ctx, p, p, fields("P")); err != nil {
		t.Fatalf("add: %v", err)
	}
	c := newID()

	for _, tc := range []struct{ approved, consent bool }{
		{false, false}, {true, false}, {false, true}, {true, true}, {false, true}, {true, false},
	} {
		if err := f.eng.SetHealthCenterAllowlist(f.ctx, f.owner, c, tc.approved); err != nil {
			t.Fatalf("allowlist: %v", err)
		}
		if err := f.eng.SetHealthCenterConsent(f.ctx, p, c, tc.consent); err != nil {
			t.Fatalf("consent: %v", err)
		}
		want := tc.approved && tc.consent

		got, err := f.eng.IsHealthCenterAuthorized(f.ctx, p, c)
		if err != nil || got != want {
			t.Fatalf("approved=%v consent=%v: got %v err %v", tc.approved, tc.consent, got, err)
		}
		_, err = f.eng.GetRecord(f.ctx, c, p)
		if want && err != nil {
			t.Fatalf("approved=%v consent=%v: getRecord: %v", tc.approved, tc.consent, err)
		}
		if !want && !errors.Is(err, errs.ErrNotAuthorized) {
			t.Fatalf("approved=%v consent=%v: want ErrNotAuthorized, got %v", tc.approved, tc.consent, err)
		}
	}
}

func TestConsent_RequiresInitializedCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	stranger := newID()

	if err := f.eng.GrantDoctor(f.ctx, stranger, newID()); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("grant doctor: %v", err)
	}
	if err := f.eng.GrantHealthCenter(f.ctx, stranger, newID()); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("grant center: %v", err)
	}
}

func TestDoctorRevoke_LaterCallsDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)
	d := f.doctor(t, p)

	if _, err := f.eng.AddRecord(f.ctx, d, p, fields("P")); err != nil {
		t.Fatalf("doctor add: %v", err)
	}
	if _, err := f.eng.AddReview(f.ctx, d, p, "looks fine"); err != nil {
		t.Fatalf("review: %v", err)
	}
	if err := f.eng.RevokeDoctor(f.ctx, p, d); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := f.eng.IsDoctorAuthorized(f.ctx, p, d); ok {
		t.Fatalf("revoked doctor still authorized")
	}
	if _, err := f.eng.GetRecord(f.ctx, d, p); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("get after revoke: %v", err)
	}
	if _, err := f.eng.AddReview(f.ctx, d, p, "again"); !errors.Is(err, errs.ErrDoctorNotConsented) {
		t.Fatalf("review after revoke: %v", err)
	}

	rec, err := f.eng.GetRecord(f.ctx, p, p)
	if err != nil || rec.Name != "P" {
		t.Fatalf("record must survive revoke: %+v %v", rec, err)
	}
	rvs, err := f.eng.GetReviews(f.ctx, p, p)
	if err != nil || len(rvs) != 1 || rvs[0].Text != "looks fine" {
		t.Fatalf("reviews must survive revoke: %+v %v", rvs, err)
	}
}

func TestAddRecord_DuplicateLeavesRecordUnchanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)

	first, err := f.eng.AddRecord(f.ctx, p, p, fields("First"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.eng.AddRecord(f.ctx, p, p, fields("Second")); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
	got, err := f.eng.GetRecord(f.ctx, p, p)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PatientRecord != *first {
		t.Fatalf("record changed:\n got %+v\nwant %+v", got.PatientRecord, *first)
	}
}

func TestUpdateRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)
	u := model.RecordUpdate{MedicalRecordHash: "rec1", CurrentMedications: "aspirin", Allergies: "nuts"}

	if _, err := f.eng.UpdateRecord(f.ctx, p, p, u); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("no record: want ErrNotFound, got %v", err)
	}
	orig, err := f.eng.AddRecord(f.ctx, p, p, fields("P"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.eng.UpdateRecord(f.ctx, newID(), p, u); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("stranger: %v", err)
	}
	upd, err := f.eng.UpdateRecord(f.ctx, p, p, u)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.MedicalRecordHash != "rec1" || upd.Allergies != "nuts" || upd.CurrentMedications != "aspirin" {
		t.Fatalf("mutable fields not applied: %+v", upd)
	}
	if upd.Name != orig.Name || upd.BloodType != orig.BloodType || !upd.CreatedAt.Equal(orig.CreatedAt) {
		t.Fatalf("fixed fields changed: %+v", upd)
	}
	if !upd.LastUpdated.After(orig.LastUpdated) {
		t.Fatalf("lastUpdated not bumped")
	}
}

func TestGetRecord_UnauthorizedBeforeNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)

	if _, err := f.eng.GetRecord(f.ctx, newID(), p); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("want ErrNotAuthorized, got %v", err)
	}
	if _, err := f.eng.GetRecord(f.ctx, f.owner, p); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("owner has no record access, got %v", err)
	}
}

func TestSetDataSharing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)
	d := f.doctor(t, p)

	if err := f.eng.SetDataSharing(f.ctx, newID(), model.NilIdentity, true); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("uninitialized caller: %v", err)
	}
	if err := f.eng.SetDataSharing(f.ctx, d, p, true); !errors.Is(err, errs.ErrNotSelf) {
		t.Fatalf("doctor: want ErrNotSelf, got %v", err)
	}
	if err := f.eng.SetDataSharing(f.ctx, p, model.NilIdentity, true); err != nil {
		t.Fatalf("self: %v", err)
	}
	on, err := f.eng.GetDataSharing(f.ctx, p)
	if err != nil || !on {
		t.Fatalf("sharing: %v %v", on, err)
	}
}

func TestGetReviews_Access(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)
	d := f.doctor(t, p)
	c := f.center(t, p)

	for _, text := range []string{"a", "b", "c"} {
		if _, err := f.eng.AddReview(f.ctx, d, p, text); err != nil {
			t.Fatalf("review %q: %v", text, err)
		}
	}
	if _, err := f.eng.AddReview(f.ctx, c, p, "center"); !errors.Is(err, errs.ErrDoctorNotConsented) {
		t.Fatalf("center review: %v", err)
	}
	for _, caller := range []model.Identity{p, d, c} {
		rvs, err := f.eng.GetReviews(f.ctx, caller, p)
		if err != nil {
			t.Fatalf("reviews: %v", err)
		}
		if len(rvs) != 3 || rvs[0].Text != "a" || rvs[2].Text != "c" || rvs[1].Doctor != d {
			t.Fatalf("append order broken: %+v", rvs)
		}
	}
	if _, err := f.eng.GetReviews(f.ctx, newID(), p); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("stranger: %v", err)
	}
}

func TestAddRecord_ConcurrentExactlyOneWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)
	d := f.doctor(t, p)
	c := f.center(t, p)

	const n = 16
	callers := []model.Identity{p, d, c}
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.eng.AddRecord(f.ctx, callers[i%len(callers)], p, fields("racer"))
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Fatalf("ok=%d dup=%d", ok, dup)
	}
}

func TestEvents_OnePerMutation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.patient(t)
	d := f.doctor(t, p)
	c := f.center(t, p)
	if _, err := f.eng.AddRecord(f.ctx, c, p, fields("P")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.eng.UpdateRecord(f.ctx, d, p, model.RecordUpdate{MedicalRecordHash: "h"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := f.eng.SetDataSharing(f.ctx, p, p, true); err != nil {
		t.Fatalf("share: %v", err)
	}
	if _, err := f.eng.AddReview(f.ctx, d, p, "ok"); err != nil {
		t.Fatalf("review: %v", err)
	}
	// failures emit nothing
	_ = f.eng.Initialize(f.ctx, p)
	_, _ = f.eng.AddRecord(f.ctx, p, p, fields("dup"))

	evs, err := f.eng.ListEvents(f.ctx, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []model.EventKind{
		model.EventPatientInitialized,
		model.EventDoctorAuthorizationChanged,
		model.EventHealthCenterAllowlistChanged,
		model.EventHealthCenterAuthorizationChanged,
		model.EventRecordAdded,
		model.EventRecordUpdated,
		model.EventDataSharingChanged,
		model.EventReviewAdded,
	}
	if len(evs) != len(want) {
		t.Fatalf("got %d events, want %d", len(evs), len(want))
	}
	for i, ev := range evs {
		if ev.Kind != want[i] || ev.Seq != int64(i+1) {
			t.Fatalf("event %d: kind=%s seq=%d", i, ev.Kind, ev.Seq)
		}
	}
	if evs[2].Subject != c || !evs[2].Flag || evs[2].Actor != f.owner {
		t.Fatalf("allowlist event: %+v", evs[2])
	}
	if evs[4].Record == nil || evs[4].Record.Name != "P" || evs[4].Actor != c {
		t.Fatalf("record event: %+v", evs[4])
	}
	if evs[5].Record == nil || evs[5].Record.MedicalRecordHash != "h" {
		t.Fatalf("update event: %+v", evs[5])
	}
	if evs[7].Review == nil || evs[7].Review.Text != "ok" || evs[7].Subject != d {
		t.Fatalf("review event: %+v", evs[7])
	}

	page, err := f.eng.ListEvents(f.ctx, 6, 1)
	if err != nil || len(page) != 1 || page[0].Seq != 7 {
		t.Fatalf("paging: %+v %v", page, err)
	}
}

type failingStore struct{ err error }

func (s failingStore) UpdatePatient(context.Context, model.Identity, func(repository.Tx) error) error {
	return s.err
}
func (s failingStore) UpdateGlobal(context.Context, func(repository.Tx) error) error { return s.err }
func (s failingStore) View(context.Context, func(repository.Reader) error) error    { return s.err }

func TestEngine_PropagatesStoreErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	eng := NewEngine(failingStore{err: boom}, newID())
	ctx := context.Background()
	p := newID()

	if err := eng.Initialize(ctx, p); !errors.Is(err, boom) {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := eng.GetRecord(ctx, p, p); !errors.Is(err, boom) {
		t.Fatalf("get: %v", err)
	}
	if _, err := eng.ListPublicRecords(ctx); !errors.Is(err, boom) {
		t.Fatalf("public: %v", err)
	}
	if _, err := eng.ListEvents(ctx, 0, 5); !errors.Is(err, boom) {
		t.Fatalf("events: %v", err)
	}
}

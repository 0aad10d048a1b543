// Package service contains the authorization and record lifecycle engine.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/metrics"
	"github.com/and161185/medgate/internal/model"
	"github.com/and161185/medgate/internal/repository"
)

// Registry tracks which identities are patients.
type Registry interface {
	// Initialize registers caller as a patient.
	Initialize(ctx context.Context, caller model.Identity) error
	// IsInitialized reports whether id is a registered patient.
	IsInitialized(ctx context.Context, id model.Identity) (bool, error)
}

// Authorizer owns the allow-list and the two consent relations.
type Authorizer interface {
	// SetHealthCenterAllowlist sets the platform approval of center. Owner only.
	SetHealthCenterAllowlist(ctx context.Context, caller, center model.Identity, approved bool) error
	// SetHealthCenterConsent sets caller's consent bit for center.
	SetHealthCenterConsent(ctx context.Context, caller, center model.Identity, granted bool) error
	// SetDoctorConsent sets caller's consent bit for doctor.
	SetDoctorConsent(ctx context.Context, caller, doctor model.Identity, granted bool) error
	// IsHealthCenterAuthorized evaluates the dual gate.
	IsHealthCenterAuthorized(ctx context.Context, patient, center model.Identity) (bool, error)
	// IsDoctorAuthorized evaluates the doctor consent bit.
	IsDoctorAuthorized(ctx context.Context, patient, doctor model.Identity) (bool, error)
}

// Records manages the single record of each patient.
type Records interface {
	AddRecord(ctx context.Context, caller, patient model.Identity, f model.RecordFields) (*model.PatientRecord, error)
	UpdateRecord(ctx context.Context, caller, patient model.Identity, u model.RecordUpdate) (*model.PatientRecord, error)
	GetRecord(ctx context.Context, caller, patient model.Identity) (*model.SensitiveRecord, error)
	ListPublicRecords(ctx context.Context) ([]model.PatientRecord, error)
}

// Sharing manages the public sharing flag.
type Sharing interface {
	SetDataSharing(ctx context.Context, caller, patient model.Identity, enabled bool) error
	GetDataSharing(ctx context.Context, patient model.Identity) (bool, error)
}

// Reviews manages the doctor review log.
type Reviews interface {
	AddReview(ctx context.Context, caller, patient model.Identity, text string) (*model.DoctorReview, error)
	GetReviews(ctx context.Context, caller, patient model.Identity) ([]model.DoctorReview, error)
}

// AuditLog exposes the change feed.
type AuditLog interface {
	// ListEvents returns up to limit events with Seq > since.
	ListEvents(ctx context.Context, since int64, limit int) ([]model.AuditEvent, error)
}

// Service is the complete operation surface consumed by transports.
type Service interface {
	Registry
	Authorizer
	Records
	Sharing
	Reviews
	AuditLog
}

// Engine implements Service over a repository.Store.
type Engine struct {
	store    repository.Store
	owner    model.Identity
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

var _ Service = (*Engine)(nil)

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics enables decision metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine constructs the engine. owner is fixed for the engine's lifetime.
func NewEngine(store repository.Store, owner model.Identity, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		owner:    owner,
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.NewNop(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Owner returns the platform owner identity.
func (e *Engine) Owner() model.Identity { return e.owner }

func requireIdentities(ids ...model.Identity) error {
	for _, id := range ids {
		if id == model.NilIdentity {
			return fmt.Errorf("%w: empty identity", errs.ErrInvalidArgument)
		}
	}
	return nil
}

func (e *Engine) validateStruct(v any) error {
	if err := e.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return nil
}

// newEvent stamps a fresh audit event; the store assigns Seq.
func newEvent(kind model.EventKind, actor, patient model.Identity, at time.Time) model.AuditEvent {
	return model.AuditEvent{
		ID:         uuid.Must(uuid.NewV4()),
		Kind:       kind,
		Actor:      actor,
		Patient:    patient,
		OccurredAt: at,
	}
}

// requireInitialized fails with ErrNotInitialized unless patient is registered.
func requireInitialized(ctx context.Context, r repository.Reader, patient model.Identity) error {
	ok, err := r.IsInitialized(ctx, patient)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotInitialized
	}
	return nil
}

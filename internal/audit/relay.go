package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/medgate/internal/metrics"
	"github.com/and161185/medgate/internal/model"
)

// Source pages the audit log.
type Source interface {
	ListEvents(ctx context.Context, since int64, limit int) ([]model.AuditEvent, error)
}

// Relay tails Source and forwards every event to a Sink. Delivery is
// at-least-once: the cursor is saved only after the events up to it were published.
type Relay struct {
	src      Source
	sink     Sink
	interval time.Duration
	batch    int
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// RelayOption customizes a Relay.
type RelayOption func(*Relay)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }

// WithBatch sets the page size.
func WithBatch(n int) RelayOption { return func(r *Relay) { r.batch = n } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RelayOption { return func(r *Relay) { r.log = l } }

// WithMetrics enables relay metrics.
func WithMetrics(m *metrics.Metrics) RelayOption { return func(r *Relay) { r.metrics = m } }

// NewRelay constructs a relay with a 1s interval and 100-event batches.
func NewRelay(src Source, sink Sink, opts ...RelayOption) *Relay {
	r := &Relay{
		src:      src,
		sink:     sink,
		interval: time.Second,
		batch:    100,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.batch <= 0 {
		r.batch = 100
	}
	return r
}

// Run polls until ctx is done. Errors are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		// drain everything available before sleeping
		for {
			n, err := r.Step(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("audit relay step failed", zap.Error(err))
				}
				break
			}
			if n < r.batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Step forwards at most one batch and returns the number of events published.
// A publish failure stops the batch; events before it keep their progress.
func (r *Relay) Step(ctx context.Context) (int, error) {
	cursor, err := r.sink.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	evs, err := r.src.ListEvents(ctx, cursor, r.batch)
	if err != nil {
		return 0, err
	}

	var (
		n       int
		pubErr  error
		reached = cursor
	)
	for _, ev := range evs {
		pubErr = r.sink.Publish(ctx, ev)
		r.metrics.ObservePublish(ev.Seq, pubErr)
		if pubErr != nil {
			break
		}
		reached = ev.Seq
		n++
	}
	if reached != cursor {
		if err := r.sink.SaveCursor(ctx, reached); err != nil {
			return n, err
		}
		r.log.Debug("audit relay advanced", zap.Int64("cursor", reached), zap.Int("published", n))
	}
	return n, pubErr
}

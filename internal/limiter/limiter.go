// Package limiter implements per-caller request rate limiting.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/and161185/medgate/internal/model"
)

// Limiter decides whether the caller identified by key may proceed now.
type Limiter interface {
	// Allow reports whether the request may proceed and, if not, when to retry.
	Allow(key string) (bool, time.Duration)
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Buckets keeps one token bucket per key. Buckets idle for longer than the
// idle timeout are dropped by Sweep.
type Buckets struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time
	m     map[string]*bucket
}

var _ Limiter = (*Buckets)(nil)

// Option customizes Buckets.
type Option func(*Buckets)

// WithIdle sets how long an unused bucket is kept.
func WithIdle(d time.Duration) Option { return func(b *Buckets) { b.idle = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(b *Buckets) { b.now = now } }

// New builds a limiter refilling rps tokens per second up to burst.
// rps <= 0 disables limiting.
func New(rps float64, burst int, opts ...Option) *Buckets {
	b := &Buckets{
		limit: rate.Limit(rps),
		burst: burst,
		idle:  10 * time.Minute,
		now:   time.Now,
		m:     make(map[string]*bucket),
	}
	if rps <= 0 {
		b.limit = rate.Inf
	}
	if b.burst <= 0 {
		b.burst = 1
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow takes one token from key's bucket.
func (b *Buckets) Allow(key string) (bool, time.Duration) {
	if b.limit == rate.Inf {
		return true, 0
	}
	now := b.now()

	b.mu.Lock()
	bk, ok := b.m[key]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(b.limit, b.burst)}
		b.m[key] = bk
	}
	bk.seen = now
	b.mu.Unlock()

	r := bk.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep drops idle buckets and returns how many were removed.
func (b *Buckets) Sweep() int {
	cutoff := b.now().Add(-b.idle)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, bk := range b.m {
		if bk.seen.Before(cutoff) {
			delete(b.m, k)
			n++
		}
	}
	return n
}

// Len returns the number of live buckets.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// Run sweeps every interval until ctx is done.
func (b *Buckets) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.Sweep()
		}
	}
}

// IdentityKey keys authenticated callers.
func IdentityKey(id model.Identity) string { return "id:" + id.String() }

// PeerKey keys anonymous callers by a hash of their address, so raw IPs are never kept.
func PeerKey(ip string) string {
	h := sha256.Sum256([]byte(ip))
	return "ip:" + hex.EncodeToString(h[:8])
}

// RetrySeconds rounds d up to whole seconds, at least 1, for Retry-After headers.
func RetrySeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

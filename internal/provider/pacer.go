package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so pacing can be tested deterministically.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pacer enforces a minimum spacing of one minute / perMinute between calls.
// A call that arrives early suspends until its slot. Each provider owns one.
type Pacer struct {
	limiter   *rate.Limiter
	clock     Clock
	perMinute int

	mu    sync.Mutex
	count int64
	last  time.Time
}

// NewPacer creates a pacer for perMinute requests. Non-positive disables pacing.
func NewPacer(perMinute int, clock Clock) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Pacer{
		limiter:   rate.NewLimiter(limit, 1),
		clock:     clock,
		perMinute: perMinute,
	}
}

// MinInterval is the enforced spacing between requests.
func (p *Pacer) MinInterval() time.Duration {
	if p.perMinute <= 0 {
		return 0
	}
	return time.Minute / time.Duration(p.perMinute)
}

// Wait blocks until the next request slot, then records the request.
func (p *Pacer) Wait(ctx context.Context) error {
	now := p.clock.Now()
	res := p.limiter.ReserveN(now, 1)
	if !res.OK() {
		return fail(ErrRateLimited, "pacer cannot grant a slot")
	}
	if delay := res.DelayFrom(now); delay > 0 {
		if err := p.clock.Sleep(ctx, delay); err != nil {
			res.CancelAt(p.clock.Now())
			return fail(ErrUnavailable, "waiting for rate slot: %v", err)
		}
	}

	p.mu.Lock()
	p.count++
	p.last = p.clock.Now()
	p.mu.Unlock()
	return nil
}

// Snapshot returns the request count and time of the last request.
func (p *Pacer) Snapshot() (int64, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, p.last
}

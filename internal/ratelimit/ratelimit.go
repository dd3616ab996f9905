// Package ratelimit spaces outbound extraction calls so that consecutive
// grants are at least a minimum interval apart, plus random jitter.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Default spacing between upstream calls.
const (
	DefaultInterval  = 2 * time.Second
	DefaultJitterMin = 100 * time.Millisecond
	DefaultJitterMax = time.Second
)

// Limiter hands out permission to make one upstream call at a time.
// It is safe for concurrent use; waiters are granted in reservation order.
type Limiter struct {
	interval  time.Duration
	jitterMin time.Duration
	jitterMax time.Duration

	mu   sync.Mutex
	next time.Time // earliest grant for the next caller
	now  func() time.Time
}

// New returns a limiter. When jitterMax <= jitterMin the jitter is fixed at
// jitterMin.
func New(interval, jitterMin, jitterMax time.Duration) *Limiter {
	if interval < 0 {
		interval = 0
	}
	if jitterMin < 0 {
		jitterMin = 0
	}
	return &Limiter{
		interval:  interval,
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		now:       time.Now,
	}
}

// Acquire blocks until the caller may proceed or ctx is done. A cancelled
// waiter gives its slot back if nobody reserved after it.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now, grant, after := l.reserve()
	delay := grant.Sub(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.release(grant, after)
		return ctx.Err()
	}
}

// reserve claims the next slot. The slot after it starts interval plus
// jitter later, so grants never come closer than interval.
func (l *Limiter) reserve() (now, grant, after time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now = l.now()
	grant = now
	if l.next.After(grant) {
		grant = l.next
	}
	l.next = grant.Add(l.interval + l.jitter())
	return now, grant, l.next
}

func (l *Limiter) release(grant, after time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next.Equal(after) {
		l.next = grant
	}
}

func (l *Limiter) jitter() time.Duration {
	if l.jitterMax <= l.jitterMin {
		return l.jitterMin
	}
	return l.jitterMin + rand.N(l.jitterMax-l.jitterMin+1)
}

// Package progress tracks long-running operations so pollers can read their
// state while a worker updates it.
package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how long terminal records survive before Sweep drops them.
const DefaultRetention = 10 * time.Minute

// Status is the lifecycle state of an operation.
type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool { return s == Completed || s == Failed }

// Record is an immutable snapshot of one operation.
type Record struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Percent    float64   `json:"percent"`
	BytesDone  int64     `json:"bytes_done"`
	BytesTotal int64     `json:"bytes_total,omitempty"`
	Error      string    `json:"error,omitempty"`
	Location   string    `json:"location,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Delta is a partial update. Zero fields leave the record unchanged.
type Delta struct {
	Percent    float64
	BytesDone  int64
	BytesTotal int64
}

// ErrUnknown is returned for IDs the tracker does not hold.
var ErrUnknown = errors.New("unknown operation")

type entry struct {
	mu  sync.Mutex // serializes writers; readers use the pointer
	rec atomic.Pointer[Record]
}

// Tracker is safe for concurrent use.
type Tracker struct {
	entries   sync.Map // id -> *entry
	retention time.Duration
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// New creates a tracker. A retention of zero or less uses DefaultRetention.
func New(retention time.Duration, opts ...Option) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	t := &Tracker{retention: retention, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewID returns a fresh operation ID.
func NewID() string { return uuid.NewString() }

// Start records id as queued. Starting an existing id resets it.
func (t *Tracker) Start(id string) Record {
	now := t.now()
	rec := &Record{ID: id, Status: Queued, StartedAt: now, UpdatedAt: now}
	e := &entry{}
	e.rec.Store(rec)
	t.entries.Store(id, e)
	return *rec
}

// Update merges d into the record and moves it to running.
// Updates to terminal records are ignored.
func (t *Tracker) Update(id string, d Delta) error {
	return t.mutate(id, func(r *Record) bool {
		if r.Status.Terminal() {
			return false
		}
		r.Status = Running
		if d.BytesTotal > 0 {
			r.BytesTotal = d.BytesTotal
		}
		if d.BytesDone > 0 {
			r.BytesDone = d.BytesDone
		}
		switch {
		case d.Percent > 0:
			r.Percent = min(d.Percent, 100)
		case r.BytesTotal > 0:
			r.Percent = min(float64(r.BytesDone)*100/float64(r.BytesTotal), 100)
		}
		return true
	})
}

// Finish sets the terminal state: failed when err is non-nil, otherwise
// completed with the result location. The first terminal state wins.
func (t *Tracker) Finish(id, location string, err error) error {
	return t.mutate(id, func(r *Record) bool {
		if r.Status.Terminal() {
			return false
		}
		if err != nil {
			r.Status = Failed
			r.Error = err.Error()
			return true
		}
		r.Status = Completed
		r.Percent = 100
		r.Location = location
		return true
	})
}

// Get returns the latest snapshot. It never blocks on writers.
func (t *Tracker) Get(id string) (Record, bool) {
	v, ok := t.entries.Load(id)
	if !ok {
		return Record{}, false
	}
	return *v.(*entry).rec.Load(), true
}

// Ack removes a terminal record. Records still in flight are kept and
// reported as not acknowledged.
func (t *Tracker) Ack(id string) (bool, error) {
	v, ok := t.entries.Load(id)
	if !ok {
		return false, ErrUnknown
	}
	if !v.(*entry).rec.Load().Status.Terminal() {
		return false, nil
	}
	t.entries.CompareAndDelete(id, v)
	return true, nil
}

// Sweep drops terminal records older than the retention window and returns
// how many were removed.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.retention)
	n := 0
	t.entries.Range(func(k, v any) bool {
		r := v.(*entry).rec.Load()
		if r.Status.Terminal() && r.UpdatedAt.Before(cutoff) {
			if t.entries.CompareAndDelete(k, v) {
				n++
			}
		}
		return true
	})
	return n
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) mutate(id string, fn func(*Record) bool) error {
	v, ok := t.entries.Load(id)
	if !ok {
		return ErrUnknown
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := *e.rec.Load()
	if !fn(&next) {
		return nil
	}
	next.UpdatedAt = t.now()
	e.rec.Store(&next)
	return nil
}

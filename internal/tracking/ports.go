package tracking

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source for the timer. Values returned by time.Now carry
// a monotonic reading, so SystemClock is safe across wall-clock jumps.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to. Used by tests and by the GPX replay
// tool, which drives time from the file's timestamps.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// LocationSource delivers position fixes until ctx is cancelled. The error
// channel carries source-side failures such as a revoked permission; either
// channel may be nil.
type LocationSource interface {
	Subscribe(ctx context.Context, interval, fastest time.Duration) (<-chan Fix, <-chan error, error)
}

// RecordSink durably stores finished activities.
type RecordSink interface {
	Submit(ctx context.Context, rec Record) error
}

// Observer receives tracker notifications. Callbacks run while the tracker
// holds its lock: they must not block and must not call back into the
// tracker.
type Observer interface {
	OnStatus(StatusEvent)
	OnProgress(ProgressEvent)
	OnError(error)
}

// RecordObserver is implemented by observers that also want to know when a
// finished record reached the sink.
type RecordObserver interface {
	OnRecordSaved(Record)
}

type StatusKind string

const (
	StatusStarted StatusKind = "started"
	StatusPaused  StatusKind = "paused"
	StatusResumed StatusKind = "resumed"
	StatusStopped StatusKind = "stopped"
)

type StatusEvent struct {
	Kind       StatusKind `json:"kind"`
	DistanceM  float64    `json:"distance_m"`
	DurationMs int64      `json:"duration_ms"`
	At         time.Time  `json:"at"`
}

type ProgressEvent struct {
	Fix        Fix     `json:"fix"`
	DistanceM  float64 `json:"distance_m"`
	DurationMs int64   `json:"duration_ms"`
}

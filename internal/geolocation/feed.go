package geolocation

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-lifetrack/internal/tracking"
)

var (
	ErrNoSubscriber = errors.New("no active location subscription")
	ErrFeedFull     = errors.New("location feed buffer full")
)

const defaultFeedBuffer = 64

// Feed is a LocationSource fed from outside the process. It carries source
// failures reported by a phone and the cadence the tracker asked for. Push
// never blocks the caller; fixes still buffered when the subscription ends
// are dropped, so acknowledged fixes should go through Tracker.Ingest.
type Feed struct {
	mu     sync.Mutex
	buffer int
	sub    *subscription
}

type subscription struct {
	fixes    chan tracking.Fix
	errs     chan error
	interval time.Duration
	fastest  time.Duration
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	return &Feed{buffer: buffer}
}

// Subscribe replaces any previous subscription. Both channels are closed once
// ctx is done.
func (f *Feed) Subscribe(ctx context.Context, interval, fastest time.Duration) (<-chan tracking.Fix, <-chan error, error) {
	sub := &subscription{
		fixes:    make(chan tracking.Fix, f.buffer),
		errs:     make(chan error, 1),
		interval: interval,
		fastest:  fastest,
	}

	f.mu.Lock()
	if f.sub != nil {
		f.closeLocked(f.sub)
	}
	f.sub = sub
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.sub == sub {
			f.closeLocked(sub)
			f.sub = nil
		}
	}()
	return sub.fixes, sub.errs, nil
}

func (f *Feed) closeLocked(sub *subscription) {
	close(sub.fixes)
	close(sub.errs)
}

func (f *Feed) Push(fix tracking.Fix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return ErrNoSubscriber
	}
	select {
	case f.sub.fixes <- fix:
		return nil
	default:
		return ErrFeedFull
	}
}

// Fail reports a source-side problem such as a denied permission.
func (f *Feed) Fail(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return ErrNoSubscriber
	}
	select {
	case f.sub.errs <- err:
		return nil
	default:
		return ErrFeedFull
	}
}

// Cadence returns the update intervals the current subscriber asked for.
func (f *Feed) Cadence() (interval, fastest time.Duration, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return 0, 0, false
	}
	return f.sub.interval, f.sub.fastest, true
}

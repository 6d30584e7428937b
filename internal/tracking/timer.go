package tracking

import "time"

// Timer accounts for active time: wall time since start minus every paused
// interval, including one that is still open.
type Timer struct {
	startedAt   time.Time
	pausedTotal time.Duration
	pauseBegan  time.Time
	paused      bool
}

func (t *Timer) Reset(now time.Time) {
	t.startedAt = now
	t.pausedTotal = 0
	t.pauseBegan = time.Time{}
	t.paused = false
}

func (t *Timer) BeginPause(now time.Time) error {
	if t.paused {
		return ErrAlreadyPaused
	}
	t.pauseBegan = now
	t.paused = true
	return nil
}

// EndPause folds the open pause into the paused total and returns its length.
func (t *Timer) EndPause(now time.Time) (time.Duration, error) {
	if !t.paused {
		return 0, ErrNotPaused
	}
	gap := now.Sub(t.pauseBegan)
	if gap < 0 {
		gap = 0
	}
	t.pausedTotal += gap
	t.pauseBegan = time.Time{}
	t.paused = false
	return gap, nil
}

func (t *Timer) ElapsedActive(now time.Time) time.Duration {
	if t.startedAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(t.startedAt) - t.pausedTotal
	if t.paused {
		elapsed -= now.Sub(t.pauseBegan)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (t *Timer) Paused() bool { return t.paused }

func (t *Timer) StartedAt() time.Time { return t.startedAt }

func (t *Timer) PausedTotal() time.Duration { return t.pausedTotal }

package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Settings tune a Tracker. A MaxAccuracyM of 0 accepts every fix.
type Settings struct {
	Interval        time.Duration
	FastestInterval time.Duration
	MaxAccuracyM    float64
	SubmitTimeout   time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Interval:        5 * time.Second,
		FastestInterval: 2 * time.Second,
		SubmitTimeout:   10 * time.Second,
	}
}

type Options struct {
	Settings  Settings
	Clock     Clock
	Energy    EnergyModel
	Observers []Observer
	Logger    logrus.FieldLogger
}

// Snapshot is a consistent read of the tracker.
type Snapshot struct {
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	DistanceM  float64   `json:"distance_m"`
	DurationMs int64     `json:"duration_ms"`
	Fixes      []Fix     `json:"fixes"`
	LastFix    *Fix      `json:"last_fix,omitempty"`
}

// Tracker is the run-tracking state machine. One mutex serialises every
// command and every ingested fix; notifications are delivered under it, so
// observers see events in the order the mutations happened.
type Tracker struct {
	mu sync.Mutex

	state  State
	track  Track
	timer  Timer
	final  time.Duration
	closed bool

	// gen changes whenever the fix subscription is replaced or dropped so a
	// late fix from an old subscription is ignored.
	gen         uint64
	unsubscribe context.CancelFunc

	pending []Record
	submits sync.WaitGroup

	source    LocationSource
	sink      RecordSink
	clock     Clock
	energy    EnergyModel
	observers []Observer
	settings  Settings
	log       logrus.FieldLogger
}

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// New builds an idle tracker. source may be nil, in which case fixes only
// arrive through Ingest.
func New(source LocationSource, sink RecordSink, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Energy == nil {
		opts.Energy = LinearEnergyModel{KcalPerKm: DefaultKcalPerKm}
	}
	if opts.Settings.SubmitTimeout <= 0 {
		opts.Settings.SubmitTimeout = DefaultSettings().SubmitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}
	return &Tracker{
		state:     StateIdle,
		source:    source,
		sink:      sink,
		clock:     opts.Clock,
		energy:    opts.Energy,
		observers: opts.Observers,
		settings:  opts.Settings,
		log:       opts.Logger,
	}
}

func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.state != StateIdle && t.state != StateStopped {
		return t.refuseLocked("start")
	}

	now := t.clock.Now()
	t.track.Reset()
	t.timer.Reset(now)
	t.final = 0
	t.state = StateRunning

	subErr := t.subscribeLocked(ctx)

	t.log.WithField("started_at", now).Info("tracking started")
	t.statusLocked(StatusStarted, now)
	if subErr != nil {
		t.errorLocked(subErr)
	}
	return nil
}

func (t *Tracker) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.state != StateRunning {
		return t.refuseLocked("pause")
	}
	now := t.clock.Now()
	if err := t.timer.BeginPause(now); err != nil {
		return err
	}
	t.state = StatePaused

	t.log.Info("tracking paused")
	t.statusLocked(StatusPaused, now)
	return nil
}

func (t *Tracker) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.state != StatePaused {
		return t.refuseLocked("resume")
	}
	now := t.clock.Now()
	gap, err := t.timer.EndPause(now)
	if err != nil {
		return err
	}
	t.state = StateRunning

	t.log.WithField("paused_ms", gap.Milliseconds()).Info("tracking resumed")
	t.statusLocked(StatusResumed, now)
	return nil
}

// Stop ends the session. When at least one fix was recorded the assembled
// record is returned with ok set, and is handed to the sink in the
// background.
func (t *Tracker) Stop() (rec Record, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Record{}, false, ErrClosed
	}
	if t.state != StateRunning && t.state != StatePaused {
		return Record{}, false, t.refuseLocked("stop")
	}

	now := t.clock.Now()
	t.dropSubscriptionLocked()
	t.final = t.timer.ElapsedActive(now)
	t.state = StateStopped

	snap := t.track.Snapshot()
	if len(snap.Fixes) > 0 && !t.timer.StartedAt().IsZero() {
		rec = assembleRecord(t.timer.StartedAt(), snap, t.final, t.energy)
		ok = true
	}

	t.log.WithFields(logrus.Fields{
		"distance_m":  snap.DistanceM,
		"duration_ms": t.final.Milliseconds(),
		"fixes":       len(snap.Fixes),
	}).Info("tracking stopped")
	t.statusLocked(StatusStopped, now)

	if ok {
		t.submitAsync(rec)
	}
	return rec, ok, nil
}

// Ingest feeds one fix. Fixes that arrive while paused are dropped without
// error.
func (t *Tracker) Ingest(fix Fix) error {
	return t.ingest(0, fix)
}

func (t *Tracker) ingest(gen uint64, fix Fix) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != 0 && gen != t.gen {
		return nil
	}
	if t.closed {
		return ErrClosed
	}
	switch t.state {
	case StateRunning:
	case StatePaused:
		t.log.Debug("fix discarded while paused")
		return nil
	default:
		return &TransitionError{Command: "ingest", From: t.state}
	}

	if t.settings.MaxAccuracyM > 0 && fix.Accuracy > t.settings.MaxAccuracyM {
		err := fmt.Errorf("%w: accuracy %.1fm worse than %.1fm", ErrFixRejected, fix.Accuracy, t.settings.MaxAccuracyM)
		t.log.WithField("accuracy_m", fix.Accuracy).Debug("fix rejected")
		t.errorLocked(err)
		return err
	}

	t.track.Append(fix)
	ev := ProgressEvent{
		Fix:        fix,
		DistanceM:  t.track.DistanceM(),
		DurationMs: t.timer.ElapsedActive(t.clock.Now()).Milliseconds(),
	}
	for _, o := range t.observers {
		o.OnProgress(ev)
	}
	return nil
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.track.Snapshot()
	out := Snapshot{
		State:      t.state,
		StartedAt:  t.timer.StartedAt(),
		DistanceM:  snap.DistanceM,
		DurationMs: t.durationLocked(t.clock.Now()).Milliseconds(),
		Fixes:      snap.Fixes,
	}
	if n := len(snap.Fixes); n > 0 {
		last := snap.Fixes[n-1]
		out.LastFix = &last
	}
	return out
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Pending returns records whose submission failed and have not been retried
// successfully yet.
func (t *Tracker) Pending() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.pending))
	copy(out, t.pending)
	return out
}

// RetryPending resubmits failed records synchronously. Records that fail
// again stay pending.
func (t *Tracker) RetryPending(ctx context.Context) error {
	if t.sink == nil {
		return fmt.Errorf("%w: no record sink", ErrPersistenceFailure)
	}
	t.mu.Lock()
	retry := t.pending
	t.pending = nil
	t.mu.Unlock()

	var errs []error
	for _, rec := range retry {
		if err := t.sink.Submit(ctx, rec); err != nil {
			perr := &PersistenceError{Record: rec, Err: err}
			t.mu.Lock()
			t.pending = append(t.pending, rec)
			t.errorLocked(perr)
			t.mu.Unlock()
			errs = append(errs, perr)
			continue
		}
		t.notifySaved(rec)
	}
	return errors.Join(errs...)
}

// Wait blocks until every background submission has finished.
func (t *Tracker) Wait() {
	t.submits.Wait()
}

// Close tears the tracker down: the subscription is released and an
// unfinished session is discarded. Submissions already in flight complete.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.dropSubscriptionLocked()
	if t.state == StateRunning || t.state == StatePaused {
		t.log.WithField("fixes", t.track.Len()).Warn("tracker closed mid-session, track discarded")
	}
	t.track.Reset()
	t.timer = Timer{}
	t.final = 0
	t.state = StateIdle
	t.mu.Unlock()

	t.submits.Wait()
}

func (t *Tracker) subscribeLocked(ctx context.Context) error {
	t.dropSubscriptionLocked()
	if t.source == nil {
		return nil
	}
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fixes, errs, err := t.source.Subscribe(subCtx, t.settings.Interval, t.settings.FastestInterval)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	t.unsubscribe = cancel
	go t.pump(subCtx, t.gen, fixes, errs)
	return nil
}

func (t *Tracker) dropSubscriptionLocked() {
	t.gen++
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
}

func (t *Tracker) pump(ctx context.Context, gen uint64, fixes <-chan Fix, errs <-chan error) {
	for fixes != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				fixes = nil
				continue
			}
			_ = t.ingest(gen, fix)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.mu.Lock()
			if gen == t.gen {
				t.log.WithError(err).Warn("location source error")
				t.errorLocked(fmt.Errorf("%w: %w", ErrLocationUnavailable, err))
			}
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) submitAsync(rec Record) {
	if t.sink == nil {
		t.log.WithField("record_id", rec.ID).Warn("no record sink, record kept pending")
		t.pending = append(t.pending, rec)
		return
	}
	t.submits.Add(1)
	go func() {
		defer t.submits.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.settings.SubmitTimeout)
		defer cancel()

		if err := t.sink.Submit(ctx, rec); err != nil {
			t.log.WithError(err).WithField("record_id", rec.ID).Error("activity record not persisted")
			t.mu.Lock()
			t.pending = append(t.pending, rec)
			t.errorLocked(&PersistenceError{Record: rec, Err: err})
			t.mu.Unlock()
			return
		}
		t.log.WithField("record_id", rec.ID).Info("activity record persisted")
		t.notifySaved(rec)
	}()
}

func (t *Tracker) notifySaved(rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.observers {
		if ro, ok := o.(RecordObserver); ok {
			ro.OnRecordSaved(rec)
		}
	}
}

func (t *Tracker) durationLocked(now time.Time) time.Duration {
	switch t.state {
	case StateStopped:
		return t.final
	case StateIdle:
		return 0
	default:
		return t.timer.ElapsedActive(now)
	}
}

func (t *Tracker) refuseLocked(command string) error {
	err := &TransitionError{Command: command, From: t.state}
	t.log.WithField("command", command).WithField("state", t.state).Warn("command refused")
	t.errorLocked(err)
	return err
}

func (t *Tracker) statusLocked(kind StatusKind, now time.Time) {
	ev := StatusEvent{
		Kind:       kind,
		DistanceM:  t.track.DistanceM(),
		DurationMs: t.durationLocked(now).Milliseconds(),
		At:         now,
	}
	for _, o := range t.observers {
		o.OnStatus(ev)
	}
}

func (t *Tracker) errorLocked(err error) {
	for _, o := range t.observers {
		o.OnError(err)
	}
}

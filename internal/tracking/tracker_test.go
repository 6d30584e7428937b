package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"backend-lifetrack/internal/shared/geo"
)

type recorder struct {
	mu       sync.Mutex
	statuses []StatusEvent
	progress []ProgressEvent
	errs     []error
	saved    []Record
}

func (r *recorder) OnStatus(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
}

func (r *recorder) OnProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, ev)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnRecordSaved(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, rec)
}

func (r *recorder) Statuses() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent(nil), r.statuses...)
}

func (r *recorder) Progress() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.progress...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Saved() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.saved...)
}

type memSink struct {
	mu      sync.Mutex
	fail    error
	calls   int
	records []Record
}

func (s *memSink) Submit(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *memSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type chanSource struct {
	mu       sync.Mutex
	fixes    chan Fix
	errs     chan error
	subErr   error
	ctx      context.Context
	interval time.Duration
	fastest  time.Duration
}

func newChanSource() *chanSource {
	return &chanSource{fixes: make(chan Fix), errs: make(chan error)}
}

func (s *chanSource) Subscribe(ctx context.Context, interval, fastest time.Duration) (<-chan Fix, <-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return nil, nil, s.subErr
	}
	s.ctx = ctx
	s.interval = interval
	s.fastest = fastest
	return s.fixes, s.errs, nil
}

func (s *chanSource) subCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func newTestTracker(source LocationSource, sink RecordSink, settings Settings) (*Tracker, *ManualClock, *recorder) {
	clock := NewManualClock(t0)
	rec := &recorder{}
	tr := New(source, sink, Options{
		Settings:  settings,
		Clock:     clock,
		Observers: []Observer{rec},
	})
	return tr, clock, rec
}

func TestTrackerPauseResumeScenario(t *testing.T) {
	sink := &memSink{}
	tr, clock, obs := newTestTracker(nil, sink, Settings{})

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Ingest(Fix{Lat: 0, Lng: 0, RecordedAt: clock.Now()}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	clock.Advance(5 * time.Second)
	_ = tr.Ingest(Fix{Lat: 0, Lng: 0.0001, RecordedAt: clock.Now()})

	clock.Set(t0.Add(10 * time.Second))
	if err := tr.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	clock.Set(t0.Add(40 * time.Second))
	if err := tr.Ingest(Fix{Lat: 5, Lng: 5}); err != nil {
		t.Fatalf("fix while paused should be dropped silently: %v", err)
	}

	clock.Set(t0.Add(70 * time.Second))
	if err := tr.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clock.Set(t0.Add(75 * time.Second))
	_ = tr.Ingest(Fix{Lat: 0, Lng: 0.0002, RecordedAt: clock.Now()})

	clock.Set(t0.Add(80 * time.Second))
	rec, ok, err := tr.Stop()
	if err != nil || !ok {
		t.Fatalf("stop: ok=%v err=%v", ok, err)
	}
	tr.Wait()

	want := geo.HaversineM(0, 0, 0, 0.0001) + geo.HaversineM(0, 0.0001, 0, 0.0002)
	if math.Abs(rec.DistanceM-want) > 1e-9 || math.Abs(rec.DistanceM-22.24) > 0.1 {
		t.Fatalf("unexpected distance %v (want %v)", rec.DistanceM, want)
	}
	// 10s before the pause plus 10s after resume; the 60s pause is excluded
	if rec.DurationMs != 20000 {
		t.Fatalf("unexpected active duration %dms", rec.DurationMs)
	}
	if len(rec.Path) != 3 || rec.Manual {
		t.Fatalf("unexpected path: %v", rec.Path)
	}
	if !rec.StartedAt.Equal(t0) {
		t.Fatalf("unexpected start: %v", rec.StartedAt)
	}
	if math.Abs(rec.Calories-want/1000*60) > 1e-9 {
		t.Fatalf("unexpected calories: %v", rec.Calories)
	}

	progress := obs.Progress()
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	if progress[1].DurationMs != 5000 || progress[2].DurationMs != 15000 {
		t.Fatalf("unexpected progress durations: %d %d", progress[1].DurationMs, progress[2].DurationMs)
	}

	statuses := obs.Statuses()
	kinds := []StatusKind{StatusStarted, StatusPaused, StatusResumed, StatusStopped}
	if len(statuses) != len(kinds) {
		t.Fatalf("expected %d status events, got %d", len(kinds), len(statuses))
	}
	for i, k := range kinds {
		if statuses[i].Kind != k {
			t.Fatalf("status %d: got %s want %s", i, statuses[i].Kind, k)
		}
	}
	if statuses[0].DistanceM != 0 || statuses[0].DurationMs != 0 {
		t.Fatalf("started event must be zeroed: %+v", statuses[0])
	}
	if statuses[1].DurationMs != statuses[2].DurationMs {
		t.Fatalf("pause/resume lost or gained time: %d vs %d", statuses[1].DurationMs, statuses[2].DurationMs)
	}
	stopped := statuses[3]
	if stopped.DistanceM != rec.DistanceM || stopped.DurationMs != rec.DurationMs {
		t.Fatalf("record does not match stopped event: %+v vs %+v", stopped, rec)
	}

	if sink.Calls() != 1 || len(obs.Saved()) != 1 {
		t.Fatalf("expected exactly one submission")
	}
	if snap := tr.Snapshot(); snap.State != StateStopped || snap.DurationMs != 20000 {
		t.Fatalf("unexpected snapshot after stop: %+v", snap)
	}
}

func TestTrackerStopFromIdle(t *testing.T) {
	sink := &memSink{}
	tr, _, obs := newTestTracker(nil, sink, Settings{})

	_, ok, err := tr.Stop()
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.Command != "stop" || te.From != StateIdle {
		t.Fatalf("unexpected transition error: %v", err)
	}
	if ok {
		t.Fatalf("no record expected")
	}
	tr.Wait()
	if sink.Calls() != 0 || len(obs.Progress()) != 0 || len(obs.Statuses()) != 0 {
		t.Fatalf("stop from idle must have no side effects")
	}
	if errs := obs.Errors(); len(errs) != 1 || !errors.Is(errs[0], ErrInvalidStateTransition) {
		t.Fatalf("expected refusal reported to observers, got %v", errs)
	}
	if tr.State() != StateIdle {
		t.Fatalf("state changed on refused command")
	}
}

func TestTrackerStopWithoutFixes(t *testing.T) {
	sink := &memSink{}
	tr, clock, obs := newTestTracker(nil, sink, Settings{})

	_ = tr.Start(context.Background())
	clock.Advance(time.Minute)
	_, ok, err := tr.Stop()
	if err != nil || ok {
		t.Fatalf("expected stop without record: ok=%v err=%v", ok, err)
	}
	tr.Wait()
	if tr.State() != StateStopped {
		t.Fatalf("expected stopped state")
	}
	if sink.Calls() != 0 {
		t.Fatalf("sink must not be called without fixes")
	}
	statuses := obs.Statuses()
	if last := statuses[len(statuses)-1]; last.Kind != StatusStopped || last.DurationMs != 60000 {
		t.Fatalf("unexpected stopped event: %+v", last)
	}
}

func TestTrackerDoublePauseLeavesTimingUntouched(t *testing.T) {
	tr, clock, _ := newTestTracker(nil, &memSink{}, Settings{})
	_ = tr.Start(context.Background())
	clock.Advance(10 * time.Second)
	_ = tr.Pause()
	before := tr.timer

	clock.Advance(30 * time.Second)
	err := tr.Pause()
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("state guard must refuse before the timer is touched")
	}
	if tr.timer != before {
		t.Fatalf("timing state changed: %+v vs %+v", tr.timer, before)
	}
}

func TestTrackerElapsedFrozenWhilePaused(t *testing.T) {
	tr, clock, _ := newTestTracker(nil, &memSink{}, Settings{})
	_ = tr.Start(context.Background())
	clock.Advance(12 * time.Second)
	_ = tr.Pause()

	first := tr.Snapshot().DurationMs
	clock.Advance(2 * time.Hour)
	second := tr.Snapshot().DurationMs
	if first != second || first != 12000 {
		t.Fatalf("expected frozen duration, got %d then %d", first, second)
	}
}

func TestTrackerInvalidCommands(t *testing.T) {
	tr, _, obs := newTestTracker(nil, &memSink{}, Settings{})

	if err := tr.Pause(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("pause from idle: %v", err)
	}
	if err := tr.Resume(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("resume from idle: %v", err)
	}
	if err := tr.Ingest(Fix{}); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("ingest from idle: %v", err)
	}
	_ = tr.Start(context.Background())
	if err := tr.Start(context.Background()); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("start while running: %v", err)
	}
	if err := tr.Resume(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("resume while running: %v", err)
	}
	_, _, _ = tr.Stop()
	if _, _, err := tr.Stop(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("duplicate stop: %v", err)
	}
	if len(obs.Errors()) != 5 {
		t.Fatalf("expected 5 refusals reported, got %d", len(obs.Errors()))
	}
}

func TestTrackerRestartClearsTrack(t *testing.T) {
	tr, clock, _ := newTestTracker(nil, &memSink{}, Settings{})
	_ = tr.Start(context.Background())
	_ = tr.Ingest(Fix{Lat: 0, Lng: 0})
	_ = tr.Ingest(Fix{Lat: 0, Lng: 0.001})
	clock.Advance(time.Minute)
	_, _, _ = tr.Stop()
	tr.Wait()

	clock.Advance(time.Hour)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap := tr.Snapshot()
	if snap.DistanceM != 0 || len(snap.Fixes) != 0 || snap.DurationMs != 0 {
		t.Fatalf("restart should reset track and timer: %+v", snap)
	}
	if !snap.StartedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected start time: %v", snap.StartedAt)
	}
}

func TestTrackerPersistenceFailureKeepsRecord(t *testing.T) {
	sink := &memSink{fail: errors.New("db down")}
	tr, clock, obs := newTestTracker(nil, sink, Settings{})

	_ = tr.Start(context.Background())
	_ = tr.Ingest(Fix{Lat: 0, Lng: 0})
	clock.Advance(time.Minute)
	rec, ok, err := tr.Stop()
	if err != nil || !ok {
		t.Fatalf("stop must succeed even when persistence fails: %v", err)
	}
	if tr.State() != StateStopped {
		t.Fatalf("state must not roll back")
	}
	tr.Wait()

	pending := tr.Pending()
	if len(pending) != 1 || pending[0].ID != rec.ID {
		t.Fatalf("expected failed record pending, got %v", pending)
	}
	var perr *PersistenceError
	found := false
	for _, e := range obs.Errors() {
		if errors.As(e, &perr) && errors.Is(e, ErrPersistenceFailure) {
			found = true
		}
	}
	if !found || perr.Record.ID != rec.ID {
		t.Fatalf("expected persistence error reported, got %v", obs.Errors())
	}

	if err := tr.RetryPending(context.Background()); !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("retry against a failing sink should fail: %v", err)
	}
	if len(tr.Pending()) != 1 {
		t.Fatalf("record must stay pending after failed retry")
	}

	sink.setFail(nil)
	if err := tr.RetryPending(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(tr.Pending()) != 0 || len(sink.records) != 1 || sink.records[0].ID != rec.ID {
		t.Fatalf("record not persisted on retry")
	}
	if len(obs.Saved()) != 1 {
		t.Fatalf("expected saved notification")
	}
}

func TestTrackerNilSinkKeepsRecordPending(t *testing.T) {
	tr, _, _ := newTestTracker(nil, nil, Settings{})
	_ = tr.Start(context.Background())
	_ = tr.Ingest(Fix{Lat: 1, Lng: 1})
	_, ok, _ := tr.Stop()
	tr.Wait()
	if !ok || len(tr.Pending()) != 1 {
		t.Fatalf("expected record pending without sink")
	}
	if err := tr.RetryPending(context.Background()); !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure without sink, got %v", err)
	}
}

func TestTrackerAccuracyThreshold(t *testing.T) {
	tr, _, obs := newTestTracker(nil, &memSink{}, Settings{MaxAccuracyM: 20})
	_ = tr.Start(context.Background())

	if err := tr.Ingest(Fix{Lat: 0, Lng: 0, Accuracy: 5}); err != nil {
		t.Fatalf("accurate fix rejected: %v", err)
	}
	if err := tr.Ingest(Fix{Lat: 1, Lng: 1, Accuracy: 50}); !errors.Is(err, ErrFixRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := tr.Ingest(Fix{Lat: 0, Lng: 0.0001}); err != nil {
		t.Fatalf("fix without accuracy rejected: %v", err)
	}

	snap := tr.Snapshot()
	if len(snap.Fixes) != 2 {
		t.Fatalf("rejected fix must not be stored, got %d fixes", len(snap.Fixes))
	}
	if math.Abs(snap.DistanceM-geo.HaversineM(0, 0, 0, 0.0001)) > 1e-9 {
		t.Fatalf("rejected fix affected distance: %v", snap.DistanceM)
	}
	if len(obs.Progress()) != 2 || len(obs.Errors()) != 1 {
		t.Fatalf("unexpected events: %d progress, %d errors", len(obs.Progress()), len(obs.Errors()))
	}
}

func TestTrackerUnfilteredByDefault(t *testing.T) {
	tr, _, _ := newTestTracker(nil, &memSink{}, Settings{})
	_ = tr.Start(context.Background())
	if err := tr.Ingest(Fix{Lat: 0, Lng: 0, Accuracy: 500}); err != nil {
		t.Fatalf("default policy accepts every fix: %v", err)
	}
}

func TestTrackerConsumesLocationSource(t *testing.T) {
	src := newChanSource()
	settings := Settings{Interval: 5 * time.Second, FastestInterval: 2 * time.Second}
	tr, _, obs := newTestTracker(src, &memSink{}, settings)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if src.interval != 5*time.Second || src.fastest != 2*time.Second {
		t.Fatalf("subscription intervals not passed: %v %v", src.interval, src.fastest)
	}

	src.fixes <- Fix{Lat: 0, Lng: 0}
	src.fixes <- Fix{Lat: 0, Lng: 0.0001}
	src.fixes <- Fix{Lat: 0, Lng: 0.0002}
	waitFor(t, "progress events", func() bool { return len(obs.Progress()) == 3 })

	progress := obs.Progress()
	for i := 1; i < len(progress); i++ {
		if progress[i].DistanceM <= progress[i-1].DistanceM {
			t.Fatalf("progress out of order at %d", i)
		}
		if progress[i].Fix.Lng <= progress[i-1].Fix.Lng {
			t.Fatalf("fixes delivered out of order")
		}
	}

	src.errs <- errors.New("permission revoked")
	waitFor(t, "location error", func() bool {
		for _, e := range obs.Errors() {
			if errors.Is(e, ErrLocationUnavailable) {
				return true
			}
		}
		return false
	})
	if tr.State() != StateRunning {
		t.Fatalf("location errors must not change state")
	}

	ctx := src.subCtx()
	if _, _, err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("subscription not released on stop")
	}
	tr.Wait()
}

func TestTrackerSubscribeFailureStaysRunning(t *testing.T) {
	src := newChanSource()
	src.subErr = errors.New("permission denied")
	tr, _, obs := newTestTracker(src, &memSink{}, Settings{})

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start must not fail on location errors: %v", err)
	}
	if tr.State() != StateRunning {
		t.Fatalf("expected running without location")
	}
	errs := obs.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrLocationUnavailable) {
		t.Fatalf("expected location unavailable, got %v", errs)
	}
	if statuses := obs.Statuses(); len(statuses) != 1 || statuses[0].Kind != StatusStarted {
		t.Fatalf("started must still be announced")
	}
	if _, ok, err := tr.Stop(); err != nil || ok {
		t.Fatalf("stop without fixes: ok=%v err=%v", ok, err)
	}
}

func TestTrackerCloseDiscardsSession(t *testing.T) {
	src := newChanSource()
	sink := &memSink{}
	tr, _, _ := newTestTracker(src, sink, Settings{})

	_ = tr.Start(context.Background())
	src.fixes <- Fix{Lat: 0, Lng: 0}
	_ = tr.Pause()
	ctx := src.subCtx()

	tr.Close()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("subscription not released on close")
	}
	if sink.Calls() != 0 {
		t.Fatalf("close must not persist an unfinished session")
	}
	if snap := tr.Snapshot(); snap.State != StateIdle || len(snap.Fixes) != 0 {
		t.Fatalf("unexpected snapshot after close: %+v", snap)
	}
	if err := tr.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := tr.Ingest(Fix{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on ingest, got %v", err)
	}
	tr.Close()
}

func TestTrackerStaleSubscriptionIgnored(t *testing.T) {
	tr, _, obs := newTestTracker(nil, &memSink{}, Settings{})
	_ = tr.Start(context.Background())
	stale := tr.gen
	_, _, _ = tr.Stop()
	_ = tr.Start(context.Background())

	if err := tr.ingest(stale, Fix{Lat: 1, Lng: 1}); err != nil {
		t.Fatalf("stale fix should be ignored quietly: %v", err)
	}
	if len(tr.Snapshot().Fixes) != 0 || len(obs.Progress()) != 0 {
		t.Fatalf("stale fix leaked into new session")
	}
}

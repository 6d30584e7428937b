package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"backend-lifetrack/internal/geolocation"
	"backend-lifetrack/internal/logging"
	"backend-lifetrack/internal/tracking"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		}
		os.Exit(1)
	}
}

type options struct {
	input       string
	kcalPerKm   float64
	maxAccuracy float64
	autoPause   time.Duration
	live        bool
	interval    time.Duration
	logLevel    string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.input, "i", "", "Input GPX file")
	fs.Float64Var(&o.kcalPerKm, "kcal", tracking.DefaultKcalPerKm, "Energy estimate in kcal per km")
	fs.Float64Var(&o.maxAccuracy, "max-accuracy", 0, "Reject fixes less accurate than this many metres (0 accepts all)")
	fs.DurationVar(&o.autoPause, "auto-pause", 0, "Pause the session across gaps longer than this (0 disables)")
	fs.BoolVar(&o.live, "live", false, "Play the file through the location subscription in real time")
	fs.DurationVar(&o.interval, "interval", time.Second, "Delay between fixes in live mode")
	fs.StringVar(&o.logLevel, "log-level", "warn", "Log level")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "replay - run a GPX file through the activity tracker\n\n")
		fmt.Fprintf(stderr, "usage: replay -i track.gpx [-auto-pause 2m] [-live -interval 200ms]\n\n")
		fmt.Fprintf(stderr, "options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.input == "" {
		fs.Usage()
		return options{}, errors.New("input file required")
	}
	return o, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	log := logging.NewWithOutput(opts.logLevel, stderr)

	src, err := geolocation.LoadReplay(opts.input)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"points":   src.Len(),
		"length_m": src.LengthM(),
	}).Info("gpx loaded")

	sink := &writerSink{w: stdout}
	var ok bool
	if opts.live {
		ok, err = replayLive(src, sink, opts, log)
	} else {
		ok, err = replayOffline(src, sink, opts, log)
	}
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no fixes were accepted, nothing recorded")
	}
	return sink.err
}

// writerSink prints finished records as indented JSON.
type writerSink struct {
	w   io.Writer
	err error
}

func (s *writerSink) Submit(_ context.Context, rec tracking.Record) error {
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	s.err = enc.Encode(rec)
	return s.err
}

func settings(opts options) tracking.Settings {
	s := tracking.DefaultSettings()
	s.MaxAccuracyM = opts.maxAccuracy
	s.Interval = opts.interval
	s.FastestInterval = opts.interval
	return s
}

// replayOffline drives the tracker clock from the file timestamps.
// record matches what a live session over the same points would report.
func replayOffline(src *geolocation.ReplaySource, sink tracking.RecordSink, opts options, log logrus.FieldLogger) (bool, error) {
	fixes := src.Fixes()
	start := fixes[0].RecordedAt
	if start.IsZero() {
		start = time.Now()
	}
	clock := tracking.NewManualClock(start)
	tr := tracking.New(nil, sink, tracking.Options{
		Settings: settings(opts),
		Clock:    clock,
		Energy:   tracking.LinearEnergyModel{KcalPerKm: opts.kcalPerKm},
		Logger:   log,
	})
	defer tr.Close()

	if err := tr.Start(context.Background()); err != nil {
		return false, err
	}

	last := start
	for _, fix := range fixes {
		at := fix.RecordedAt
		if at.IsZero() || at.Before(last) {
			at = last.Add(opts.interval)
		}
		if opts.autoPause > 0 && at.Sub(last) > opts.autoPause {
			clock.Set(last)
			if err := tr.Pause(); err != nil {
				return false, err
			}
			clock.Set(at)
			if err := tr.Resume(); err != nil {
				return false, err
			}
			log.WithField("gap", at.Sub(last).String()).Info("auto-paused across gap")
		}
		clock.Set(at)
		if err := tr.Ingest(fix); err != nil && !errors.Is(err, tracking.ErrFixRejected) {
			return false, err
		}
		last = at
	}

	_, ok, err := tr.Stop()
	return ok, err
}

// progressWaiter signals once the tracker has seen n fixes or rejected them.
type progressWaiter struct {
	mu   sync.Mutex
	seen int
	n    int
	done chan struct{}
}

func (w *progressWaiter) count() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen++
	if w.seen == w.n {
		close(w.done)
	}
}

func (w *progressWaiter) OnStatus(tracking.StatusEvent)     {}
func (w *progressWaiter) OnProgress(tracking.ProgressEvent) { w.count() }

func (w *progressWaiter) OnError(err error) {
	if errors.Is(err, tracking.ErrFixRejected) {
		w.count()
	}
}

func replayLive(src *geolocation.ReplaySource, sink tracking.RecordSink, opts options, log logrus.FieldLogger) (bool, error) {
	waiter := &progressWaiter{n: src.Len(), done: make(chan struct{})}
	tr := tracking.New(src, sink, tracking.Options{
		Settings:  settings(opts),
		Energy:    tracking.LinearEnergyModel{KcalPerKm: opts.kcalPerKm},
		Observers: []tracking.Observer{waiter},
		Logger:    log,
	})
	defer tr.Close()

	if err := tr.Start(context.Background()); err != nil {
		return false, err
	}
	<-waiter.done
	_, ok, err := tr.Stop()
	return ok, err
}

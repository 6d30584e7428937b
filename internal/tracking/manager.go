package tracking

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// FeedSource is a LocationSource that is fed from outside the process. Its
// subscription carries source failures and the requested cadence; fixes the
// client posts go straight to the tracker.
type FeedSource interface {
	LocationSource
	Fail(error) error
}

type ManagerOptions struct {
	Settings Settings
	Clock    Clock
	Energy   EnergyModel
	Logger   logrus.FieldLogger

	// NewFeed builds the location source of a new session.
	NewFeed func() FeedSource
	// SinkFor returns where a user's finished records go.
	SinkFor func(userID string) RecordSink
	// ObserversFor returns the observers of a user's tracker. Observers that
	// implement io.Closer are closed with the session.
	ObserversFor func(userID string) []Observer
}

// Session is one user's tracker together with its location feed.
type Session struct {
	UserID  string
	Tracker *Tracker

	feed      FeedSource
	observers []Observer
}

// Push ingests a client-reported fix. It returns once the fix is part of the
// track, so a later Stop or Pause always sees it.
func (s *Session) Push(fix Fix) error {
	return s.Tracker.Ingest(fix)
}

// ReportLocationError forwards a client-side location failure, such as a
// revoked permission, to the tracker.
func (s *Session) ReportLocationError(cause error) error {
	if s.feed == nil {
		return fmt.Errorf("%w: no location feed", ErrLocationUnavailable)
	}
	if err := s.feed.Fail(cause); err != nil {
		return fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	return nil
}

func (s *Session) close() {
	s.Tracker.Close()
	for _, o := range s.observers {
		if c, ok := o.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Manager keeps one tracking session per user.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	opts     ManagerOptions
	log      logrus.FieldLogger
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = defaultLogger()
	}
	return &Manager{
		sessions: map[string]*Session{},
		opts:     opts,
		log:      log,
	}
}

// Session returns the user's session, creating an idle one on first use.
func (m *Manager) Session(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[userID]; ok {
		return s, nil
	}

	s := &Session{UserID: userID}
	var source LocationSource
	if m.opts.NewFeed != nil {
		s.feed = m.opts.NewFeed()
		source = s.feed
	}
	var sink RecordSink
	if m.opts.SinkFor != nil {
		sink = m.opts.SinkFor(userID)
	}
	if m.opts.ObserversFor != nil {
		s.observers = m.opts.ObserversFor(userID)
	}
	log := m.log.WithField("user_id", userID)
	s.Tracker = New(source, sink, Options{
		Settings:  m.opts.Settings,
		Clock:     m.opts.Clock,
		Energy:    m.opts.Energy,
		Observers: s.observers,
		Logger:    log,
	})
	m.sessions[userID] = s
	log.Debug("tracking session created")
	return s, nil
}

func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Remove closes and forgets the user's session, discarding an unfinished
// track. It reports whether a session existed.
func (m *Manager) Remove(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		s.close()
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every session. Later calls to Session fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	m.log.WithField("sessions", len(sessions)).Info("tracking sessions closed")
}

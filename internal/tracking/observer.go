package tracking

import (
	"encoding/json"
	"errors"
	"sync"

	"backend-lifetrack/internal/stream"

	"github.com/sirupsen/logrus"
)

const hubQueueSize = 128

// Event is the JSON frame pushed to websocket clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HubObserver forwards one user's tracker events to their stream channel.
// Frames are queued and broadcast from its own goroutine so a slow Redis
// never holds up the tracker; when the queue is full frames are dropped.
type HubObserver struct {
	hub     *stream.Hub
	channel string
	log     logrus.FieldLogger

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	done   chan struct{}
}

func NewHubObserver(hub *stream.Hub, userID string, log logrus.FieldLogger) *HubObserver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &HubObserver{
		hub:     hub,
		channel: stream.UserChannel(userID),
		log:     log,
		queue:   make(chan []byte, hubQueueSize),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *HubObserver) OnStatus(ev StatusEvent) {
	o.publish(Event{Type: "status", Data: ev})
}

func (o *HubObserver) OnProgress(ev ProgressEvent) {
	o.publish(Event{Type: "progress", Data: ev})
}

func (o *HubObserver) OnError(err error) {
	o.publish(Event{Type: "error", Data: errorPayload{Kind: ErrorKind(err), Message: err.Error()}})
}

func (o *HubObserver) OnRecordSaved(rec Record) {
	o.publish(Event{Type: "record_saved", Data: rec})
}

// Close flushes queued frames and stops the broadcaster.
func (o *HubObserver) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	<-o.done
	return nil
}

func (o *HubObserver) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		o.log.WithError(err).WithField("type", ev.Type).Warn("event not encoded")
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.queue <- payload:
	default:
		o.log.WithField("type", ev.Type).Warn("event queue full, frame dropped")
	}
}

func (o *HubObserver) run() {
	defer close(o.done)
	for payload := range o.queue {
		o.hub.Broadcast(o.channel, payload)
	}
}

// ErrorKind names the error family for clients and metrics labels.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, ErrFixRejected):
		return "fix_rejected"
	case errors.Is(err, ErrLocationUnavailable):
		return "location_unavailable"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}

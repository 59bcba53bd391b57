// Package progress fans out upload pipeline events to live subscribers,
// keyed by an ephemeral session ID. Sessions carry no history: a publish
// with no subscribers is dropped, and only the terminal complete/error
// events are expected to be awaited by a typical client.
package progress

import (
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Stages published by the upload pipeline.
const (
	StageValidation = "validation"
	StageHash       = "hash"
	StageAnalysis   = "analysis"
	StageSave       = "save"
	StageDatabase   = "database"
	StageComplete   = "complete"
)

type Event struct {
	Kind      Kind      `json:"kind"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is dropped rather than blocking the pipeline.
const subscriberBuffer = 64

// DefaultIdleTimeout closes a subscription that received nothing for this
// long, without affecting the rest of the session.
const DefaultIdleTimeout = 5 * time.Minute

// Subscriber is one live listener on a session. Receive from C until it is
// closed; the channel closes after a terminal event, an idle timeout, or
// Unsubscribe.
type Subscriber struct {
	C         chan Event
	sessionID string
	idle      *time.Timer
	closed    bool
}

// Broadcaster multiplexes events from one pipeline run to any number of
// concurrent subscribers. All methods are safe for concurrent use.
type Broadcaster struct {
	mu          sync.Mutex
	sessions    map[string]map[*Subscriber]struct{}
	idleTimeout time.Duration
}

func NewBroadcaster() *Broadcaster {
	return NewBroadcasterWithTimeout(DefaultIdleTimeout)
}

func NewBroadcasterWithTimeout(idleTimeout time.Duration) *Broadcaster {
	return &Broadcaster{
		sessions:    make(map[string]map[*Subscriber]struct{}),
		idleTimeout: idleTimeout,
	}
}

// Subscribe registers a new listener for the session.
func (b *Broadcaster) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		C:         make(chan Event, subscriberBuffer),
		sessionID: sessionID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sessions[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.sessions[sessionID] = set
	}
	set[sub] = struct{}{}

	sub.idle = time.AfterFunc(b.idleTimeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dropLocked(sub)
	})

	return sub
}

// Unsubscribe removes a listener and closes its channel. Safe to call after
// the session has already terminated.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

// dropLocked removes one subscriber from its session and closes its channel.
// Caller holds b.mu.
func (b *Broadcaster) dropLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.idle.Stop()
	close(sub.C)

	if set, ok := b.sessions[sub.sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.sessions, sub.sessionID)
		}
	}
}

// Publish sends an ordinary progress event to every current subscriber of
// the session. With zero subscribers it is a silent no-op. A subscriber
// whose buffer is full is dropped, never waited on.
func (b *Broadcaster) Publish(sessionID, stage, message string, data any) {
	b.deliver(sessionID, Event{
		Kind:      KindProgress,
		Stage:     stage,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}, false)
}

// Complete sends the terminal completion event carrying the final result,
// then closes every subscriber and forgets the session.
func (b *Broadcaster) Complete(sessionID string, result any) {
	b.deliver(sessionID, Event{
		Kind:      KindComplete,
		Stage:     StageComplete,
		Data:      result,
		Timestamp: time.Now(),
	}, true)
}

// Fail sends the terminal error event, then closes every subscriber and
// forgets the session.
func (b *Broadcaster) Fail(sessionID, errMsg string) {
	b.deliver(sessionID, Event{
		Kind:      KindError,
		Message:   errMsg,
		Timestamp: time.Now(),
	}, true)
}

func (b *Broadcaster) deliver(sessionID string, ev Event, terminal bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sessions[sessionID]
	if !ok {
		return
	}

	for sub := range set {
		select {
		case sub.C <- ev:
			sub.idle.Reset(b.idleTimeout)
		default:
			// Subscriber stopped draining; cut it loose.
			slog.Debug("dropping slow progress subscriber", "session", sessionID)
			b.dropLocked(sub)
		}
	}

	if terminal {
		for sub := range set {
			sub.closed = true
			sub.idle.Stop()
			close(sub.C)
		}
		delete(b.sessions, sessionID)
	}
}

// SubscriberCount reports the live listeners for a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions[sessionID])
}

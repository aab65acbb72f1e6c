// Package events publishes session lifecycle events.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names a lifecycle event. The NATS subject is "<prefix>.<type>".
type Type string

const (
	SessionStarted   Type = "session.started"
	AnswerSubmitted  Type = "answer.submitted"
	SessionCompleted Type = "session.completed"
	SessionEnded     Type = "session.ended"
)

// Event is one lifecycle notification. Answer text is never included.
type Event struct {
	Type         Type      `json:"type"`
	SessionID    string    `json:"session_id"`
	RespondentID string    `json:"respondent_id,omitempty"`
	Position     int       `json:"position,omitempty"`
	AnswerKind   string    `json:"answer_kind,omitempty"`
	Resumed      bool      `json:"resumed,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher delivers events. Publish must not block on the network for long;
// implementations buffer or drop.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Subject returns the subject an event of type t is published on.
func Subject(prefix string, t Type) string {
	if prefix == "" {
		return string(t)
	}
	return prefix + "." + string(t)
}

type nopPublisher struct{}

// Nop returns a publisher that discards events.
func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close()                               {}

// MemoryPublisher keeps published events in order. Useful in tests and for
// inspecting a session's lifecycle in-process.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryPublisher) Close() {}

// Events returns a copy of everything published so far.
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the type of each published event, in order.
func (m *MemoryPublisher) Types() []Type {
	evs := m.Events()
	out := make([]Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

// Package effect defines the side effects produced by conversation transitions and the
// runtime they execute against.
//
// Transitions decide what should happen while holding the conversation lock; effects
// carry those decisions out afterwards, so storage, transcript and event I/O never run
// under the lock.
package effect

import (
	"context"

	"surveychat/pkg/events"
	"surveychat/pkg/proto"
)

// Effect represents an executable unit that performs I/O using a Runtime.
type Effect interface {
	// Execute performs the effect using the provided runtime capabilities.
	Execute(ctx context.Context, runtime Runtime) error

	// Type returns a string identifier for this effect type (useful for logging).
	Type() string
}

// Runtime is the capability surface effects use. It's composed of smaller capability
// interfaces.
type Runtime interface {
	Recovery
	Transcript
	Events
	Logging
}

// Recovery persists the active-session pointer.
type Recovery interface {
	SaveRecovery(ctx context.Context, sessionID string, position int) error
	ClearRecovery(ctx context.Context) error
}

// Transcript records conversation messages.
type Transcript interface {
	RecordMessage(sessionID string, msg proto.Message) error
}

// Events publishes lifecycle events.
type Events interface {
	PublishEvent(ctx context.Context, ev events.Event) error
}

// Logging provides logging capabilities.
type Logging interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

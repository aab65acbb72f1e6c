package effect

import (
	"context"
	"fmt"

	"surveychat/pkg/events"
	"surveychat/pkg/proto"
)

// PersistRecoveryEffect records the session and position so a restart can resume.
type PersistRecoveryEffect struct {
	SessionID string
	Position  int
}

func (e *PersistRecoveryEffect) Execute(ctx context.Context, rt Runtime) error {
	if err := rt.SaveRecovery(ctx, e.SessionID, e.Position); err != nil {
		return fmt.Errorf("persist recovery for %s at %d: %w", e.SessionID, e.Position, err)
	}
	rt.Debug("recovery state saved: session %s position %d", e.SessionID, e.Position)
	return nil
}

func (e *PersistRecoveryEffect) Type() string { return "persist_recovery" }

// ClearRecoveryEffect forgets the active session.
type ClearRecoveryEffect struct {
	Reason string
}

func (e *ClearRecoveryEffect) Execute(ctx context.Context, rt Runtime) error {
	if err := rt.ClearRecovery(ctx); err != nil {
		return fmt.Errorf("clear recovery (%s): %w", e.Reason, err)
	}
	rt.Debug("recovery state cleared: %s", e.Reason)
	return nil
}

func (e *ClearRecoveryEffect) Type() string { return "clear_recovery" }

// AppendMessageEffect copies a transcript message to the transcript log.
type AppendMessageEffect struct {
	SessionID string
	Message   proto.Message
}

func (e *AppendMessageEffect) Execute(_ context.Context, rt Runtime) error {
	if e.SessionID == "" {
		// messages before a session exists are display-only
		return nil
	}
	if err := rt.RecordMessage(e.SessionID, e.Message); err != nil {
		return fmt.Errorf("record %s message: %w", e.Message.Role, err)
	}
	return nil
}

func (e *AppendMessageEffect) Type() string { return "append_message" }

// PublishEventEffect publishes a lifecycle event.
type PublishEventEffect struct {
	Event events.Event
}

func (e *PublishEventEffect) Execute(ctx context.Context, rt Runtime) error {
	if err := rt.PublishEvent(ctx, e.Event); err != nil {
		return fmt.Errorf("publish %s: %w", e.Event.Type, err)
	}
	return nil
}

func (e *PublishEventEffect) Type() string { return "publish_event" }

// RunAll executes effects in order. A failing effect is logged and does not stop the
// rest; the errors are returned for inspection.
func RunAll(ctx context.Context, rt Runtime, effects []Effect) []error {
	var errs []error
	for _, eff := range effects {
		if err := eff.Execute(ctx, rt); err != nil {
			rt.Warn("effect %s failed: %v", eff.Type(), err)
			errs = append(errs, err)
		}
	}
	return errs
}

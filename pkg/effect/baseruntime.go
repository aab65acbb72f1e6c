package effect

import (
	"context"

	"surveychat/pkg/events"
	"surveychat/pkg/logx"
	"surveychat/pkg/proto"
	"surveychat/pkg/recovery"
	"surveychat/pkg/transcript"
)

// BaseRuntime is the standard Runtime, backed by the recovery store, a transcript
// recorder and an event publisher.
type BaseRuntime struct {
	recovery   *recovery.Store
	transcript transcript.Recorder
	publisher  events.Publisher
	logger     *logx.Logger
}

// NewBaseRuntime creates a runtime. Nil transcript or publisher disable those effects.
func NewBaseRuntime(rec *recovery.Store, tr transcript.Recorder, pub events.Publisher, logger *logx.Logger) *BaseRuntime {
	if tr == nil {
		tr = transcript.Nop()
	}
	if pub == nil {
		pub = events.Nop()
	}
	if logger == nil {
		logger = logx.NewLogger("effect")
	}
	return &BaseRuntime{recovery: rec, transcript: tr, publisher: pub, logger: logger}
}

func (r *BaseRuntime) SaveRecovery(ctx context.Context, sessionID string, position int) error {
	return r.recovery.Save(ctx, sessionID, position)
}

func (r *BaseRuntime) ClearRecovery(ctx context.Context) error {
	return r.recovery.Clear(ctx)
}

func (r *BaseRuntime) RecordMessage(sessionID string, msg proto.Message) error {
	return r.transcript.Record(sessionID, msg)
}

func (r *BaseRuntime) PublishEvent(ctx context.Context, ev events.Event) error {
	return r.publisher.Publish(ctx, ev)
}

func (r *BaseRuntime) Info(msg string, args ...any) {
	r.logger.Info(msg, args...)
}

func (r *BaseRuntime) Warn(msg string, args ...any) {
	r.logger.Warn(msg, args...)
}

func (r *BaseRuntime) Debug(msg string, args ...any) {
	r.logger.Debug(msg, args...)
}

var _ Runtime = (*BaseRuntime)(nil)

package effect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveychat/pkg/events"
	"surveychat/pkg/proto"
	"surveychat/pkg/recovery"
	"surveychat/pkg/storage"
	"surveychat/pkg/transcript"
)

type memTranscript struct {
	entries []transcript.Entry
	err     error
}

func (m *memTranscript) Record(sessionID string, msg proto.Message) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, transcript.Entry{SessionID: sessionID, Message: msg})
	return nil
}

func (m *memTranscript) Close() error { return nil }

func newRuntime(t *testing.T) (*BaseRuntime, *storage.MemoryStore, *memTranscript, *events.MemoryPublisher) {
	t.Helper()
	kv := storage.NewMemoryStore()
	tr := &memTranscript{}
	pub := &events.MemoryPublisher{}
	return NewBaseRuntime(recovery.NewStore(kv), tr, pub, nil), kv, tr, pub
}

func TestRecoveryEffects(t *testing.T) {
	ctx := context.Background()
	rt, kv, _, _ := newRuntime(t)

	errs := RunAll(ctx, rt, []Effect{&PersistRecoveryEffect{SessionID: "s-1", Position: 2}})
	assert.Empty(t, errs)

	st, err := recovery.NewStore(kv).Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 2, st.CurrentPosition)

	errs = RunAll(ctx, rt, []Effect{&ClearRecoveryEffect{Reason: "completed"}})
	assert.Empty(t, errs)
	assert.Equal(t, 0, kv.Len())
}

func TestAppendMessageEffect(t *testing.T) {
	ctx := context.Background()
	rt, _, tr, _ := newRuntime(t)
	m := proto.Message{Role: proto.RoleRespondent, Text: "hello there", At: time.Now()}

	assert.Empty(t, RunAll(ctx, rt, []Effect{
		&AppendMessageEffect{SessionID: "", Message: m},
		&AppendMessageEffect{SessionID: "s-1", Message: m},
	}))
	require.Len(t, tr.entries, 1)
	assert.Equal(t, "s-1", tr.entries[0].SessionID)
}

func TestRunAllContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	rt, _, tr, pub := newRuntime(t)
	tr.err = errors.New("disk full")

	errs := RunAll(ctx, rt, []Effect{
		&AppendMessageEffect{SessionID: "s-1", Message: proto.Message{Role: proto.RoleAssistant}},
		&PublishEventEffect{Event: events.Event{Type: events.SessionStarted, SessionID: "s-1"}},
	})
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "disk full")
	assert.Equal(t, []events.Type{events.SessionStarted}, pub.Types())
}

func TestEffectTypes(t *testing.T) {
	assert.Equal(t, "persist_recovery", (&PersistRecoveryEffect{}).Type())
	assert.Equal(t, "clear_recovery", (&ClearRecoveryEffect{}).Type())
	assert.Equal(t, "append_message", (&AppendMessageEffect{}).Type())
	assert.Equal(t, "publish_event", (&PublishEventEffect{}).Type())
}

package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveychat/pkg/apiclient"
	"surveychat/pkg/conversation"
	"surveychat/pkg/effect"
	"surveychat/pkg/events"
	"surveychat/pkg/mockserver"
	"surveychat/pkg/presenter"
	"surveychat/pkg/proto"
	"surveychat/pkg/recovery"
	"surveychat/pkg/storage"
	"surveychat/pkg/transcript"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	server  *mockserver.Server
	machine *conversation.Machine
	pres    *presenter.Presenter
	session *Session
	rec     *recovery.Store
	out     *syncBuffer
	input   *io.PipeWriter
	errCh   chan error
}

func newHarness(t *testing.T, kv storage.Store, srv *mockserver.Server) *harness {
	t.Helper()
	if srv == nil {
		srv = mockserver.NewServer(nil)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	rec := recovery.NewStore(kv)
	client := apiclient.NewHTTPClient(ts.URL+mockserver.APIPrefix, 5*time.Second)
	m, err := conversation.NewMachine(conversation.Deps{
		Client:       client,
		Runtime:      effect.NewBaseRuntime(rec, transcript.Nop(), events.Nop(), nil),
		SurveyID:     srv.Survey().ID,
		RespondentID: "anon_cli",
	})
	require.NoError(t, err)

	out := &syncBuffer{}
	pres := presenter.New(out)
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	return &harness{
		server:  srv,
		machine: m,
		pres:    pres,
		session: NewSession(m, pres, pr),
		rec:     rec,
		out:     out,
		input:   pw,
		errCh:   make(chan error, 1),
	}
}

func (h *harness) run(ctx context.Context) {
	guard := recovery.NewGuard(h.rec, h.session.ConfirmResume)
	go func() { h.errCh <- h.session.Run(ctx, guard) }()
}

func (h *harness) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(h.input, line+"\n")
	require.NoError(t, err)
}

func (h *harness) waitForPosition(t *testing.T, position int) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := h.machine.Snapshot()
		return snap.State == conversation.StateAwaitingAnswer &&
			snap.Position() == position && h.pres.InputEnabled()
	}, 2*time.Second, 5*time.Millisecond, "never reached question %d", position)
}

func (h *harness) waitForOutput(t *testing.T, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), text)
	}, 2*time.Second, 5*time.Millisecond, "output never contained %q", text)
}

func (h *harness) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

const thoughtful = "I believe the process should be fair, humane and predictable for families"

func TestSessionRunsInterview(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore(), nil)
	h.run(context.Background())

	h.waitForPosition(t, 1)
	h.waitForOutput(t, "  2) About right")
	h.send(t, "2")

	h.waitForPosition(t, 2)
	h.send(t, "short")
	h.waitForOutput(t, "5 more characters needed")
	assert.Equal(t, 2, h.machine.Snapshot().Position())

	h.send(t, thoughtful)
	h.waitForPosition(t, 3)

	h.send(t, "/skip")
	h.waitForPosition(t, 4)

	h.send(t, "/end")
	h.waitForOutput(t, "Are you sure you want to end the interview? [y/N]")
	h.send(t, "y")

	require.NoError(t, h.result(t))
	snap := h.machine.Snapshot()
	assert.Equal(t, conversation.StateCompleted, snap.State)
	assert.Contains(t, h.out.String(), "You: About right")
	assert.Contains(t, h.out.String(), "Questions answered: 3")

	st, err := h.rec.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSessionDeclinedEndContinues(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore(), nil)
	h.run(context.Background())

	h.waitForPosition(t, 1)
	h.send(t, "/end")
	h.send(t, "n")
	h.waitForOutput(t, "Continuing the interview.")
	h.waitForPosition(t, 1)

	require.NoError(t, h.input.Close())
	assert.ErrorIs(t, h.result(t), ErrInputClosed)
}

func TestSessionCommands(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore(), nil)
	h.run(context.Background())
	h.waitForPosition(t, 1)

	h.send(t, "/help")
	h.waitForOutput(t, "/retry   retry after a connection problem")
	h.send(t, "/bogus")
	h.waitForOutput(t, "Unknown command")
	h.send(t, "/retry")
	h.waitForOutput(t, "There is nothing to retry.")
	h.send(t, "9")
	h.waitForOutput(t, "Please select an option")
	assert.Equal(t, 1, h.machine.Snapshot().Position())

	require.NoError(t, h.input.Close())
	assert.ErrorIs(t, h.result(t), ErrInputClosed)
}

func TestSessionKeepsTypedOrder(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore(), nil)
	h.run(context.Background())
	h.waitForPosition(t, 1)

	// Both lines arrive before the first answer has been sent.
	_, err := io.WriteString(h.input, "2\n1\n")
	require.NoError(t, err)
	h.waitForPosition(t, 2)

	var answers []string
	for _, msg := range h.machine.Snapshot().Messages {
		if msg.Role == proto.RoleRespondent {
			answers = append(answers, msg.Text)
		}
	}
	require.NotEmpty(t, answers)
	assert.Equal(t, "About right", answers[0])

	require.NoError(t, h.input.Close())
	assert.ErrorIs(t, h.result(t), ErrInputClosed)
}

func TestSessionRetryAfterFailure(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore(), nil)
	h.run(context.Background())
	h.waitForPosition(t, 1)

	h.server.FailNextAnswers(1)
	h.send(t, "1")
	require.Eventually(t, func() bool {
		return h.machine.GetCurrentState() == conversation.StateErrorRetryable
	}, 2*time.Second, 5*time.Millisecond)
	h.waitForOutput(t, "Type /retry to try again, or /end to stop.")

	h.send(t, "an answer while failed")
	h.send(t, "/retry")
	h.waitForPosition(t, 2)

	require.NoError(t, h.input.Close())
	assert.ErrorIs(t, h.result(t), ErrInputClosed)
}

func TestSessionAsksAgainAfterGarbledReply(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore(), nil)
	h.run(context.Background())
	h.waitForPosition(t, 1)

	h.server.GarbleNextAnswers(1)
	h.send(t, "1")
	h.waitForOutput(t, "The interviewer didn't catch that. Please answer again.")
	h.waitForPosition(t, 1)
	assert.Nil(t, h.machine.Snapshot().Failure)

	h.send(t, "1")
	h.waitForPosition(t, 2)

	require.NoError(t, h.input.Close())
	assert.ErrorIs(t, h.result(t), ErrInputClosed)
}

func TestSessionResumesAfterRestart(t *testing.T) {
	kv := storage.NewMemoryStore()
	first := newHarness(t, kv, nil)
	first.run(context.Background())
	first.waitForPosition(t, 1)
	first.send(t, "3")
	first.waitForPosition(t, 2)
	require.NoError(t, first.input.Close())
	assert.ErrorIs(t, first.result(t), ErrInputClosed)

	st, err := first.rec.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)

	// A second process against the same server, as after a reload.
	second := newHarness(t, kv, first.server)
	second.run(context.Background())
	second.waitForOutput(t, "You have an unfinished interview (question 2).")
	second.send(t, "")
	second.waitForPosition(t, 2)
	require.NoError(t, second.input.Close())
	assert.ErrorIs(t, second.result(t), ErrInputClosed)
}

func TestConfirmResume(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"", true},
		{"y", true},
		{"YES", true},
		{"n", false},
		{"later", false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			h := newHarness(t, storage.NewMemoryStore(), nil)
			go func() { _, _ = io.WriteString(h.input, tt.answer+"\n") }()
			got, err := h.session.ConfirmResume(context.Background(), recovery.State{SessionID: "s-1", CurrentPosition: 2})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfirmResumeInputClosed(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore(), nil)
	require.NoError(t, h.input.Close())
	_, err := h.session.ConfirmResume(context.Background(), recovery.State{SessionID: "s-1", CurrentPosition: 1})
	assert.ErrorIs(t, err, ErrInputClosed)
}

func TestParseLine(t *testing.T) {
	choice := proto.Question{
		ID:   "q-1",
		Type: proto.QuestionTypeSingleChoice,
		Options: []proto.Option{
			{ID: "yes", Text: "Yes"},
			{ID: "no", Text: "No"},
		},
	}
	free := proto.Question{ID: "q-2", Type: proto.QuestionTypeFreeText}
	onChoice := conversation.Snapshot{Question: &choice}
	onFree := conversation.Snapshot{Question: &free}
	onFollowUp := conversation.Snapshot{Question: &choice, FollowUp: &proto.FollowUp{Text: "Why?"}}

	tests := []struct {
		name     string
		line     string
		snap     conversation.Snapshot
		cmd      Command
		option   string
		freeText string
	}{
		{"number", "2", onChoice, CmdNone, "no", ""},
		{"option text", " yes ", onChoice, CmdNone, "yes", ""},
		{"out of range", "3", onChoice, CmdNone, "", ""},
		{"free text", "  keep spaces ", onFree, CmdNone, "", "  keep spaces "},
		{"follow-up on choice question", "1", onFollowUp, CmdNone, "", "1"},
		{"skip", "/skip", onChoice, CmdSkip, "", ""},
		{"end", "/END", onFree, CmdEnd, "", ""},
		{"quit alias", "/quit", onFree, CmdEnd, "", ""},
		{"retry", "/retry", onFree, CmdRetry, "", ""},
		{"help", "/help", onFree, CmdHelp, "", ""},
		{"unknown", "/dance", onFree, CmdUnknown, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, in := parseLine(tt.line, tt.snap)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.option, in.SelectedOptionID)
			assert.Equal(t, tt.freeText, in.Text)
		})
	}
}

// Package conversation drives one survey interview: it owns the session, the transcript
// and the single slot awaiting an answer, and moves between states only in response to
// respondent actions or server replies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"surveychat/pkg/apiclient"
	"surveychat/pkg/effect"
	"surveychat/pkg/failure"
	"surveychat/pkg/logx"
	"surveychat/pkg/metrics"
	"surveychat/pkg/proto"
	"surveychat/pkg/validate"
)

// Snapshot is a consistent copy of the machine's observable state.
type Snapshot struct {
	State         State
	Session       *proto.Session
	Question      *proto.Question
	FollowUp      *proto.FollowUp
	Messages      []proto.Message
	Failure       *failure.Failure
	Summary       *proto.Summary
	AnsweredCount int
}

// Position is the current survey position, or 0 before a session exists.
func (s Snapshot) Position() int {
	if s.Session == nil {
		return 0
	}
	return s.Session.CurrentPosition
}

// Total is the number of survey questions, or 0 before a session exists.
func (s Snapshot) Total() int {
	if s.Session == nil {
		return 0
	}
	return s.Session.TotalQuestions
}

// AwaitingFollowUp reports whether the open slot is a follow-up probe.
func (s Snapshot) AwaitingFollowUp() bool {
	return s.FollowUp != nil
}

// CanRetry reports whether Retry would re-invoke a failed operation.
func (s Snapshot) CanRetry() bool {
	return s.State == StateErrorRetryable && s.Failure != nil && s.Failure.CanRetry
}

// Update is delivered to the subscriber after every committed change, in order.
type Update struct {
	Snapshot Snapshot
	// Appended holds the messages added by this change.
	Appended []proto.Message
}

// Deps wires a Machine to its collaborators. Client, Runtime and RespondentID are
// required.
type Deps struct {
	Client       apiclient.Client
	Runtime      effect.Runtime
	Validator    *validate.Validator
	Recorder     metrics.Recorder
	Logger       *logx.Logger
	SurveyID     string
	RespondentID string
	Now          func() time.Time
	NewKey       func() string
}

type pendingOp struct {
	op     string
	answer proto.Answer
	key    string
}

// Machine is the conversation state machine. All methods are safe for concurrent use;
// network calls are made without holding the state lock.
type Machine struct {
	client       apiclient.Client
	runtime      effect.Runtime
	validator    *validate.Validator
	recorder     metrics.Recorder
	logger       *logx.Logger
	surveyID     string
	respondentID string
	now          func() time.Time
	newKey       func() string

	mu       sync.Mutex
	state    State
	history  []StateTransition
	session  *proto.Session
	question *proto.Question
	followUp *proto.FollowUp
	messages []proto.Message
	answered int
	inFlight bool
	pending  *pendingOp
	failure  *failure.Failure
	summary  *proto.Summary
	resumeID string
	strikes  int
	epoch    uint64
	listener func(Update)

	// outMu orders effect execution and notification to match the order of commits.
	outMu sync.Mutex
}

// NewMachine creates a machine in IDLE.
func NewMachine(deps Deps) (*Machine, error) {
	if deps.Client == nil {
		return nil, errors.New("conversation: client is required")
	}
	if deps.Runtime == nil {
		return nil, errors.New("conversation: runtime is required")
	}
	if deps.RespondentID == "" {
		return nil, errors.New("conversation: respondent id is required")
	}
	m := &Machine{
		client:       deps.Client,
		runtime:      deps.Runtime,
		validator:    deps.Validator,
		recorder:     deps.Recorder,
		logger:       deps.Logger,
		surveyID:     deps.SurveyID,
		respondentID: deps.RespondentID,
		now:          deps.Now,
		newKey:       deps.NewKey,
		state:        StateIdle,
	}
	if m.validator == nil {
		m.validator = validate.New(validate.DefaultMinLength)
	}
	if m.recorder == nil {
		m.recorder = metrics.Nop()
	}
	if m.logger == nil {
		m.logger = logx.NewLogger("conversation")
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newKey == nil {
		m.newKey = uuid.NewString
	}
	return m, nil
}

// Subscribe registers the single change listener, replacing any previous one. The
// listener runs on the goroutine that made the change and must not call back into
// the machine; everything it needs is in the Update.
func (m *Machine) Subscribe(fn func(Update)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// GetCurrentState returns the current state.
func (m *Machine) GetCurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Transitions returns the recent transition history, oldest first.
func (m *Machine) Transitions() []StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StateTransition(nil), m.history...)
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:         m.state,
		Messages:      append([]proto.Message(nil), m.messages...),
		AnsweredCount: m.answered,
	}
	if m.session != nil {
		sess := *m.session
		s.Session = &sess
	}
	if m.question != nil {
		q := *m.question
		s.Question = &q
	}
	if m.followUp != nil {
		fu := *m.followUp
		s.FollowUp = &fu
	}
	if m.failure != nil {
		f := *m.failure
		s.Failure = &f
	}
	if m.summary != nil {
		sum := *m.summary
		s.Summary = &sum
	}
	return s
}

// transitionLocked validates and records a state change. Caller holds mu.
func (m *Machine) transitionLocked(to State, reason string) error {
	from := m.state
	if !ValidTransitions.IsValidTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.history = append(m.history, StateTransition{
		FromState: from,
		ToState:   to,
		Timestamp: m.now(),
		Reason:    reason,
	})
	if len(m.history) > maxHistory {
		m.history = append([]StateTransition(nil), m.history[len(m.history)-maxHistory:]...)
	}
	m.recorder.IncTransition(from.String(), to.String())
	m.logger.Info("🔄 State transition: %s → %s (%s)", from, to, reason)
	return nil
}

// appendLocked adds a transcript message and returns it with its effect.
func (m *Machine) appendLocked(role proto.Role, text string) (proto.Message, effect.Effect) {
	msg := proto.Message{Role: role, Text: text, At: m.now()}
	m.messages = append(m.messages, msg)
	sessionID := ""
	if m.session != nil {
		sessionID = m.session.ID
	}
	return msg, &effect.AppendMessageEffect{SessionID: sessionID, Message: msg}
}

// commit releases mu, then runs effects and notifies the listener. Effects and
// notifications from concurrent commits are serialized in commit order. Caller holds mu.
func (m *Machine) commit(ctx context.Context, effects []effect.Effect, appended []proto.Message) {
	update := Update{Snapshot: m.snapshotLocked(), Appended: appended}
	listener := m.listener
	m.outMu.Lock()
	m.mu.Unlock()
	defer m.outMu.Unlock()

	if len(effects) > 0 {
		effect.RunAll(context.WithoutCancel(ctx), m.runtime, effects)
	}
	if listener != nil {
		listener(update)
	}
}

// slotLocked returns what is awaiting an answer. Caller holds mu.
func (m *Machine) slotLocked() validate.Slot {
	if m.followUp != nil {
		return validate.Slot{FollowUp: m.followUp}
	}
	return validate.Slot{Question: m.question}
}

// failLocked records a retryable failure and commits it. Caller holds mu; it is
// released on return.
func (m *Machine) failLocked(ctx context.Context, op string, err error) error {
	f := failure.Classify(op, err)
	m.failure = &f
	if terr := m.transitionLocked(StateErrorRetryable, op+" failed"); terr != nil {
		m.mu.Unlock()
		return errors.Join(err, terr)
	}
	m.logger.Warn("%s failed: %v", op, err)
	m.commit(ctx, nil, nil)
	return &f
}

package conversation

import (
	"errors"
	"time"
)

// State is a conversation machine state.
type State string

const (
	StateIdle           State = "IDLE"
	StateStarting       State = "STARTING"
	StateAwaitingAnswer State = "AWAITING_ANSWER"
	StateSubmitting     State = "SUBMITTING"
	StateEnding         State = "ENDING"
	StateCompleted      State = "COMPLETED"
	StateErrorRetryable State = "ERROR_RETRYABLE"
	StateErrorFatal     State = "ERROR_FATAL"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateErrorFatal
}

// TransitionTable lists the states reachable from each state.
type TransitionTable map[State][]State

// ValidTransitions is the conversation transition table.
//
//nolint:gochecknoglobals // static table
var ValidTransitions = TransitionTable{
	StateIdle:           {StateStarting},
	StateStarting:       {StateAwaitingAnswer, StateErrorRetryable},
	StateAwaitingAnswer: {StateSubmitting, StateEnding},
	StateSubmitting:     {StateAwaitingAnswer, StateCompleted, StateErrorRetryable, StateEnding},
	StateErrorRetryable: {StateStarting, StateSubmitting, StateEnding},
	StateEnding:         {StateCompleted, StateErrorFatal},
	StateCompleted:      {},
	StateErrorFatal:     {},
}

// IsValidTransition checks the table for from -> to.
func (t TransitionTable) IsValidTransition(from, to State) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateTransition records one state change.
type StateTransition struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

const maxHistory = 100

var (
	// ErrInvalidTransition is returned when an operation would make a transition the
	// table does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrSubmissionInFlight is returned by Submit while an answer is being sent.
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	// ErrNotAwaitingAnswer is returned by Submit outside AWAITING_ANSWER.
	ErrNotAwaitingAnswer = errors.New("no question is awaiting an answer")
	// ErrNothingToRetry is returned by Retry when there is no failed operation.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrNoSession is returned by End before a session exists.
	ErrNoSession = errors.New("no session has been started")
	// ErrSessionTerminated is returned by an operation whose reply arrived after the
	// session was ended. The reply is discarded.
	ErrSessionTerminated = errors.New("session was terminated while the request was in flight")
	// ErrAnswerNotTaken is returned by Submit or Retry when the server's reply could not
	// be interpreted. The same slot is open again and should be answered again.
	ErrAnswerNotTaken = errors.New("the reply to the answer could not be interpreted")
)

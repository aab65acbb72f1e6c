// Package failure turns operation errors into respondent-facing failure notices.
package failure

import (
	"errors"

	"surveychat/pkg/apiclient"
	"surveychat/pkg/apierrors"
	"surveychat/pkg/proto"
)

// Kind decides how a failure is surfaced.
type Kind string

const (
	// KindRetryable failures offer a retry that re-invokes the exact failed operation.
	KindRetryable Kind = "retryable"
	// KindInformational failures are reported once and cannot be retried.
	KindInformational Kind = "informational"
	// KindDefect marks a server reply the client cannot interpret.
	KindDefect Kind = "defect"
)

// Failure is what the presenter shows in its modal.
type Failure struct {
	Op       string
	Kind     Kind
	Title    string
	Message  string
	Detail   string
	CanRetry bool
	Err      error
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return f.Title + ": " + f.Detail
	}
	return f.Title
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Classify maps an error from op (apiclient.OpStart, OpResume, OpAnswer, OpEnd) to a
// Failure. Start, resume and answer failures are always retryable; nothing the
// respondent typed is discarded.
func Classify(op string, err error) Failure {
	f := Failure{Op: op, Err: err}
	if err != nil {
		f.Detail = err.Error()
	}

	var pe *proto.ProtocolError
	if apierrors.Is(err, apierrors.ErrorTypeProtocol) || errors.As(err, &pe) {
		f.Kind = KindDefect
		f.Title = "Unexpected reply"
		f.Message = "The survey server sent a reply this client could not understand."
		if op != apiclient.OpEnd {
			f.Message += " Your answer is kept; retry to send it again."
			f.CanRetry = true
		}
		return f
	}

	switch op {
	case apiclient.OpEnd:
		f.Kind = KindInformational
		f.Title = "Interview ended"
		f.Message = "The interview has ended, but the end may not be recorded. Your answers are saved."
	case apiclient.OpStart, apiclient.OpResume:
		f.Kind = KindRetryable
		f.CanRetry = true
		f.Title = "Couldn't start the interview"
		f.Message = reachMessage(err) + " Retry to try again."
	default:
		f.Kind = KindRetryable
		f.CanRetry = true
		f.Title = "Your answer wasn't sent"
		f.Message = reachMessage(err) + " Your answer is kept; retry to send it again."
	}
	return f
}

func reachMessage(err error) string {
	switch apierrors.TypeOf(err) {
	case apierrors.ErrorTypeRateLimit:
		return "The survey server is busy right now."
	case apierrors.ErrorTypeServer:
		return "The survey server had a problem."
	case apierrors.ErrorTypeBadRequest, apierrors.ErrorTypeNotFound:
		return "The survey server rejected the request."
	case apierrors.ErrorTypeMalformed:
		return "The survey server sent an unreadable reply."
	default:
		return "We couldn't reach the survey server."
	}
}

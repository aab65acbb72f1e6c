package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reply is the typed result of submitting an answer or ending a session. The set of
// variants is closed: FollowUpReply, QuestionReply and CompletedReply.
type Reply interface {
	Type() MessageType
	isReply()
}

// FollowUpReply asks a probe about the previous answer.
type FollowUpReply struct {
	FollowUp FollowUp
}

// QuestionReply advances to the next survey question.
type QuestionReply struct {
	Question Question
}

// CompletedReply ends the interview. Summary may be nil.
type CompletedReply struct {
	Summary *Summary
}

func (FollowUpReply) Type() MessageType  { return MessageTypeFollowUp }
func (QuestionReply) Type() MessageType  { return MessageTypeQuestion }
func (CompletedReply) Type() MessageType { return MessageTypeCompleted }

func (FollowUpReply) isReply()  {}
func (QuestionReply) isReply()  {}
func (CompletedReply) isReply() {}

// ProtocolError reports a reply that could not be mapped to a variant.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// DecodeReply parses a raw reply body.
func DecodeReply(data []byte) (Reply, error) {
	var resp NextResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ProtocolError{Reason: "malformed reply body", Err: err}
	}
	return resp.Reply()
}

// Reply maps the wire shape to its typed variant.
func (r *NextResponse) Reply() (Reply, error) {
	switch r.MessageType {
	case MessageTypeFollowUp:
		if strings.TrimSpace(r.QuestionText) == "" {
			return nil, &ProtocolError{Reason: "follow_up_question without question_text"}
		}
		return FollowUpReply{FollowUp: FollowUp{Text: r.QuestionText, ParentMessageID: r.ParentMessageID}}, nil
	case MessageTypeQuestion:
		if r.Question == nil {
			return nil, &ProtocolError{Reason: "survey_question without question"}
		}
		if err := r.Question.validate(); err != nil {
			return nil, err
		}
		return QuestionReply{Question: *r.Question}, nil
	case MessageTypeCompleted:
		return CompletedReply{Summary: r.Summary}, nil
	case "":
		return nil, &ProtocolError{Reason: "missing message_type"}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message_type %q", r.MessageType)}
	}
}

func (q *Question) validate() error {
	if q.ID == "" {
		return &ProtocolError{Reason: "question without question_id"}
	}
	if q.Position < 1 {
		return &ProtocolError{Reason: fmt.Sprintf("question %s has invalid position %d", q.ID, q.Position)}
	}
	switch q.Type {
	case QuestionTypeFreeText:
	case QuestionTypeSingleChoice:
		if len(q.Options) == 0 {
			return &ProtocolError{Reason: fmt.Sprintf("single_choice question %s has no options", q.ID)}
		}
	default:
		return &ProtocolError{Reason: fmt.Sprintf("question %s has unknown type %q", q.ID, q.Type)}
	}
	return nil
}

// ValidateQuestion checks a question received outside a reply (start or resume).
func ValidateQuestion(q *Question) error {
	if q == nil {
		return &ProtocolError{Reason: "missing question"}
	}
	return q.validate()
}

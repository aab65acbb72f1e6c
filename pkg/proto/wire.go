package proto

// StartRequest is the body of POST /sessions/start.
type StartRequest struct {
	SurveyID     string `json:"survey_id"`
	RespondentID string `json:"respondent_id"`
	AnonymousID  string `json:"anonymous_id"`
}

// StartResponse is returned by a successful start.
type StartResponse struct {
	SessionID      string    `json:"session_id"`
	TotalQuestions int       `json:"total_questions"`
	FirstQuestion  *Question `json:"first_question"`
}

// ResumeRequest is the body of POST /sessions/{id}/resume.
type ResumeRequest struct {
	RespondentID string `json:"respondent_id"`
}

// ResumeResponse restores an active session. PendingFollowUp is set when the session
// was waiting on a follow-up answer.
type ResumeResponse struct {
	SessionID       string    `json:"session_id"`
	TotalQuestions  int       `json:"total_questions"`
	CurrentQuestion *Question `json:"current_question"`
	PendingFollowUp *FollowUp `json:"pending_follow_up,omitempty"`
}

// MessageType tags the variant of a next-step reply.
type MessageType string

const (
	MessageTypeFollowUp  MessageType = "follow_up_question"
	MessageTypeQuestion  MessageType = "survey_question"
	MessageTypeCompleted MessageType = "completed"
)

// NextResponse is the untyped wire shape of a submit or end reply. Use DecodeReply to
// obtain the typed variant.
type NextResponse struct {
	MessageType     MessageType `json:"message_type"`
	Question        *Question   `json:"question,omitempty"`
	QuestionText    string      `json:"question_text,omitempty"`
	ParentMessageID string      `json:"parent_message_id,omitempty"`
	Summary         *Summary    `json:"summary,omitempty"`
}

// EndRequest is the body of POST /sessions/{id}/end.
type EndRequest struct {
	Reason string `json:"reason"`
}

// EndReasonUserRequested is sent when the respondent ends the interview.
const EndReasonUserRequested = "user_requested"

// ErrorResponse is the body of a non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

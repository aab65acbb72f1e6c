// Package proto defines the survey data model and the wire format exchanged with the
// survey server.
package proto

import "time"

// QuestionType identifies how a survey question is answered.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "single_choice"
	QuestionTypeFreeText     QuestionType = "free_text"
)

// Option is one selectable choice of a single-choice question.
type Option struct {
	ID    string `json:"option_id"`
	Text  string `json:"text"`
	Score *int   `json:"score,omitempty"`
}

// Question is a survey question as served. Position is 1-based and absolute.
type Question struct {
	ID             string       `json:"question_id"`
	Type           QuestionType `json:"question_type"`
	Text           string       `json:"question_text"`
	Position       int          `json:"position"`
	Required       bool         `json:"is_required,omitempty"`
	AllowPreferNot bool         `json:"allow_prefer_not_to_answer,omitempty"`
	Options        []Option     `json:"options,omitempty"`
}

// Option returns the option with the given id.
func (q *Question) Option(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// FollowUp is a server-generated probe inserted after an answer. It has no stable id
// and never advances the survey position.
type FollowUp struct {
	Text            string `json:"question_text"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

// AnswerKind is the answer_type sent to the server.
type AnswerKind string

const (
	AnswerSingleChoice AnswerKind = "single_choice"
	AnswerFreeText     AnswerKind = "free_text"
	AnswerFollowUp     AnswerKind = "follow_up_answer"
	AnswerPreferNot    AnswerKind = "prefer_not_to_answer"
)

// PreferNotText is the text recorded for a declined question.
const PreferNotText = "Prefer not to answer"

// Answer is the outbound body of a submit-answer request. QuestionID is empty only for
// follow-up answers.
type Answer struct {
	QuestionID       string     `json:"question_id,omitempty"`
	Kind             AnswerKind `json:"answer_type"`
	Text             string     `json:"text,omitempty"`
	SelectedOptionID string     `json:"selected_option_id,omitempty"`
	ParentMessageID  string     `json:"parent_message_id,omitempty"`
}

// Status of a session from the client's point of view.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Session is the client's record of the interview in progress.
type Session struct {
	ID              string    `json:"session_id"`
	RespondentID    string    `json:"respondent_id"`
	TotalQuestions  int       `json:"total_questions"`
	CurrentPosition int       `json:"current_position"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
}

// Role of a transcript message author.
type Role string

const (
	RoleAssistant  Role = "assistant"
	RoleRespondent Role = "respondent"
)

// Message is one transcript entry.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Summary is the completion report. Every field may be absent.
type Summary struct {
	QuestionsAnswered *int     `json:"questions_answered,omitempty"`
	TotalQuestions    *int     `json:"total_questions,omitempty"`
	DurationSeconds   *float64 `json:"duration_seconds,omitempty"`
	SummaryText       string   `json:"summary_text,omitempty"`
}

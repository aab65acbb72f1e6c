// Package validate checks respondent input before it is submitted.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"surveychat/pkg/proto"
)

// DefaultMinLength is the minimum trimmed length of a free-text answer.
const DefaultMinLength = 10

// Kind identifies why input was rejected.
type Kind string

const (
	KindEmptyInput  Kind = "empty_input"
	KindTooShort    Kind = "too_short"
	KindNoSelection Kind = "no_selection"
)

// ValidationError is an inline rejection. It never changes conversation state.
type ValidationError struct {
	Kind      Kind
	Message   string
	Remaining int // characters still needed, for KindTooShort
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Slot is whatever is awaiting an answer: exactly one of Question and FollowUp is set.
type Slot struct {
	Question *proto.Question
	FollowUp *proto.FollowUp
}

// IsFollowUp reports whether the slot is a follow-up probe.
func (s Slot) IsFollowUp() bool {
	return s.FollowUp != nil
}

// Input is the raw respondent input for a slot.
type Input struct {
	Text             string
	SelectedOptionID string
	PreferNot        bool
}

// Validator holds the configurable rules.
type Validator struct {
	MinLength int
}

func New(minLength int) *Validator {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Validator{MinLength: minLength}
}

// Validate turns input into the outbound answer, or returns a *ValidationError.
func (v *Validator) Validate(slot Slot, in Input) (proto.Answer, error) {
	if in.PreferNot {
		return PreferNotAnswer(slot), nil
	}

	switch {
	case slot.FollowUp != nil:
		text, err := v.freeText(in.Text)
		if err != nil {
			return proto.Answer{}, err
		}
		return proto.Answer{
			Kind:            proto.AnswerFollowUp,
			Text:            text,
			ParentMessageID: slot.FollowUp.ParentMessageID,
		}, nil

	case slot.Question == nil:
		return proto.Answer{}, fmt.Errorf("no question is awaiting an answer")

	case slot.Question.Type == proto.QuestionTypeSingleChoice:
		opt, ok := slot.Question.Option(strings.TrimSpace(in.SelectedOptionID))
		if !ok {
			return proto.Answer{}, &ValidationError{Kind: KindNoSelection, Message: "Please select an option"}
		}
		return proto.Answer{
			QuestionID:       slot.Question.ID,
			Kind:             proto.AnswerSingleChoice,
			Text:             opt.Text,
			SelectedOptionID: opt.ID,
		}, nil

	default:
		text, err := v.freeText(in.Text)
		if err != nil {
			return proto.Answer{}, err
		}
		return proto.Answer{
			QuestionID: slot.Question.ID,
			Kind:       proto.AnswerFreeText,
			Text:       text,
		}, nil
	}
}

func (v *Validator) freeText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", &ValidationError{Kind: KindEmptyInput, Message: "Please enter an answer"}
	}
	if n := utf8.RuneCountInString(text); n < v.MinLength {
		remaining := v.MinLength - n
		return "", &ValidationError{
			Kind:      KindTooShort,
			Message:   fmt.Sprintf("%d more characters needed", remaining),
			Remaining: remaining,
		}
	}
	return text, nil
}

// PreferNotAnswer is the sentinel answer for a declined slot. It bypasses all checks.
func PreferNotAnswer(slot Slot) proto.Answer {
	a := proto.Answer{Kind: proto.AnswerPreferNot, Text: proto.PreferNotText}
	switch {
	case slot.FollowUp != nil:
		a.ParentMessageID = slot.FollowUp.ParentMessageID
	case slot.Question != nil:
		a.QuestionID = slot.Question.ID
	}
	return a
}

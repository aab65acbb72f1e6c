package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveychat/pkg/proto"
)

var (
	freeText = &proto.Question{ID: "q1", Type: proto.QuestionTypeFreeText, Text: "Why?", Position: 1}
	choice   = &proto.Question{
		ID: "q2", Type: proto.QuestionTypeSingleChoice, Text: "Pick", Position: 2,
		Options: []proto.Option{{ID: "o1", Text: "Agree"}, {ID: "o2", Text: "Disagree"}},
	}
	followUp = &proto.FollowUp{Text: "Tell me more", ParentMessageID: "m-3"}
)

func requireKind(t *testing.T, err error, kind Kind) *ValidationError {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	assert.Equal(t, kind, ve.Kind)
	return ve
}

func TestFreeTextLength(t *testing.T) {
	v := New(10)

	_, err := v.Validate(Slot{Question: freeText}, Input{Text: "123456789"})
	ve := requireKind(t, err, KindTooShort)
	assert.Equal(t, "1 more characters needed", ve.Message)
	assert.Equal(t, 1, ve.Remaining)

	ans, err := v.Validate(Slot{Question: freeText}, Input{Text: "1234567890"})
	require.NoError(t, err)
	assert.Equal(t, proto.Answer{QuestionID: "q1", Kind: proto.AnswerFreeText, Text: "1234567890"}, ans)
}

func TestFreeTextIsTrimmedAndCountedInRunes(t *testing.T) {
	v := New(10)

	_, err := v.Validate(Slot{Question: freeText}, Input{Text: "   short   "})
	ve := requireKind(t, err, KindTooShort)
	assert.Equal(t, "5 more characters needed", ve.Message)

	// 9 runes, 12 bytes
	_, err = v.Validate(Slot{Question: freeText}, Input{Text: "  égalité ç  "})
	ve = requireKind(t, err, KindTooShort)
	assert.Equal(t, "1 more characters needed", ve.Message)

	ans, err := v.Validate(Slot{Question: freeText}, Input{Text: " égalité ça "})
	require.NoError(t, err)
	assert.Equal(t, "égalité ça", ans.Text)
}

func TestEmptyInput(t *testing.T) {
	v := New(10)
	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := v.Validate(Slot{Question: freeText}, Input{Text: in})
		requireKind(t, err, KindEmptyInput)

		_, err = v.Validate(Slot{FollowUp: followUp}, Input{Text: in})
		requireKind(t, err, KindEmptyInput)
	}
}

func TestFollowUpAnswer(t *testing.T) {
	v := New(10)

	_, err := v.Validate(Slot{FollowUp: followUp}, Input{Text: "because"})
	requireKind(t, err, KindTooShort)

	ans, err := v.Validate(Slot{FollowUp: followUp}, Input{Text: "because it matters to me"})
	require.NoError(t, err)
	assert.Empty(t, ans.QuestionID)
	assert.Equal(t, proto.AnswerFollowUp, ans.Kind)
	assert.Equal(t, "m-3", ans.ParentMessageID)
}

func TestSingleChoice(t *testing.T) {
	v := New(10)

	_, err := v.Validate(Slot{Question: choice}, Input{})
	requireKind(t, err, KindNoSelection)

	_, err = v.Validate(Slot{Question: choice}, Input{SelectedOptionID: "o9"})
	requireKind(t, err, KindNoSelection)

	ans, err := v.Validate(Slot{Question: choice}, Input{SelectedOptionID: "o2"})
	require.NoError(t, err)
	assert.Equal(t, proto.Answer{QuestionID: "q2", Kind: proto.AnswerSingleChoice, Text: "Disagree", SelectedOptionID: "o2"}, ans)
}

func TestPreferNotBypassesChecks(t *testing.T) {
	v := New(10)

	ans, err := v.Validate(Slot{Question: choice}, Input{PreferNot: true})
	require.NoError(t, err)
	assert.Equal(t, proto.Answer{QuestionID: "q2", Kind: proto.AnswerPreferNot, Text: "Prefer not to answer"}, ans)

	ans, err = v.Validate(Slot{Question: freeText}, Input{PreferNot: true, Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, proto.AnswerPreferNot, ans.Kind)

	ans, err = v.Validate(Slot{FollowUp: followUp}, Input{PreferNot: true})
	require.NoError(t, err)
	assert.Equal(t, "m-3", ans.ParentMessageID)
	assert.Empty(t, ans.QuestionID)
}

func TestDefaultMinLength(t *testing.T) {
	v := New(0)
	assert.Equal(t, DefaultMinLength, v.MinLength)

	_, err := v.Validate(Slot{Question: freeText}, Input{Text: strings.Repeat("a", DefaultMinLength)})
	assert.NoError(t, err)
}

func TestEmptySlot(t *testing.T) {
	_, err := New(10).Validate(Slot{}, Input{Text: "long enough answer"})
	require.Error(t, err)
	var ve *ValidationError
	assert.False(t, errors.As(err, &ve))
}

package cli

import (
	"strconv"
	"strings"

	"surveychat/pkg/conversation"
	"surveychat/pkg/proto"
	"surveychat/pkg/validate"
)

// Command is a slash command typed at the prompt.
type Command string

const (
	CmdNone    Command = ""
	CmdSkip    Command = "skip"
	CmdRetry   Command = "retry"
	CmdEnd     Command = "end"
	CmdHelp    Command = "help"
	CmdUnknown Command = "unknown"
)

const helpText = `Commands:
  <text>   answer the current question
  <number> pick an option of a multiple-choice question
  /skip    prefer not to answer (when offered)
  /retry   retry after a connection problem
  /end     end the interview now
  /help    show this help`

// parseLine turns a line into a command or an answer for the slot in snap.
func parseLine(line string, snap conversation.Snapshot) (Command, validate.Input) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "/") {
		switch strings.ToLower(strings.TrimPrefix(trimmed, "/")) {
		case "skip":
			return CmdSkip, validate.Input{}
		case "retry":
			return CmdRetry, validate.Input{}
		case "end", "quit", "exit":
			return CmdEnd, validate.Input{}
		case "help", "?":
			return CmdHelp, validate.Input{}
		default:
			return CmdUnknown, validate.Input{}
		}
	}

	if snap.FollowUp == nil && snap.Question != nil && snap.Question.Type == proto.QuestionTypeSingleChoice {
		return CmdNone, validate.Input{SelectedOptionID: selectOption(trimmed, snap.Question.Options)}
	}
	return CmdNone, validate.Input{Text: line}
}

// selectOption resolves a 1-based number or the exact option text. Anything else
// selects nothing.
func selectOption(choice string, options []proto.Option) string {
	if n, err := strconv.Atoi(choice); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1].ID
		}
		return ""
	}
	for _, opt := range options {
		if strings.EqualFold(choice, opt.Text) || strings.EqualFold(choice, opt.ID) {
			return opt.ID
		}
	}
	return ""
}

// isYes treats only an explicit y/yes as consent.
func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

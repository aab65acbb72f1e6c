// Package presenter renders conversation updates to a terminal. It is a projection of
// the machine's snapshots: it never changes conversation state.
package presenter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"surveychat/pkg/conversation"
	"surveychat/pkg/logx"
	"surveychat/pkg/proto"
	"surveychat/pkg/validate"
)

const (
	interviewerPrefix = "Interviewer: "
	respondentPrefix  = "You: "
)

// Option configures a Presenter.
type Option func(*Presenter)

// WithReveal sets the reveal pacing. A config with Enabled false paints instantly.
func WithReveal(cfg RevealConfig) Option {
	return func(p *Presenter) { p.reveal = cfg }
}

// WithWidth wraps output at width columns. Zero disables wrapping.
func WithWidth(width int) Option {
	return func(p *Presenter) { p.width = width }
}

// WithMinLength sets the minimum free-text length shown in the composer hint.
func WithMinLength(n int) Option {
	return func(p *Presenter) { p.minLength = n }
}

// Presenter writes the transcript, progress indicator, composer and failure modals.
type Presenter struct {
	out       io.Writer
	reveal    RevealConfig
	width     int
	minLength int
	logger    *logx.Logger

	mu           sync.Mutex
	snap         conversation.Snapshot
	inputEnabled bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// New creates a presenter on out. When out is not a terminal the reveal is disabled
// and nothing is wrapped.
func New(out io.Writer, opts ...Option) *Presenter {
	p := &Presenter{
		out:       out,
		reveal:    DefaultRevealConfig(),
		minLength: validate.DefaultMinLength,
		logger:    logx.NewLogger("presenter"),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = w
		}
	} else {
		p.reveal.Enabled = false
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Render projects an update. Interviewer messages are revealed on a separate goroutine;
// a new reveal supersedes the previous one, whose remaining text is flushed first.
func (p *Presenter) Render(u conversation.Update) {
	p.supersede()

	p.mu.Lock()
	p.snap = u.Snapshot
	var interviewer []string
	for _, msg := range u.Appended {
		if msg.Role == proto.RoleRespondent {
			if len(interviewer) > 0 {
				p.logger.Warn("respondent message after interviewer message in one update")
			}
			p.writeLocked(p.format(respondentPrefix, msg.Text) + "\n")
			continue
		}
		interviewer = append(interviewer, msg.Text)
	}

	if len(interviewer) == 0 || !p.reveal.Enabled {
		for _, text := range interviewer {
			p.writeLocked(p.format(interviewerPrefix, text) + "\n")
		}
		p.paintStatusLocked()
		p.inputEnabled = acceptsInput(p.snap)
		p.mu.Unlock()
		return
	}

	p.inputEnabled = false
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	go p.run(ctx, interviewer, done)
}

// run types out texts. On cancellation the remaining text is written at once and the
// status is left to the superseding render.
func (p *Presenter) run(ctx context.Context, texts []string, done chan struct{}) {
	defer close(done)

	canceled := false
	for _, text := range texts {
		formatted := []rune(p.format(interviewerPrefix, text))
		prefixLen := len([]rune(interviewerPrefix))
		p.write(string(formatted[:prefixLen]))
		body := formatted[prefixLen:]

		if canceled || !sleep(ctx, p.reveal.StartDelay) {
			canceled = true
			p.write(string(body) + "\n")
			continue
		}
		per := p.reveal.PerChar(len([]rune(text)))
		for i, r := range body {
			if !sleep(ctx, per) {
				canceled = true
				p.write(string(body[i:]))
				break
			}
			p.write(string(r))
		}
		p.write("\n")
	}
	if canceled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.paintStatusLocked()
	p.inputEnabled = acceptsInput(p.snap)
}

// supersede cancels a running reveal and waits for it to flush.
func (p *Presenter) supersede() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current reveal, if any, has finished.
func (p *Presenter) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Flush ends a running reveal immediately and paints the current status.
func (p *Presenter) Flush() {
	p.supersede()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inputEnabled {
		p.paintStatusLocked()
		p.inputEnabled = acceptsInput(p.snap)
	}
}

// InputEnabled reports whether the composer accepts answers. Termination is always
// accepted.
func (p *Presenter) InputEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputEnabled
}

// ShowValidation prints an inline validation message below the composer.
func (p *Presenter) ShowValidation(err *validate.ValidationError) {
	p.Notice("⚠️  " + err.Message)
}

// Notice prints a one-line message.
func (p *Presenter) Notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeLocked(text + "\n")
}

// Prompt prints the input prompt without a newline.
func (p *Presenter) Prompt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeLocked("> ")
}

func acceptsInput(s conversation.Snapshot) bool {
	return s.State == conversation.StateAwaitingAnswer
}

// Progress returns the progress indicator for s, or "" when it is hidden.
func Progress(s conversation.Snapshot) string {
	if s.Session == nil || s.State.IsTerminal() || s.State == conversation.StateEnding {
		return ""
	}
	text := fmt.Sprintf("Question %d of %d", s.Position(), s.Total())
	if s.AwaitingFollowUp() {
		text += " (Follow-up question)"
	}
	return text
}

func (p *Presenter) paintStatusLocked() {
	s := p.snap
	switch s.State {
	case conversation.StateStarting:
		p.writeLocked("⏳ Connecting to the survey...\n")
	case conversation.StateEnding:
		p.writeLocked("⏳ Ending the interview...\n")
	case conversation.StateErrorRetryable, conversation.StateErrorFatal:
		if s.Failure != nil {
			p.writeLocked(p.modal(s))
		}
	case conversation.StateAwaitingAnswer:
		p.writeLocked(p.composer(s))
	}
}

func (p *Presenter) modal(s conversation.Snapshot) string {
	f := s.Failure
	var b strings.Builder
	b.WriteString("\n")
	if s.State == conversation.StateErrorFatal {
		b.WriteString("ℹ️  ")
	} else {
		b.WriteString("❌ ")
	}
	b.WriteString(f.Title + "\n")
	b.WriteString(wrap(f.Message, p.width) + "\n")
	if s.CanRetry() {
		b.WriteString("Type /retry to try again, or /end to stop.\n")
	}
	return b.String()
}

func (p *Presenter) composer(s conversation.Snapshot) string {
	var b strings.Builder
	if progress := Progress(s); progress != "" {
		b.WriteString("\n[" + progress + "]\n")
	}
	switch {
	case s.FollowUp != nil:
		fmt.Fprintf(&b, "Type your answer (at least %d characters).\n", p.minLength)
	case s.Question != nil && s.Question.Type == proto.QuestionTypeSingleChoice:
		for i, opt := range s.Question.Options {
			fmt.Fprintf(&b, "  %d) %s\n", i+1, opt.Text)
		}
		b.WriteString("Type the number of your choice.\n")
	case s.Question != nil:
		fmt.Fprintf(&b, "Type your answer (at least %d characters).\n", p.minLength)
	}
	if s.FollowUp == nil && s.Question != nil && s.Question.AllowPreferNot {
		b.WriteString("/skip to prefer not to answer. ")
	}
	b.WriteString("/end to finish early, /help for commands.\n")
	return b.String()
}

// format prefixes text and wraps it, indenting continuation lines under the prefix.
func (p *Presenter) format(prefix, text string) string {
	pad := len([]rune(prefix))
	body := text
	if p.width > pad+10 {
		body = wrap(text, p.width-pad)
	}
	lines := strings.Split(body, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = strings.Repeat(" ", pad) + lines[i]
		}
	}
	return prefix + strings.Join(lines, "\n")
}

func (p *Presenter) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeLocked(s)
}

func (p *Presenter) writeLocked(s string) {
	if _, err := io.WriteString(p.out, s); err != nil {
		p.logger.Debug("write failed: %v", err)
	}
}

// Package cli runs the interview at a terminal: it reads respondent lines, turns them
// into machine operations and lets the presenter draw the results.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"surveychat/pkg/conversation"
	"surveychat/pkg/failure"
	"surveychat/pkg/logx"
	"surveychat/pkg/presenter"
	"surveychat/pkg/proto"
	"surveychat/pkg/recovery"
	"surveychat/pkg/validate"
)

// ErrInputClosed is returned by Run when input ends before the interview does. The
// session stays resumable.
var ErrInputClosed = errors.New("input closed")

// Session wires one machine and one presenter to a line-oriented input.
type Session struct {
	machine   *conversation.Machine
	presenter *presenter.Presenter
	logger    *logx.Logger

	lines chan string
	once  sync.Once
	in    io.Reader

	done     chan struct{}
	doneOnce sync.Once
	ops      sync.WaitGroup

	// sending is set from the moment an answer line is read until the machine has
	// taken it.
	sending atomic.Bool
}

// NewSession creates a session reading respondent input from in.
func NewSession(m *conversation.Machine, p *presenter.Presenter, in io.Reader) *Session {
	return &Session{
		machine:   m,
		presenter: p,
		logger:    logx.NewLogger("cli"),
		in:        in,
		lines:     make(chan string),
		done:      make(chan struct{}),
	}
}

// readLines feeds lines to s.lines until input ends.
func (s *Session) readLines() {
	s.once.Do(func() {
		go func() {
			defer close(s.lines)
			scanner := bufio.NewScanner(s.in)
			for scanner.Scan() {
				s.lines <- scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				s.logger.Warn("input error: %v", err)
			}
		}()
	})
}

// next blocks for one line of input.
func (s *Session) next(ctx context.Context) (string, error) {
	s.readLines()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return "", ErrInputClosed
		}
		return line, nil
	}
}

// ConfirmResume asks whether to continue an interrupted interview. It is a
// recovery.ConfirmFunc; an empty answer resumes.
func (s *Session) ConfirmResume(ctx context.Context, st recovery.State) (bool, error) {
	s.presenter.Notice(fmt.Sprintf("📋 You have an unfinished interview (question %d).", st.CurrentPosition))
	s.presenter.Notice("Resume where you left off? [Y/n]: ")
	line, err := s.next(ctx)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(line) == "" {
		return true, nil
	}
	return isYes(line), nil
}

// Run resolves the recovery guard, starts the interview and processes input until
// the conversation reaches a terminal state, input ends or ctx is cancelled.
func (s *Session) Run(ctx context.Context, guard *recovery.Guard) error {
	s.machine.Subscribe(func(u conversation.Update) {
		s.presenter.Render(u)
		if u.Snapshot.State.IsTerminal() {
			s.doneOnce.Do(func() { close(s.done) })
		}
	})

	decision, err := guard.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve recovery state: %w", err)
	}

	s.dispatch(ctx, "start", func(ctx context.Context) error {
		return s.machine.Start(ctx, decision)
	})

	s.readLines()
	defer s.ops.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			s.presenter.Wait()
			return nil
		case line, ok := <-s.lines:
			if !ok {
				s.logger.Info("input closed before the interview finished")
				return ErrInputClosed
			}
			if err := s.handle(ctx, line); err != nil {
				return err
			}
		}
	}
}

// handle processes one input line.
func (s *Session) handle(ctx context.Context, line string) error {
	snap := s.machine.Snapshot()
	cmd, in := parseLine(line, snap)

	switch cmd {
	case CmdHelp:
		s.presenter.Notice(helpText)
		return nil
	case CmdUnknown:
		s.presenter.Notice("Unknown command. Type /help for the list.")
		return nil
	case CmdEnd:
		return s.confirmEnd(ctx, snap)
	case CmdRetry:
		if !snap.CanRetry() {
			s.presenter.Notice("There is nothing to retry.")
			return nil
		}
		s.dispatchAnswer(ctx, "retry", s.machine.Retry)
		return nil
	}

	if strings.TrimSpace(line) == "" && !s.presenter.InputEnabled() {
		// Enter while the interviewer is still typing shows the rest at once.
		s.presenter.Flush()
		return nil
	}
	if !s.presenter.InputEnabled() {
		s.waitNotice(snap)
		return nil
	}

	if cmd == CmdSkip {
		if snap.FollowUp != nil || snap.Question == nil || !snap.Question.AllowPreferNot {
			s.presenter.Notice("This question can't be skipped.")
			return nil
		}
		s.dispatchAnswer(ctx, "prefer_not", s.machine.PreferNotToAnswer)
		return nil
	}

	s.dispatchAnswer(ctx, "submit", func(ctx context.Context) error {
		return s.machine.Submit(ctx, in)
	})
	return nil
}

func (s *Session) waitNotice(snap conversation.Snapshot) {
	switch snap.State {
	case conversation.StateErrorRetryable:
		s.presenter.Notice("Type /retry to try again, or /end to stop.")
	default:
		s.presenter.Notice("⏳ Please wait for the interviewer.")
	}
}

// confirmEnd asks before ending. Ending is allowed in any non-terminal state with a
// session, including while an answer is in flight.
func (s *Session) confirmEnd(ctx context.Context, snap conversation.Snapshot) error {
	if snap.Session == nil {
		s.presenter.Notice("The interview has not started yet.")
		return nil
	}
	if snap.State == conversation.StateEnding || snap.State.IsTerminal() {
		return nil
	}
	s.presenter.Notice("Are you sure you want to end the interview? [y/N]: ")
	answer, err := s.next(ctx)
	if err != nil {
		return err
	}
	if !isYes(answer) {
		s.presenter.Notice("Continuing the interview.")
		s.presenter.Flush()
		return nil
	}
	s.dispatch(ctx, "end", func(ctx context.Context) error {
		return s.machine.End(ctx, proto.EndReasonUserRequested)
	})
	return nil
}

// dispatchAnswer dispatches an operation that sends an answer. At most one runs at a
// time, so answers reach the machine in the order they were typed.
func (s *Session) dispatchAnswer(ctx context.Context, name string, op func(context.Context) error) {
	if !s.sending.CompareAndSwap(false, true) {
		s.presenter.Notice("⏳ Your previous answer is still being sent.")
		return
	}
	s.dispatch(ctx, name, func(ctx context.Context) error {
		defer s.sending.Store(false)
		return op(ctx)
	})
}

// dispatch runs a machine operation without blocking input. Failures the machine
// surfaces through its state are only logged here.
func (s *Session) dispatch(ctx context.Context, name string, op func(context.Context) error) {
	s.ops.Add(1)
	go func() {
		defer s.ops.Done()
		err := op(ctx)
		if err == nil {
			return
		}

		var ve *validate.ValidationError
		var f *failure.Failure
		switch {
		case errors.As(err, &ve):
			s.presenter.ShowValidation(ve)
			s.presenter.Prompt()
		case errors.Is(err, conversation.ErrAnswerNotTaken):
			s.logger.Warn("%s not taken: %v", name, err)
			s.presenter.Notice("The interviewer didn't catch that. Please answer again.")
			s.presenter.Prompt()
		case errors.Is(err, conversation.ErrSubmissionInFlight):
			s.presenter.Notice("⏳ Your previous answer is still being sent.")
		case errors.Is(err, conversation.ErrNotAwaitingAnswer),
			errors.Is(err, conversation.ErrNothingToRetry),
			errors.Is(err, conversation.ErrSessionTerminated):
			s.logger.Debug("%s ignored: %v", name, err)
		case errors.As(err, &f):
			s.logger.Warn("%s failed: %v", name, f)
		case errors.Is(err, context.Canceled):
			s.logger.Debug("%s cancelled", name)
		default:
			s.logger.Error("%s failed: %v", name, err)
		}
	}()
}

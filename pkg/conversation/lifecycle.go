package conversation

import (
	"context"
	"errors"
	"fmt"

	"surveychat/pkg/apiclient"
	"surveychat/pkg/apierrors"
	"surveychat/pkg/effect"
	"surveychat/pkg/events"
	"surveychat/pkg/failure"
	"surveychat/pkg/proto"
	"surveychat/pkg/recovery"
	"surveychat/pkg/validate"
)

// Start opens the interview. With a resume decision it resumes the recorded session.
// If the server cannot find or restore it, the stale recovery state is cleared and a
// fresh session is started. Any other resume failure keeps the recovery state and
// surfaces as retryable; Retry re-issues the resume.
func (m *Machine) Start(ctx context.Context, decision recovery.Decision) error {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, state)
	}
	if decision.Resume && decision.State != nil {
		m.resumeID = decision.State.SessionID
	}
	return m.runStart(ctx)
}

// runStart is entered with mu held, in IDLE or ERROR_RETRYABLE.
func (m *Machine) runStart(ctx context.Context) error {
	if err := m.transitionLocked(StateStarting, "start"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.failure = nil
	m.pending = nil
	resumeID := m.resumeID
	m.commit(ctx, nil, nil)

	var (
		resumed *proto.ResumeResponse
		started *proto.StartResponse
		err     error
	)
	if resumeID != "" {
		resumed, err = m.client.ResumeSession(ctx, resumeID, m.respondentID)
		if err != nil && !sessionUnrecoverable(err) {
			m.mu.Lock()
			if m.state != StateStarting {
				m.mu.Unlock()
				return ErrSessionTerminated
			}
			m.pending = &pendingOp{op: apiclient.OpResume}
			return m.failLocked(ctx, apiclient.OpResume, err)
		}
		if err != nil {
			m.logger.Warn("resume of session %s failed, starting fresh: %v", resumeID, err)
			m.mu.Lock()
			m.resumeID = ""
			m.commit(ctx, []effect.Effect{&effect.ClearRecoveryEffect{Reason: "resume failed"}}, nil)
			resumed = nil
		}
	}
	if resumed == nil {
		started, err = m.client.StartSession(ctx, m.surveyID, m.respondentID)
	}

	m.mu.Lock()
	if m.state != StateStarting {
		m.mu.Unlock()
		return ErrSessionTerminated
	}
	if err != nil {
		m.pending = &pendingOp{op: apiclient.OpStart}
		return m.failLocked(ctx, apiclient.OpStart, err)
	}

	var (
		sessionID string
		total     int
		question  proto.Question
		followUp  *proto.FollowUp
	)
	if resumed != nil {
		sessionID, total, question, followUp = resumed.SessionID, resumed.TotalQuestions, *resumed.CurrentQuestion, resumed.PendingFollowUp
	} else {
		sessionID, total, question = started.SessionID, started.TotalQuestions, *started.FirstQuestion
	}

	m.session = &proto.Session{
		ID:              sessionID,
		RespondentID:    m.respondentID,
		TotalQuestions:  total,
		CurrentPosition: question.Position,
		Status:          proto.StatusActive,
		StartedAt:       m.now(),
	}
	m.question = &question
	m.followUp = nil
	if followUp != nil {
		fu := *followUp
		m.followUp = &fu
	}
	m.answered = 0
	if resumed != nil && question.Position > 1 {
		m.answered = question.Position - 1
	}
	m.strikes = 0
	m.resumeID = ""

	var (
		appended []proto.Message
		effects  []effect.Effect
	)
	msg, eff := m.appendLocked(proto.RoleAssistant, question.Text)
	appended, effects = append(appended, msg), append(effects, eff)
	if m.followUp != nil {
		msg, eff = m.appendLocked(proto.RoleAssistant, m.followUp.Text)
		appended, effects = append(appended, msg), append(effects, eff)
	}
	effects = append(effects,
		&effect.PersistRecoveryEffect{SessionID: sessionID, Position: question.Position},
		&effect.PublishEventEffect{Event: events.Event{
			Type:         events.SessionStarted,
			SessionID:    sessionID,
			RespondentID: m.respondentID,
			Position:     question.Position,
			Resumed:      resumed != nil,
			At:           m.now(),
		}},
	)
	reason := "session started"
	if resumed != nil {
		reason = "session resumed"
	}
	if err := m.transitionLocked(StateAwaitingAnswer, reason); err != nil {
		m.mu.Unlock()
		return err
	}
	m.commit(ctx, effects, appended)
	return nil
}

// sessionUnrecoverable reports whether a resume error means the server cannot find or
// restore the session, as opposed to being unreachable.
func sessionUnrecoverable(err error) bool {
	switch apierrors.TypeOf(err) {
	case apierrors.ErrorTypeNotFound, apierrors.ErrorTypeBadRequest, apierrors.ErrorTypeProtocol:
		return true
	default:
		return false
	}
}

// Submit validates input against the open slot and sends it. A *validate.ValidationError
// leaves the state untouched. The respondent's message is appended before the request
// is made.
func (m *Machine) Submit(ctx context.Context, in validate.Input) error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return ErrSubmissionInFlight
	}
	if m.state != StateAwaitingAnswer {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotAwaitingAnswer, state)
	}
	answer, err := m.validator.Validate(m.slotLocked(), in)
	if err != nil {
		var ve *validate.ValidationError
		if errors.As(err, &ve) {
			m.recorder.IncValidationFailure(string(ve.Kind))
		}
		m.mu.Unlock()
		return err
	}

	m.pending = &pendingOp{op: apiclient.OpAnswer, answer: answer, key: m.newKey()}
	m.inFlight = true
	msg, eff := m.appendLocked(proto.RoleRespondent, answer.Text)
	if err := m.transitionLocked(StateSubmitting, "answer submitted"); err != nil {
		m.inFlight = false
		m.mu.Unlock()
		return err
	}
	epoch := m.epoch
	m.commit(ctx, []effect.Effect{eff}, []proto.Message{msg})
	return m.send(ctx, epoch)
}

// PreferNotToAnswer submits the prefer-not sentinel for the open slot.
func (m *Machine) PreferNotToAnswer(ctx context.Context) error {
	return m.Submit(ctx, validate.Input{PreferNot: true})
}

// Retry re-invokes the failed operation. A retried answer reuses its idempotency key
// and does not append the respondent message again.
func (m *Machine) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateErrorRetryable || m.pending == nil {
		m.mu.Unlock()
		return ErrNothingToRetry
	}
	op := m.pending.op
	m.recorder.IncRetry(op)
	m.logger.Info("retrying %s", op)

	if op == apiclient.OpStart || op == apiclient.OpResume {
		return m.runStart(ctx)
	}

	m.failure = nil
	m.inFlight = true
	if err := m.transitionLocked(StateSubmitting, "retry"); err != nil {
		m.inFlight = false
		m.mu.Unlock()
		return err
	}
	epoch := m.epoch
	m.commit(ctx, nil, nil)
	return m.send(ctx, epoch)
}

// send issues the pending answer. Entered without mu, in SUBMITTING.
func (m *Machine) send(ctx context.Context, epoch uint64) error {
	m.mu.Lock()
	if m.epoch != epoch || m.pending == nil {
		m.mu.Unlock()
		return ErrSessionTerminated
	}
	p := *m.pending
	sessionID := m.session.ID
	m.mu.Unlock()

	reply, err := m.client.SubmitAnswer(apiclient.WithIdempotencyKey(ctx, p.key), sessionID, p.answer)

	m.mu.Lock()
	if m.epoch != epoch || m.state != StateSubmitting {
		m.logger.Info("discarding reply for session %s: session was terminated", sessionID)
		m.mu.Unlock()
		return ErrSessionTerminated
	}
	m.inFlight = false
	if err != nil {
		if apierrors.Is(err, apierrors.ErrorTypeProtocol) {
			return m.protocolViolationLocked(ctx, err)
		}
		return m.failLocked(ctx, apiclient.OpAnswer, err)
	}
	return m.applyReplyLocked(ctx, p, reply)
}

// protocolViolationLocked handles a reply that cannot be interpreted. The first one
// returns to the open slot without changing the conversation and reports
// ErrAnswerNotTaken; a second in a row surfaces as a retryable failure. Caller holds mu;
// it is released on return.
func (m *Machine) protocolViolationLocked(ctx context.Context, err error) error {
	m.strikes++
	m.recorder.IncProtocolViolation()
	m.logger.Warn("protocol violation %d for session %s: %v", m.strikes, m.session.ID, err)
	if m.strikes >= 2 {
		return m.failLocked(ctx, apiclient.OpAnswer, err)
	}
	m.pending = nil
	m.logger.Debug("reopening %s at position %d after protocol violation", slotName(m.slotLocked()), m.session.CurrentPosition)
	if terr := m.transitionLocked(StateAwaitingAnswer, "protocol violation"); terr != nil {
		m.mu.Unlock()
		return terr
	}
	m.commit(ctx, nil, nil)
	return fmt.Errorf("%w: %w", ErrAnswerNotTaken, err)
}

func slotName(slot validate.Slot) string {
	switch {
	case slot.IsFollowUp():
		return "follow-up"
	case slot.Question != nil:
		return "question " + slot.Question.ID
	default:
		return "slot"
	}
}

// applyReplyLocked advances the conversation for a server reply. Caller holds mu; it is
// released on return.
func (m *Machine) applyReplyLocked(ctx context.Context, p pendingOp, reply proto.Reply) error {
	sessionID := m.session.ID
	answeredQuestion := p.answer.QuestionID != ""

	switch r := reply.(type) {
	case proto.FollowUpReply:
		m.strikes = 0
		m.pending = nil
		if answeredQuestion {
			m.answered++
		}
		fu := r.FollowUp
		m.followUp = &fu
		msg, eff := m.appendLocked(proto.RoleAssistant, fu.Text)
		effects := []effect.Effect{eff, m.answerEvent(p)}
		if err := m.transitionLocked(StateAwaitingAnswer, "follow-up"); err != nil {
			m.mu.Unlock()
			return err
		}
		m.commit(ctx, effects, []proto.Message{msg})
		return nil

	case proto.QuestionReply:
		q := r.Question
		if q.Position < m.session.CurrentPosition {
			return m.protocolViolationLocked(ctx, &proto.ProtocolError{
				Reason: fmt.Sprintf("question position went back from %d to %d", m.session.CurrentPosition, q.Position),
			})
		}
		m.strikes = 0
		m.pending = nil
		if answeredQuestion {
			m.answered++
		}
		m.followUp = nil
		m.question = &q
		m.session.CurrentPosition = q.Position
		msg, eff := m.appendLocked(proto.RoleAssistant, q.Text)
		effects := []effect.Effect{
			eff,
			&effect.PersistRecoveryEffect{SessionID: sessionID, Position: q.Position},
			m.answerEvent(p),
		}
		if err := m.transitionLocked(StateAwaitingAnswer, "next question"); err != nil {
			m.mu.Unlock()
			return err
		}
		m.commit(ctx, effects, []proto.Message{msg})
		return nil

	case proto.CompletedReply:
		m.strikes = 0
		if answeredQuestion {
			m.answered++
		}
		return m.completeLocked(ctx, r.Summary, []effect.Effect{m.answerEvent(p)}, events.Event{
			Type: events.SessionCompleted,
		})

	default:
		return m.protocolViolationLocked(ctx, &proto.ProtocolError{Reason: fmt.Sprintf("unexpected reply %T", reply)})
	}
}

func (m *Machine) answerEvent(p pendingOp) effect.Effect {
	return &effect.PublishEventEffect{Event: events.Event{
		Type:         events.AnswerSubmitted,
		SessionID:    m.session.ID,
		RespondentID: m.respondentID,
		Position:     m.session.CurrentPosition,
		AnswerKind:   string(p.answer.Kind),
		At:           m.now(),
	}}
}

// completeLocked appends the completion message, clears recovery state and moves to
// COMPLETED. Caller holds mu; it is released on return.
func (m *Machine) completeLocked(ctx context.Context, summary *proto.Summary, effects []effect.Effect, ev events.Event) error {
	m.summary = summary
	m.pending = nil
	m.failure = nil
	m.question = nil
	m.followUp = nil
	m.session.Status = proto.StatusCompleted

	text := proto.CompletionText(summary, m.answered, m.now().Sub(m.session.StartedAt))
	msg, eff := m.appendLocked(proto.RoleAssistant, text)

	ev.SessionID = m.session.ID
	ev.RespondentID = m.respondentID
	ev.Position = m.session.CurrentPosition
	ev.At = m.now()
	effects = append(effects, eff,
		&effect.ClearRecoveryEffect{Reason: "completed"},
		&effect.PublishEventEffect{Event: ev},
	)
	if err := m.transitionLocked(StateCompleted, string(ev.Type)); err != nil {
		m.mu.Unlock()
		return err
	}
	m.commit(ctx, effects, []proto.Message{msg})
	return nil
}

// End terminates the session at the respondent's request. Any reply still in flight is
// discarded. If the server cannot record the end the machine moves to ERROR_FATAL;
// recovery state is cleared either way.
func (m *Machine) End(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if err := m.transitionLocked(StateEnding, "end requested"); err != nil {
		m.mu.Unlock()
		return err
	}
	if reason == "" {
		reason = proto.EndReasonUserRequested
	}
	m.epoch++
	m.inFlight = false
	m.pending = nil
	m.failure = nil
	sessionID := m.session.ID
	m.commit(ctx, nil, nil)

	summary, err := m.client.EndSession(ctx, sessionID, reason)

	m.mu.Lock()
	if m.state != StateEnding {
		m.mu.Unlock()
		return ErrSessionTerminated
	}
	ended := events.Event{Type: events.SessionEnded, Reason: reason}
	if err != nil {
		f := failure.Classify(apiclient.OpEnd, err)
		m.failure = &f
		m.session.Status = proto.StatusError
		m.question = nil
		m.followUp = nil
		ended.SessionID = sessionID
		ended.RespondentID = m.respondentID
		ended.Position = m.session.CurrentPosition
		ended.At = m.now()
		if terr := m.transitionLocked(StateErrorFatal, "end failed"); terr != nil {
			m.mu.Unlock()
			return errors.Join(err, terr)
		}
		m.logger.Warn("end of session %s failed: %v", sessionID, err)
		m.commit(ctx, []effect.Effect{
			&effect.ClearRecoveryEffect{Reason: "end failed"},
			&effect.PublishEventEffect{Event: ended},
		}, nil)
		return &f
	}
	return m.completeLocked(ctx, summary, nil, ended)
}

// Package mockserver is an in-process survey server implementing the session API with
// a deterministic follow-up rule. It backs local runs and end-to-end tests.
package mockserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"surveychat/pkg/logx"
	"surveychat/pkg/proto"
)

// APIPrefix is the path the session API is mounted on.
const APIPrefix = "/api/v1"

type session struct {
	id           string
	respondentID string
	position     int
	probes       int
	pending      *proto.FollowUp
	answered     int
	seq          int
	status       proto.Status
	startedAt    time.Time
	summary      *proto.Summary
}

type cachedResponse struct {
	status int
	body   []byte
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// Server serves one survey.
type Server struct {
	router *chi.Mux
	survey *Survey
	logger *logx.Logger
	now    func() time.Time
	newID  func() string

	mu            sync.Mutex
	sessions      map[string]*session
	replays       map[string]cachedResponse
	claimed       map[string]chan struct{}
	failAnswers   int
	garbleAnswers int
}

// NewServer creates a server for survey. A nil survey serves the built-in default.
func NewServer(survey *Survey, opts ...Option) *Server {
	if survey == nil {
		survey = DefaultSurvey()
	}
	s := &Server{
		router:   chi.NewRouter(),
		survey:   survey,
		logger:   logx.NewLogger("mockserver"),
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*session),
		replays:  make(map[string]cachedResponse),
		claimed:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(chiMiddleware.RequestID)
	s.router.Use(chiMiddleware.Recoverer)
	s.router.Use(s.requestLogger)
	s.router.Use(chiMiddleware.Heartbeat("/health"))

	s.router.Route(APIPrefix+"/sessions", func(r chi.Router) {
		r.Use(s.idempotency)
		r.Post("/start", s.start)
		r.Post("/{sessionID}/answer", s.answer)
		r.Post("/{sessionID}/resume", s.resume)
		r.Post("/{sessionID}/end", s.end)
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Survey returns the survey being served.
func (s *Server) Survey() *Survey {
	return s.survey
}

// FailNextAnswers makes the next n answer requests fail with 503 before they are
// processed.
func (s *Server) FailNextAnswers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAnswers = n
}

// GarbleNextAnswers makes the next n answer requests succeed with a reply of an unknown
// message type, without processing them.
func (s *Server) GarbleNextAnswers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.garbleAnswers = n
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🎭 Mock survey server listening on %s (survey %q, %d questions)", addr, s.survey.ID, len(s.survey.Questions))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mock server shutdown: %w", err)
	}
	s.logger.Info("Mock survey server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// idempotency replays the stored 2xx response for a repeated Idempotency-Key on the
// same path. Failed responses are not stored, so a retry is processed afresh. A key is
// claimed while its first request runs; concurrent requests with that key wait for it.
func (s *Server) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		cacheKey := r.URL.Path + "|" + key

		cached, done, ok := s.claim(r.Context(), cacheKey)
		if !ok {
			return
		}
		if done == nil {
			s.logger.Debug("replaying %s for key %s", r.URL.Path, key)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.status)
			_, _ = w.Write(cached.body)
			return
		}

		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var body bytes.Buffer
		ww.Tee(&body)
		defer func() {
			s.mu.Lock()
			if status := ww.Status(); status >= 200 && status < 300 {
				s.replays[cacheKey] = cachedResponse{status: status, body: body.Bytes()}
			}
			delete(s.claimed, cacheKey)
			s.mu.Unlock()
			close(done)
		}()
		next.ServeHTTP(ww, r)
	})
}

// claim returns the stored response for cacheKey, or claims the key and returns a
// channel to close once the response is stored. ok is false if ctx ends while another
// request holds the key.
func (s *Server) claim(ctx context.Context, cacheKey string) (cachedResponse, chan struct{}, bool) {
	for {
		s.mu.Lock()
		if cached, ok := s.replays[cacheKey]; ok {
			s.mu.Unlock()
			return cached, nil, true
		}
		busy, held := s.claimed[cacheKey]
		if !held {
			done := make(chan struct{})
			s.claimed[cacheKey] = done
			s.mu.Unlock()
			return cachedResponse{}, done, true
		}
		s.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return cachedResponse{}, nil, false
		}
	}
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req proto.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.RespondentID == "" {
		writeError(w, http.StatusBadRequest, "respondent_id is required")
		return
	}
	if req.SurveyID != "" && req.SurveyID != s.survey.ID {
		writeError(w, http.StatusNotFound, fmt.Sprintf("survey %q not found", req.SurveyID))
		return
	}

	sess := &session{
		id:           s.newID(),
		respondentID: req.RespondentID,
		position:     1,
		status:       proto.StatusActive,
		startedAt:    s.now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Info("session %s started for %s", sess.id, req.RespondentID)
	writeJSON(w, http.StatusOK, proto.StartResponse{
		SessionID:      sess.id,
		TotalQuestions: len(s.survey.Questions),
		FirstQuestion:  s.survey.Question(1),
	})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var req proto.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	if !ok || sess.status != proto.StatusActive || (req.RespondentID != "" && req.RespondentID != sess.respondentID) {
		writeError(w, http.StatusNotFound, "session cannot be restored")
		return
	}

	resp := proto.ResumeResponse{
		SessionID:       sess.id,
		TotalQuestions:  len(s.survey.Questions),
		CurrentQuestion: s.survey.Question(sess.position),
	}
	if sess.pending != nil {
		fu := *sess.pending
		resp.PendingFollowUp = &fu
	}
	s.logger.Info("session %s resumed at position %d", sess.id, sess.position)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	var a proto.Answer
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if s.failAnswers > 0 {
		s.failAnswers--
		writeError(w, http.StatusServiceUnavailable, "survey service temporarily unavailable")
		return
	}
	if s.garbleAnswers > 0 {
		s.garbleAnswers--
		writeJSON(w, http.StatusOK, map[string]string{"message_type": "garbled"})
		return
	}
	if sess.status != proto.StatusActive {
		writeError(w, http.StatusConflict, "session is not active")
		return
	}

	resp, status, detail := s.applyAnswer(sess, a)
	if status != http.StatusOK {
		writeError(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// applyAnswer advances sess. Caller holds mu.
func (s *Server) applyAnswer(sess *session, a proto.Answer) (proto.NextResponse, int, string) {
	if sess.pending != nil {
		if a.Kind != proto.AnswerFollowUp && a.Kind != proto.AnswerPreferNot {
			return proto.NextResponse{}, http.StatusBadRequest, "a follow-up answer is expected"
		}
		if a.ParentMessageID != sess.pending.ParentMessageID {
			return proto.NextResponse{}, http.StatusBadRequest, "parent_message_id does not match the pending follow-up"
		}
		sess.pending = nil
		if a.Kind == proto.AnswerFollowUp && s.wantsFollowUp(sess, a.Text) {
			return s.followUp(sess, a.Text), http.StatusOK, ""
		}
		return s.advance(sess), http.StatusOK, ""
	}

	q := s.survey.Question(sess.position)
	if a.QuestionID != q.ID {
		return proto.NextResponse{}, http.StatusBadRequest,
			fmt.Sprintf("answer is for question %q, expected %q", a.QuestionID, q.ID)
	}
	switch a.Kind {
	case proto.AnswerPreferNot:
	case proto.AnswerSingleChoice:
		if q.Type != proto.QuestionTypeSingleChoice {
			return proto.NextResponse{}, http.StatusBadRequest, "question does not take a choice"
		}
		if _, ok := q.Option(a.SelectedOptionID); !ok {
			return proto.NextResponse{}, http.StatusBadRequest, fmt.Sprintf("unknown option %q", a.SelectedOptionID)
		}
	case proto.AnswerFreeText:
		if q.Type != proto.QuestionTypeFreeText {
			return proto.NextResponse{}, http.StatusBadRequest, "question does not take free text"
		}
		if a.Text == "" {
			return proto.NextResponse{}, http.StatusBadRequest, "text is required"
		}
	default:
		return proto.NextResponse{}, http.StatusBadRequest, fmt.Sprintf("unsupported answer_type %q", a.Kind)
	}

	sess.answered++
	sess.probes = 0
	if a.Kind == proto.AnswerFreeText && s.wantsFollowUp(sess, a.Text) {
		return s.followUp(sess, a.Text), http.StatusOK, ""
	}
	return s.advance(sess), http.StatusOK, ""
}

func (s *Server) wantsFollowUp(sess *session, text string) bool {
	return sess.probes < s.survey.MaxFollowUps && WordCount(text) < s.survey.FollowUpMinWords
}

func (s *Server) followUp(sess *session, answer string) proto.NextResponse {
	sess.seq++
	fu := &proto.FollowUp{
		Text:            FollowUpQuestion(answer, sess.probes),
		ParentMessageID: fmt.Sprintf("%s-msg-%d", sess.id, sess.seq),
	}
	sess.probes++
	sess.pending = fu
	return proto.NextResponse{
		MessageType:     proto.MessageTypeFollowUp,
		QuestionText:    fu.Text,
		ParentMessageID: fu.ParentMessageID,
	}
}

func (s *Server) advance(sess *session) proto.NextResponse {
	sess.position++
	sess.probes = 0
	if sess.position > len(s.survey.Questions) {
		return proto.NextResponse{MessageType: proto.MessageTypeCompleted, Summary: s.complete(sess)}
	}
	return proto.NextResponse{MessageType: proto.MessageTypeQuestion, Question: s.survey.Question(sess.position)}
}

// complete marks sess completed and returns its summary. Completing twice returns the
// first summary.
func (s *Server) complete(sess *session) *proto.Summary {
	if sess.summary != nil {
		return sess.summary
	}
	answered := sess.answered
	total := len(s.survey.Questions)
	duration := s.now().Sub(sess.startedAt).Seconds()
	sess.status = proto.StatusCompleted
	sess.pending = nil
	sess.summary = &proto.Summary{
		QuestionsAnswered: &answered,
		TotalQuestions:    &total,
		DurationSeconds:   &duration,
		SummaryText:       fmt.Sprintf("Respondent answered %d of %d questions.", answered, total),
	}
	s.logger.Info("session %s completed (%d/%d answered)", sess.id, answered, total)
	return sess.summary
}

func (s *Server) end(w http.ResponseWriter, r *http.Request) {
	var req proto.EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Info("session %s ended: %s", sess.id, req.Reason)
	writeJSON(w, http.StatusOK, proto.NextResponse{MessageType: proto.MessageTypeCompleted, Summary: s.complete(sess)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, proto.ErrorResponse{Detail: detail})
}

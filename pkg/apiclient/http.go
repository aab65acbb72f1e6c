package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"surveychat/pkg/apierrors"
	"surveychat/pkg/logx"
	"surveychat/pkg/metrics"
	"surveychat/pkg/proto"
)

const maxBodyBytes = 1 << 20

// HTTPClient implements Client against the survey REST API.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	recorder metrics.Recorder
	logger   *logx.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// WithRecorder records request latency and outcome.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *HTTPClient) { c.recorder = r }
}

// NewHTTPClient creates a client for the API rooted at baseURL,
// e.g. http://localhost:8000/api/v1.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) StartSession(ctx context.Context, surveyID, respondentID string) (*proto.StartResponse, error) {
	body, err := c.post(ctx, OpStart, "/sessions/start", proto.StartRequest{
		SurveyID:     surveyID,
		RespondentID: respondentID,
		AnonymousID:  respondentID,
	})
	if err != nil {
		return nil, err
	}

	var resp proto.StartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apierrors.NewErrorWithCause(apierrors.ErrorTypeMalformed, OpStart, err, "invalid start response")
	}
	if resp.SessionID == "" {
		return nil, apierrors.NewError(apierrors.ErrorTypeProtocol, OpStart, "start response without session_id")
	}
	if err := proto.ValidateQuestion(resp.FirstQuestion); err != nil {
		return nil, apierrors.NewErrorWithCause(apierrors.ErrorTypeProtocol, OpStart, err, "")
	}
	return &resp, nil
}

func (c *HTTPClient) ResumeSession(ctx context.Context, sessionID, respondentID string) (*proto.ResumeResponse, error) {
	body, err := c.post(ctx, OpResume, sessionPath(sessionID, "resume"), proto.ResumeRequest{RespondentID: respondentID})
	if err != nil {
		return nil, err
	}

	var resp proto.ResumeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apierrors.NewErrorWithCause(apierrors.ErrorTypeMalformed, OpResume, err, "invalid resume response")
	}
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	if err := proto.ValidateQuestion(resp.CurrentQuestion); err != nil {
		return nil, apierrors.NewErrorWithCause(apierrors.ErrorTypeProtocol, OpResume, err, "")
	}
	return &resp, nil
}

func (c *HTTPClient) SubmitAnswer(ctx context.Context, sessionID string, answer proto.Answer) (proto.Reply, error) {
	body, err := c.post(ctx, OpAnswer, sessionPath(sessionID, "answer"), answer)
	if err != nil {
		return nil, err
	}

	reply, err := proto.DecodeReply(body)
	if err != nil {
		return nil, apierrors.NewErrorWithCause(apierrors.ErrorTypeProtocol, OpAnswer, err, "")
	}
	return reply, nil
}

func (c *HTTPClient) EndSession(ctx context.Context, sessionID, reason string) (*proto.Summary, error) {
	body, err := c.post(ctx, OpEnd, sessionPath(sessionID, "end"), proto.EndRequest{Reason: reason})
	if err != nil {
		return nil, err
	}

	reply, err := proto.DecodeReply(body)
	if err != nil {
		return nil, apierrors.NewErrorWithCause(apierrors.ErrorTypeProtocol, OpEnd, err, "")
	}
	completed, ok := reply.(proto.CompletedReply)
	if !ok {
		return nil, apierrors.NewError(apierrors.ErrorTypeProtocol, OpEnd,
			fmt.Sprintf("end returned %s instead of completed", reply.Type()))
	}
	return completed.Summary, nil
}

func sessionPath(sessionID, action string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + action
}

// post sends payload and returns the 2xx response body. Failures are *apierrors.Error.
func (c *HTTPClient) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	start := time.Now()
	body, status, err := c.do(ctx, op, path, payload)
	outcome := "ok"
	if err != nil {
		outcome = apierrors.TypeOf(err).String()
	}
	c.recorder.ObserveRequest(op, outcome, time.Since(start))
	c.logger.Debug("POST %s -> %d in %s (%s)", path, status, time.Since(start).Round(time.Millisecond), outcome)
	return body, err
}

func (c *HTTPClient) do(ctx context.Context, op, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("create %s request: %w", op, err)
	}
	key, ok := IdempotencyKeyFrom(ctx)
	if !ok {
		key = uuid.NewString()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", key)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, apierrors.NewErrorWithCause(apierrors.ErrorTypeTransport, op, err, "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, apierrors.NewErrorWithCause(apierrors.ErrorTypeTransport, op, err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, apierrors.FromStatus(op, resp.StatusCode, errorDetail(body))
	}
	return body, resp.StatusCode, nil
}

// errorDetail extracts the "detail" field of an error body. Validation errors carry a
// structured detail, which is returned as raw JSON.
func errorDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err == nil {
		return s
	}
	return string(env.Detail)
}

// Package apiclient talks to the survey server over HTTP JSON.
package apiclient

import (
	"context"

	"surveychat/pkg/proto"
)

// Operation names used in errors, logs and metrics.
const (
	OpStart  = "start"
	OpResume = "resume"
	OpAnswer = "answer"
	OpEnd    = "end"
)

// Client is the transport boundary used by the conversation machine.
type Client interface {
	// StartSession creates a new session and returns its first question.
	StartSession(ctx context.Context, surveyID, respondentID string) (*proto.StartResponse, error)
	// ResumeSession restores an active session. An unknown session yields an
	// apierrors.ErrorTypeNotFound error.
	ResumeSession(ctx context.Context, sessionID, respondentID string) (*proto.ResumeResponse, error)
	// SubmitAnswer sends one answer and returns the server's next step.
	SubmitAnswer(ctx context.Context, sessionID string, answer proto.Answer) (proto.Reply, error)
	// EndSession terminates the session early. The summary may be nil.
	EndSession(ctx context.Context, sessionID, reason string) (*proto.Summary, error)
}

// Middleware wraps a Client with additional behavior.
type Middleware func(Client) Client

// Chain applies middlewares so that the first one listed is the outermost.
func Chain(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches the key sent in the Idempotency-Key header. Re-sending a
// request with the same key lets the server recognise it as a duplicate.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFrom returns the key attached by WithIdempotencyKey.
func IdempotencyKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}

package retry

import (
	"context"

	"surveychat/pkg/apiclient"
	"surveychat/pkg/proto"
)

// Middleware wraps a client so that each call is retried according to policy. Retries
// of a call reuse the caller's context, so an idempotency key attached with
// apiclient.WithIdempotencyKey is sent unchanged on every attempt.
func Middleware(policy *Policy) apiclient.Middleware {
	return func(next apiclient.Client) apiclient.Client {
		return &client{next: next, policy: policy}
	}
}

type client struct {
	next   apiclient.Client
	policy *Policy
}

func (c *client) StartSession(ctx context.Context, surveyID, respondentID string) (*proto.StartResponse, error) {
	return Do(ctx, c.policy, apiclient.OpStart, func(ctx context.Context) (*proto.StartResponse, error) {
		return c.next.StartSession(ctx, surveyID, respondentID)
	})
}

func (c *client) ResumeSession(ctx context.Context, sessionID, respondentID string) (*proto.ResumeResponse, error) {
	return Do(ctx, c.policy, apiclient.OpResume, func(ctx context.Context) (*proto.ResumeResponse, error) {
		return c.next.ResumeSession(ctx, sessionID, respondentID)
	})
}

func (c *client) SubmitAnswer(ctx context.Context, sessionID string, answer proto.Answer) (proto.Reply, error) {
	if _, ok := apiclient.IdempotencyKeyFrom(ctx); !ok {
		// Without a stable key a re-sent answer could be recorded twice.
		return c.next.SubmitAnswer(ctx, sessionID, answer)
	}
	return Do(ctx, c.policy, apiclient.OpAnswer, func(ctx context.Context) (proto.Reply, error) {
		return c.next.SubmitAnswer(ctx, sessionID, answer)
	})
}

func (c *client) EndSession(ctx context.Context, sessionID, reason string) (*proto.Summary, error) {
	return Do(ctx, c.policy, apiclient.OpEnd, func(ctx context.Context) (*proto.Summary, error) {
		return c.next.EndSession(ctx, sessionID, reason)
	})
}

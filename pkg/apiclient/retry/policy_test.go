package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveychat/pkg/apiclient"
	"surveychat/pkg/apierrors"
	"surveychat/pkg/proto"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("call: %w", context.Canceled), false},
		{"server", apierrors.FromStatus("answer", http.StatusBadGateway, ""), true},
		{"rate limit", apierrors.FromStatus("answer", http.StatusTooManyRequests, ""), true},
		{"transport", apierrors.NewErrorWithCause(apierrors.ErrorTypeTransport, "answer", errors.New("reset"), ""), true},
		{"not found", apierrors.FromStatus("resume", http.StatusNotFound, ""), false},
		{"bad request", apierrors.FromStatus("answer", http.StatusBadRequest, ""), false},
		{"protocol", apierrors.NewError(apierrors.ErrorTypeProtocol, "answer", "bad tag"), false},
		{"unclassified", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}, nil)

	assert.Equal(t, time.Duration(0), p.CalculateDelay(1))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, 300*time.Millisecond, p.CalculateDelay(4))

	p.Config.Jitter = true
	for i := 0; i < 20; i++ {
		d := p.CalculateDelay(2)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
}

func TestNewPolicyClampsAttempts(t *testing.T) {
	p := NewPolicy(Config{}, nil)
	assert.Equal(t, 1, p.Config.MaxAttempts)
}

type flakyClient struct {
	failures int
	err      error
	calls    int
	keys     []string
}

func (f *flakyClient) attempt(ctx context.Context) error {
	f.calls++
	key, _ := apiclient.IdempotencyKeyFrom(ctx)
	f.keys = append(f.keys, key)
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyClient) StartSession(ctx context.Context, _, _ string) (*proto.StartResponse, error) {
	if err := f.attempt(ctx); err != nil {
		return nil, err
	}
	return &proto.StartResponse{SessionID: "s"}, nil
}

func (f *flakyClient) ResumeSession(ctx context.Context, _, _ string) (*proto.ResumeResponse, error) {
	if err := f.attempt(ctx); err != nil {
		return nil, err
	}
	return &proto.ResumeResponse{SessionID: "s"}, nil
}

func (f *flakyClient) SubmitAnswer(ctx context.Context, _ string, _ proto.Answer) (proto.Reply, error) {
	if err := f.attempt(ctx); err != nil {
		return nil, err
	}
	return proto.CompletedReply{}, nil
}

func (f *flakyClient) EndSession(ctx context.Context, _, _ string) (*proto.Summary, error) {
	if err := f.attempt(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
}

func TestMiddlewareRetriesWithSameKey(t *testing.T) {
	inner := &flakyClient{failures: 2, err: apierrors.FromStatus("answer", http.StatusServiceUnavailable, "")}
	var retried []int
	policy := fastPolicy(3)
	policy.OnRetry = func(op string, attempt int, _ error) {
		assert.Equal(t, apiclient.OpAnswer, op)
		retried = append(retried, attempt)
	}
	c := Middleware(policy)(inner)

	ctx := apiclient.WithIdempotencyKey(context.Background(), "k-1")
	reply, err := c.SubmitAnswer(ctx, "s", proto.Answer{})
	require.NoError(t, err)
	assert.IsType(t, proto.CompletedReply{}, reply)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []string{"k-1", "k-1", "k-1"}, inner.keys)
	assert.Equal(t, []int{2, 3}, retried)
}

func TestMiddlewareSubmitWithoutKeyIsNotRetried(t *testing.T) {
	inner := &flakyClient{failures: 1, err: apierrors.FromStatus("answer", http.StatusBadGateway, "")}
	c := Middleware(fastPolicy(3))(inner)

	_, err := c.SubmitAnswer(context.Background(), "s", proto.Answer{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestMiddlewareStopsOnNonRetryable(t *testing.T) {
	inner := &flakyClient{failures: 5, err: apierrors.FromStatus("resume", http.StatusNotFound, "")}
	c := Middleware(fastPolicy(4))(inner)

	_, err := c.ResumeSession(context.Background(), "s", "r")
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.ErrorTypeNotFound))
	assert.Equal(t, 1, inner.calls)
}

func TestMiddlewareGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyClient{failures: 5, err: apierrors.FromStatus("start", http.StatusInternalServerError, "")}
	c := Middleware(fastPolicy(2))(inner)

	_, err := c.StartSession(context.Background(), "survey", "r")
	require.Error(t, err)
	assert.True(t, apierrors.Is(err, apierrors.ErrorTypeServer))
	assert.Equal(t, 2, inner.calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(Config{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}, nil)

	calls := 0
	_, err := Do(ctx, p, "end", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, apierrors.FromStatus("end", http.StatusBadGateway, "")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// Package metrics records survey client activity.
package metrics

import "time"

// Recorder defines the interface for recording survey client metrics.
type Recorder interface {
	// ObserveRequest records a finished API call. outcome is "ok" or an error type.
	ObserveRequest(op, outcome string, duration time.Duration)

	// IncTransition counts a conversation state change.
	IncTransition(from, to string)

	// IncRetry counts a re-sent API call, automatic or respondent-initiated.
	IncRetry(op string)

	// IncValidationFailure counts rejected input by validation kind.
	IncValidationFailure(kind string)

	// IncProtocolViolation counts server replies that could not be interpreted.
	IncProtocolViolation()
}

// NoopRecorder discards everything. Used when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_, _ string, _ time.Duration) {}
func (n *NoopRecorder) IncTransition(_, _ string)                    {}
func (n *NoopRecorder) IncRetry(_ string)                            {}
func (n *NoopRecorder) IncValidationFailure(_ string)                {}
func (n *NoopRecorder) IncProtocolViolation()                        {}

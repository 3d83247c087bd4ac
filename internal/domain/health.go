package domain

import "time"

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// ProviderHealth is a point-in-time view of one provider's circuit breaker.
type ProviderHealth struct {
	Name                string       `json:"name"`
	State               BreakerState `json:"state"`
	Healthy             bool         `json:"healthy"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	OpenedAt            *time.Time   `json:"openedAt,omitempty"`
	RetryAt             *time.Time   `json:"retryAt,omitempty"`
	Cooldown            string       `json:"cooldown"`
	LastError           string       `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time   `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64        `json:"lastLatencyMs,omitempty"`
	TotalRequests       int64        `json:"totalRequests"`
	TotalFailures       int64        `json:"totalFailures"`
	TimeoutCount        int64        `json:"timeoutCount"`
}

// Package circuit holds the health state every provider carries by
// composition: a lazily evaluated circuit breaker and the Guard that wraps
// each search attempt with a timeout and exactly one health update.
package circuit

import (
	"log/slog"
	"sync"
	"time"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/metrics"
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
)

type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	// MaxCooldown > Cooldown doubles the cooldown after every failed
	// half-open probe, up to this cap. Zero keeps the cooldown fixed.
	MaxCooldown time.Duration
}

func (c Config) normalized() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	return c
}

// Outcome is what a single attempt reports to its breaker.
type Outcome int

const (
	Success Outcome = iota
	Failure
	// Abandoned marks an attempt the caller cancelled; it is counted but
	// does not move the failure counter either way.
	Abandoned
)

type Breaker struct {
	name string
	cfg  Config

	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
	cooldown            time.Duration
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

func NewBreaker(name string, cfg Config) *Breaker {
	cfg = cfg.normalized()
	metrics.BreakerState.WithLabelValues(name).Set(0)
	return &Breaker{
		name:     name,
		cfg:      cfg,
		cooldown: cfg.Cooldown,
	}
}

func (b *Breaker) State(now time.Time) domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(now)
}

// Healthy reports whether a search may be dispatched now. An open breaker
// whose cooldown has elapsed is half-open and lets the next attempt through
// as a probe.
func (b *Breaker) Healthy(now time.Time) bool {
	return b.State(now) != domain.BreakerOpen
}

func (b *Breaker) stateLocked(now time.Time) domain.BreakerState {
	if b.openedAt.IsZero() {
		return domain.BreakerClosed
	}
	if now.Sub(b.openedAt) >= b.cooldown {
		return domain.BreakerHalfOpen
	}
	return domain.BreakerOpen
}

// Record applies the outcome of one attempt and returns the resulting state.
func (b *Breaker) Record(outcome Outcome, err error, timedOut bool, latency time.Duration, now time.Time) domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := b.stateLocked(now)
	b.totalRequests++
	if latency > 0 {
		b.lastLatency = latency
	}
	if timedOut {
		b.timeoutCount++
	}

	switch outcome {
	case Success:
		b.consecutiveFailures = 0
		b.openedAt = time.Time{}
		b.cooldown = b.cfg.Cooldown
		b.lastError = ""
		b.lastSuccessAt = now
	case Failure:
		b.consecutiveFailures++
		b.totalFailures++
		b.lastFailureAt = now
		if err != nil {
			b.lastError = err.Error()
		}
		switch previous {
		case domain.BreakerHalfOpen:
			b.openedAt = now
			b.cooldown = nextCooldown(b.cooldown, b.cfg.MaxCooldown)
		case domain.BreakerClosed:
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.openedAt = now
			}
		}
	}

	current := b.stateLocked(now)
	if current != previous {
		b.logTransitionLocked(previous, current, now)
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(stateGauge(current))
	return current
}

func nextCooldown(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func (b *Breaker) logTransitionLocked(from, to domain.BreakerState, now time.Time) {
	attrs := []any{
		slog.String("provider", b.name),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("consecutiveFailures", b.consecutiveFailures),
	}
	if to == domain.BreakerOpen {
		attrs = append(attrs,
			slog.Duration("cooldown", b.cooldown),
			slog.Time("retryAt", b.openedAt.Add(b.cooldown)),
			slog.String("lastError", b.lastError),
		)
		slog.Warn("circuit opened", attrs...)
		return
	}
	slog.Info("circuit state changed", attrs...)
}

func stateGauge(state domain.BreakerState) float64 {
	switch state {
	case domain.BreakerOpen:
		return 2
	case domain.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}

func (b *Breaker) Snapshot(now time.Time) domain.ProviderHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(now)
	item := domain.ProviderHealth{
		Name:                b.name,
		State:               state,
		Healthy:             state != domain.BreakerOpen,
		ConsecutiveFailures: b.consecutiveFailures,
		Cooldown:            b.cooldown.String(),
		LastError:           b.lastError,
		LastLatencyMS:       b.lastLatency.Milliseconds(),
		TotalRequests:       b.totalRequests,
		TotalFailures:       b.totalFailures,
		TimeoutCount:        b.timeoutCount,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		retryAt := b.openedAt.Add(b.cooldown)
		item.OpenedAt = &openedAt
		item.RetryAt = &retryAt
	}
	if !b.lastSuccessAt.IsZero() {
		lastSuccessAt := b.lastSuccessAt
		item.LastSuccessAt = &lastSuccessAt
	}
	if !b.lastFailureAt.IsZero() {
		lastFailureAt := b.lastFailureAt
		item.LastFailureAt = &lastFailureAt
	}
	return item
}

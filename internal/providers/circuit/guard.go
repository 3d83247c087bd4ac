package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/metrics"
)

// DefaultAttemptTimeout bounds every provider attempt.
const DefaultAttemptTimeout = 10 * time.Second

var (
	tracer = otel.Tracer("musicdiscovery/searchcore/providers")

	errProviderPanic = errors.New("provider panic")
)

// Fetch performs one attempt against an external source. Errors are never
// shown to the orchestrator; Guard turns them into an empty list.
type Fetch func(ctx context.Context) ([]domain.Result, error)

type GuardOption func(*Guard)

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func WithAttemptTimeout(timeout time.Duration) GuardOption {
	return func(g *Guard) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard is embedded by providers. It owns the provider's breaker and turns
// every attempt, whatever its outcome, into a list plus one health update.
type Guard struct {
	name    string
	breaker *Breaker
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewGuard(name string, cfg Config, options ...GuardOption) *Guard {
	name = strings.ToLower(strings.TrimSpace(name))
	guard := &Guard{
		name:    name,
		breaker: NewBreaker(name, cfg),
		timeout: DefaultAttemptTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(guard)
		}
	}
	return guard
}

func (g *Guard) Healthy(now time.Time) bool {
	return g.breaker.Healthy(now)
}

func (g *Guard) Health(now time.Time) domain.ProviderHealth {
	return g.breaker.Snapshot(now)
}

func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

type attempt struct {
	items []domain.Result
	err   error
}

// Run executes fetch under the attempt timeout. It returns as soon as the
// timeout fires even if fetch ignores its context; the late result is
// discarded.
func (g *Guard) Run(ctx context.Context, query string, fetch Fetch) []domain.Result {
	startedAt := g.now()
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	attemptCtx, span := tracer.Start(attemptCtx, "provider.search")
	span.SetAttributes(
		attribute.String("provider", g.name),
		attribute.String("query", query),
	)
	defer span.End()

	done := make(chan attempt, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				g.logger.Error("provider panic recovered",
					slog.String("provider", g.name),
					slog.Any("error", recovered),
					slog.String("stack", string(debug.Stack())),
				)
				done <- attempt{err: fmt.Errorf("%w: %v", errProviderPanic, recovered)}
			}
		}()
		items, err := fetch(attemptCtx)
		done <- attempt{items: items, err: err}
	}()

	var result attempt
	select {
	case result = <-done:
		if result.err == nil && attemptCtx.Err() != nil {
			result = attempt{err: attemptCtx.Err()}
		}
	case <-attemptCtx.Done():
		result = attempt{err: attemptCtx.Err()}
	}

	latency := g.now().Sub(startedAt)
	outcome, status := classify(ctx, result.err)
	timedOut := status == "timeout"
	state := g.breaker.Record(outcome, result.err, timedOut, latency, g.now())

	metrics.ProviderRequestsTotal.WithLabelValues(g.name, status).Inc()
	metrics.ProviderRequestDuration.WithLabelValues(g.name).Observe(latency.Seconds())
	span.SetAttributes(
		attribute.String("outcome", status),
		attribute.String("breaker.state", string(state)),
		attribute.Int("results", len(result.items)),
	)

	if result.err != nil {
		reportFailure(ctx)
		span.RecordError(result.err)
		span.SetStatus(codes.Error, status)
		level := slog.LevelWarn
		if outcome == Abandoned {
			level = slog.LevelDebug
		}
		g.logger.Log(ctx, level, "provider search failed",
			slog.String("provider", g.name),
			slog.String("query", query),
			slog.String("status", status),
			slog.String("breaker", string(state)),
			slog.Int64("elapsedMs", latency.Milliseconds()),
			slog.String("error", result.err.Error()),
		)
		return []domain.Result{}
	}

	g.logger.Debug("provider search completed",
		slog.String("provider", g.name),
		slog.String("query", query),
		slog.Int("results", len(result.items)),
		slog.Int64("elapsedMs", latency.Milliseconds()),
	)
	if result.items == nil {
		return []domain.Result{}
	}
	return result.items
}

// classify maps an attempt error to the breaker outcome and a metric label.
// A caller-cancelled search is not the provider's fault.
func classify(parent context.Context, err error) (Outcome, string) {
	switch {
	case err == nil:
		return Success, "ok"
	case parent.Err() != nil:
		return Abandoned, "cancelled"
	case isTimeoutLikeError(err):
		return Failure, "timeout"
	case errors.Is(err, errProviderPanic):
		return Failure, "panic"
	default:
		return Failure, "error"
	}
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

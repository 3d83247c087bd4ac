package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/metrics"
	"musicdiscovery/searchcore/internal/providers/circuit"
	"musicdiscovery/searchcore/internal/ranking"
)

var tracer = otel.Tracer("musicdiscovery/searchcore/search")

// Search returns the deduplicated, filtered and ranked results of every
// healthy provider. An empty list is a valid answer; the only errors are a
// blank query and cancellation of ctx.
func (s *Service) Search(ctx context.Context, query string, filters domain.Filters) ([]domain.Result, error) {
	response, err := s.SearchDetailed(ctx, query, filters)
	if err != nil {
		return nil, err
	}
	return response.Items, nil
}

// SearchDetailed is Search plus per-provider bookkeeping.
func (s *Service) SearchDetailed(ctx context.Context, query string, filters domain.Filters) (domain.SearchResponse, error) {
	normalizedQuery := strings.TrimSpace(query)
	if normalizedQuery == "" {
		return domain.SearchResponse{}, ErrInvalidQuery
	}
	if filters.MinSeeders < 0 {
		filters.MinSeeders = 0
	}
	filters.Format = strings.TrimSpace(filters.Format)

	ctx, span := tracer.Start(ctx, "search", trace.WithAttributes(
		attribute.String("query", normalizedQuery),
		attribute.String("filter.format", filters.Format),
		attribute.Int("filter.minSeeders", filters.MinSeeders),
	))
	defer span.End()

	startedAt := s.now()
	statuses := make([]domain.ProviderStatus, len(s.providers))
	selected := make([]int, 0, len(s.providers))
	for i, provider := range s.providers {
		statuses[i] = domain.ProviderStatus{Name: providerKey(provider)}
		if !provider.Healthy(startedAt) {
			statuses[i].Skipped = true
			metrics.ProviderSkippedTotal.WithLabelValues(statuses[i].Name).Inc()
			continue
		}
		selected = append(selected, i)
	}

	s.logger.Debug("search started",
		slog.String("query", normalizedQuery),
		slog.Int("providers", len(selected)),
		slog.Int("skipped", len(s.providers)-len(selected)),
	)

	var (
		mu           sync.Mutex
		resultsByKey = make(map[string]domain.Result)
		wg           sync.WaitGroup
	)
	sem := semaphore.NewWeighted(s.maxConcurrent)
	for _, index := range selected {
		wg.Add(1)
		go func(index int, current Provider) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			attemptCtx, report := circuit.WithReport(ctx)
			items := current.Search(attemptCtx, normalizedQuery)

			mu.Lock()
			defer mu.Unlock()
			statuses[index].Count = len(items)
			statuses[index].Failed = report.Failed()
			for _, item := range items {
				key := item.IdentityKey()
				if key == "" {
					continue
				}
				existing, exists := resultsByKey[key]
				if !exists || ranking.Prefer(item, existing) {
					resultsByKey[key] = item
				}
			}
		}(index, s.providers[index])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Debug("search cancelled", slog.String("query", normalizedQuery))
		return domain.SearchResponse{}, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return domain.SearchResponse{}, err
	}

	mu.Lock()
	items := lo.Filter(lo.Values(resultsByKey), func(item domain.Result, _ int) bool {
		return filters.Match(item)
	})
	mu.Unlock()
	ranking.Sort(items)

	elapsed := s.now().Sub(startedAt)
	metrics.SearchResults.Observe(float64(len(items)))
	span.SetAttributes(
		attribute.Int("providers.dispatched", len(selected)),
		attribute.Int("results", len(items)),
	)
	s.logger.Info("search completed",
		slog.String("query", normalizedQuery),
		slog.Int("providers", len(selected)),
		slog.Int("results", len(items)),
		slog.Int64("elapsedMs", elapsed.Milliseconds()),
	)

	return domain.SearchResponse{
		Query:     normalizedQuery,
		Filters:   filters,
		Items:     items,
		Providers: statuses,
		Healthy:   len(selected),
		ElapsedMS: elapsed.Milliseconds(),
		FetchedAt: startedAt.UTC(),
	}, nil
}

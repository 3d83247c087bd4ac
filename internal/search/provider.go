package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"musicdiscovery/searchcore/internal/domain"
)

var (
	ErrInvalidQuery = errors.New("query is required")
	ErrNoProviders  = errors.New("no search providers configured")
)

// Provider is one external lookup source. Search never fails: transport
// errors, timeouts and panics are absorbed by the provider and show up as an
// empty list plus a health transition.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) []domain.Result
	Healthy(now time.Time) bool
}

// HealthReporter is implemented by providers that expose breaker details.
type HealthReporter interface {
	Health(now time.Time) domain.ProviderHealth
}

// defaultMaxConcurrentProviders bounds the fan-out when many providers are
// configured.
const defaultMaxConcurrentProviders = 10

type Service struct {
	providers     []Provider
	now           func() time.Time
	maxConcurrent int64
	logger        *slog.Logger
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMaxConcurrentProviders(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.maxConcurrent = int64(limit)
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService keeps the first provider registered under each name and
// orders them by name.
func NewService(providers []Provider, opts ...ServiceOption) *Service {
	registry := make([]Provider, 0, len(providers))
	seen := make(map[string]struct{}, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := providerKey(provider)
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		registry = append(registry, provider)
	}
	sort.Slice(registry, func(i, j int) bool {
		return providerKey(registry[i]) < providerKey(registry[j])
	})

	svc := &Service{
		providers:     registry,
		now:           time.Now,
		maxConcurrent: defaultMaxConcurrentProviders,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func providerKey(provider Provider) string {
	return strings.ToLower(strings.TrimSpace(provider.Name()))
}

func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for _, provider := range s.providers {
		names = append(names, providerKey(provider))
	}
	return names
}

package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/search"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was ready.
const statusClientClosedRequest = 499

const maxQueryLength = 500

type Searcher interface {
	SearchDetailed(ctx context.Context, query string, filters domain.Filters) (domain.SearchResponse, error)
}

type HealthSource interface {
	Providers() []string
	Diagnostics(now time.Time) []domain.ProviderHealth
	Available(now time.Time) int
}

type Server struct {
	search         Searcher
	health         HealthSource
	logger         *slog.Logger
	searchTimeout  time.Duration
	gatherer       prometheus.Gatherer
	rateLimitRPS   float64
	rateLimitBurst int
	now            func() time.Time
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSearchTimeout bounds a whole search request. Zero leaves it to the
// client connection.
func WithSearchTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.searchTimeout = timeout
		}
	}
}

func WithGatherer(gatherer prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		if gatherer != nil {
			s.gatherer = gatherer
		}
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimitRPS = rps
			s.rateLimitBurst = burst
		}
	}
}

func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func NewServer(searcher Searcher, health HealthSource, options ...ServerOption) *Server {
	server := &Server{
		search:         searcher,
		health:         health,
		logger:         slog.Default(),
		gatherer:       prometheus.DefaultGatherer,
		rateLimitRPS:   50,
		rateLimitBurst: 100,
		now:            time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/search/providers", s.handleProviders)
	mux.HandleFunc("/search/providers/health", s.handleProvidersHealth)
	mux.HandleFunc("/search", s.handleSearch)
	traced := otelhttp.NewHandler(mux, "music-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			route := routeLabel(r.URL.Path)
			return route != "/metrics" && route != "/health"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeLabel(r.URL.Path)
		}),
	)
	limited := rateLimitMiddleware(newClientLimiters(s.rateLimitRPS, s.rateLimitBurst), s.now, traced)
	return recoveryMiddleware(s.logger, observeMiddleware(s.logger, limited))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.now()
	status := "ok"
	available, configured := 0, 0
	if s.health != nil {
		available = s.health.Available(now)
		configured = len(s.health.Providers())
		if available == 0 {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             status,
		"providers":          configured,
		"availableProviders": available,
		"timestamp":          now.UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	minSeeders, err := parseNonNegativeInt(r, "minSeeders", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid minSeeders")
		return
	}
	filters := domain.Filters{
		Format:     strings.TrimSpace(r.URL.Query().Get("format")),
		MinSeeders: minSeeders,
	}

	ctx := r.Context()
	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}

	response, err := s.search.SearchDetailed(ctx, query, filters)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, search.ErrInvalidQuery):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, search.ErrNoProviders):
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "timeout", "search timed out")
		case errors.Is(err, context.Canceled):
			writeError(w, statusClientClosedRequest, "cancelled", "search cancelled")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		}
		return
	}

	skipped := make([]string, 0, len(response.Providers))
	for _, providerStatus := range response.Providers {
		if providerStatus.Skipped {
			skipped = append(skipped, providerStatus.Name)
		}
	}
	if len(skipped) > 0 {
		s.logger.Warn("search skipped unavailable providers",
			slog.String("query", truncate(query, 80)),
			slog.Any("skippedProviders", skipped),
		)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.health == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.health.Providers(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/providers/health" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.health == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}

	now := s.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": now.UTC(),
		"available": s.health.Available(now),
		"items":     s.health.Diagnostics(now),
	})
}

func parseNonNegativeInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

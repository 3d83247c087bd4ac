package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"musicdiscovery/searchcore/internal/providers/bittorrentindex"
	"musicdiscovery/searchcore/internal/providers/circuit"
	"musicdiscovery/searchcore/internal/providers/htmlindex"
	"musicdiscovery/searchcore/internal/providers/torznab"
	"musicdiscovery/searchcore/internal/search"
)

// Runtime is the assembled search stack shared by the HTTP server and the CLI.
type Runtime struct {
	Service  *search.Service
	Searcher search.Searcher
	closers  []func() error
}

func (r *Runtime) Close() error {
	var firstErr error
	for _, closeFn := range r.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c Config) breakerConfig() circuit.Config {
	return circuit.Config{
		FailureThreshold: c.BreakerFailureThreshold,
		Cooldown:         c.BreakerCooldown,
		MaxCooldown:      c.BreakerMaxCooldown,
	}
}

func newProviderHTTPClient() *http.Client {
	// Attempt deadlines are applied by circuit.Guard.
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// BuildProviders returns the HTML index and JSON index providers unless
// disabled and, when an endpoint and key are configured, the Torznab provider.
func BuildProviders(cfg Config, logger *slog.Logger) []search.Provider {
	guardOptions := []circuit.GuardOption{
		circuit.WithAttemptTimeout(cfg.ProviderTimeout),
		circuit.WithLogger(logger),
	}

	providers := make([]search.Provider, 0, 3)
	if !cfg.HTMLIndexDisabled {
		providers = append(providers, htmlindex.NewProvider(htmlindex.Config{
			Endpoints:     cfg.HTMLIndexEndpoints,
			UserAgent:     cfg.UserAgent,
			Client:        newProviderHTTPClient(),
			RatePerSecond: cfg.HTMLIndexRatePerSecond,
			MaxDetails:    cfg.HTMLIndexMaxDetails,
			Breaker:       cfg.breakerConfig(),
			GuardOptions:  guardOptions,
		}))
	}
	if !cfg.APIBayDisabled {
		providers = append(providers, bittorrentindex.NewProvider(bittorrentindex.Config{
			Endpoint:      cfg.APIBayEndpoint,
			UserAgent:     cfg.UserAgent,
			Client:        newProviderHTTPClient(),
			RatePerSecond: cfg.APIBayRatePerSecond,
			Breaker:       cfg.breakerConfig(),
			GuardOptions:  guardOptions,
		}))
	}

	indexer := torznab.NewProvider(torznab.Config{
		Name:         cfg.TorznabName,
		Endpoint:     cfg.TorznabEndpoint,
		APIKey:       cfg.TorznabAPIKey,
		UserAgent:    cfg.UserAgent,
		Client:       newProviderHTTPClient(),
		Breaker:      cfg.breakerConfig(),
		GuardOptions: guardOptions,
	})
	if indexer.Configured() {
		providers = append(providers, indexer)
	} else {
		logger.Info("torznab provider disabled: endpoint or api key not configured")
	}
	return providers
}

// BuildRuntime wires providers, the orchestrator and the optional cache.
func BuildRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	providers := BuildProviders(cfg, logger)
	if len(providers) == 0 {
		return nil, search.ErrNoProviders
	}
	service := search.NewService(providers,
		search.WithMaxConcurrentProviders(cfg.MaxConcurrent),
		search.WithLogger(logger),
	)
	runtime := &Runtime{Service: service, Searcher: service}
	if cfg.CacheDisabled {
		logger.Info("search cache disabled")
		return runtime, nil
	}

	cacheOptions := []search.CacheOption{
		search.WithCacheTTL(cfg.CacheTTL),
		search.WithCacheLogger(logger),
	}
	if client := connectRedis(ctx, cfg.RedisURL, logger); client != nil {
		cacheOptions = append(cacheOptions, search.WithCacheBackend(search.NewRedisCacheBackend(client)))
		runtime.closers = append(runtime.closers, client.Close)
	}
	runtime.Searcher = search.NewCachedSearcher(service, cacheOptions...)
	return runtime, nil
}

func connectRedis(ctx context.Context, rawURL string, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(rawURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

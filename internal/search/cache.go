package search

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/metrics"
)

const (
	defaultCacheTTL        = 2 * time.Minute
	defaultCacheMaxEntries = 400
)

// Searcher is what CachedSearcher wraps; *Service implements it.
type Searcher interface {
	SearchDetailed(ctx context.Context, query string, filters domain.Filters) (domain.SearchResponse, error)
}

// CacheBackend is a shared second-level store, such as RedisCacheBackend.
type CacheBackend interface {
	Get(ctx context.Context, key string) (domain.SearchResponse, bool, error)
	Set(ctx context.Context, key string, response domain.SearchResponse, ttl time.Duration) error
}

type cachedSearchResponse struct {
	response  domain.SearchResponse
	updatedAt time.Time
	expiresAt time.Time
}

// CachedSearcher memoizes complete search responses for a short TTL. A
// response is stored only when every configured provider was queried and
// answered without failing, so a transient outage is not remembered.
type CachedSearcher struct {
	next       Searcher
	ttl        time.Duration
	maxEntries int
	backend    CacheBackend
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]*cachedSearchResponse
}

type CacheOption func(*CachedSearcher)

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedSearcher) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCacheMaxEntries(limit int) CacheOption {
	return func(c *CachedSearcher) {
		if limit > 0 {
			c.maxEntries = limit
		}
	}
}

func WithCacheBackend(backend CacheBackend) CacheOption {
	return func(c *CachedSearcher) {
		c.backend = backend
	}
}

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedSearcher) {
		if now != nil {
			c.now = now
		}
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedSearcher) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCachedSearcher(next Searcher, opts ...CacheOption) *CachedSearcher {
	c := &CachedSearcher{
		next:       next,
		ttl:        defaultCacheTTL,
		maxEntries: defaultCacheMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
		entries:    make(map[string]*cachedSearchResponse),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedSearcher) Search(ctx context.Context, query string, filters domain.Filters) ([]domain.Result, error) {
	response, err := c.SearchDetailed(ctx, query, filters)
	if err != nil {
		return nil, err
	}
	return response.Items, nil
}

func (c *CachedSearcher) SearchDetailed(ctx context.Context, query string, filters domain.Filters) (domain.SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return domain.SearchResponse{}, ErrInvalidQuery
	}
	key := BuildCacheKey(query, filters)
	startedAt := c.now()

	if cached, ok := c.lookup(ctx, key, startedAt); ok {
		metrics.CacheHitsTotal.Inc()
		cached.Cached = true
		cached.ElapsedMS = c.now().Sub(startedAt).Milliseconds()
		return cached, nil
	}
	metrics.CacheMissesTotal.Inc()

	response, err := c.next.SearchDetailed(ctx, query, filters)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if cacheable(response) {
		c.store(ctx, key, response, c.now())
	}
	return response, nil
}

func cacheable(response domain.SearchResponse) bool {
	if response.Healthy == 0 {
		return false
	}
	for _, status := range response.Providers {
		if status.Skipped || status.Failed {
			return false
		}
	}
	return true
}

func (c *CachedSearcher) lookup(ctx context.Context, key string, now time.Time) (domain.SearchResponse, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && now.Before(entry.expiresAt) {
		response := cloneSearchResponse(entry.response)
		c.mu.Unlock()
		return response, true
	}
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.backend == nil {
		return domain.SearchResponse{}, false
	}
	response, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("search cache read failed", slog.String("error", err.Error()))
		return domain.SearchResponse{}, false
	}
	if !found {
		return domain.SearchResponse{}, false
	}
	c.storeMemory(key, response, now)
	return response, true
}

func (c *CachedSearcher) store(ctx context.Context, key string, response domain.SearchResponse, now time.Time) {
	if c.backend != nil {
		if err := c.backend.Set(ctx, key, response, c.ttl); err != nil {
			c.logger.Warn("search cache write failed", slog.String("error", err.Error()))
		}
	}
	c.storeMemory(key, response, now)
}

func (c *CachedSearcher) storeMemory(key string, response domain.SearchResponse, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cachedSearchResponse{
		response:  cloneSearchResponse(response),
		updatedAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.trimLocked(now)
}

func (c *CachedSearcher) trimLocked(now time.Time) {
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type pair struct {
		key   string
		entry *cachedSearchResponse
	}
	items := make([]pair, 0, len(c.entries))
	for key, entry := range c.entries {
		items = append(items, pair{key: key, entry: entry})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.updatedAt.Before(items[j].entry.updatedAt)
	})
	for i := 0; i < len(items)-c.maxEntries; i++ {
		delete(c.entries, items[i].key)
	}
}

func (c *CachedSearcher) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneSearchResponse(response domain.SearchResponse) domain.SearchResponse {
	cloned := response
	if response.Items != nil {
		cloned.Items = append([]domain.Result(nil), response.Items...)
	}
	if response.Providers != nil {
		cloned.Providers = append([]domain.ProviderStatus(nil), response.Providers...)
	}
	return cloned
}

// BuildCacheKey folds case and Unicode compatibility forms and collapses
// whitespace, so "Björk  HOMOGENIC" and "björk homogenic" share an entry.
func BuildCacheKey(query string, filters domain.Filters) string {
	return strings.Join([]string{
		"q=" + normalizeQueryKey(query),
		"f=" + normalizeQueryKey(filters.Format),
		"ms=" + strconv.Itoa(max(filters.MinSeeders, 0)),
	}, "|")
}

func normalizeQueryKey(raw string) string {
	folded := cases.Fold().String(norm.NFKC.String(raw))
	return strings.Join(strings.Fields(folded), " ")
}

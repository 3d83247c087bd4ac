package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/providers/circuit"
)

type countingSearcher struct {
	calls    atomic.Int32
	response domain.SearchResponse
	err      error
}

func (s *countingSearcher) SearchDetailed(ctx context.Context, query string, filters domain.Filters) (domain.SearchResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return domain.SearchResponse{}, s.err
	}
	response := s.response
	response.Query = query
	response.Filters = filters
	return response, nil
}

func completeResponse(t *testing.T) domain.SearchResponse {
	return domain.SearchResponse{
		Items:     []domain.Result{mustResult(t, resultFields{title: "A", hash: "a1", source: "alpha", seeders: 3, format: "FLAC"})},
		Providers: []domain.ProviderStatus{{Name: "alpha", Count: 1}},
		Healthy:   1,
	}
}

type memoryBackend struct {
	entries map[string]domain.SearchResponse
	sets    int
	getErr  error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{entries: map[string]domain.SearchResponse{}}
}

func (b *memoryBackend) Get(ctx context.Context, key string) (domain.SearchResponse, bool, error) {
	if b.getErr != nil {
		return domain.SearchResponse{}, false, b.getErr
	}
	response, ok := b.entries[key]
	return response, ok, nil
}

func (b *memoryBackend) Set(ctx context.Context, key string, response domain.SearchResponse, ttl time.Duration) error {
	b.sets++
	b.entries[key] = response
	return nil
}

func TestCachedSearcherServesRepeatQueriesFromMemory(t *testing.T) {
	next := &countingSearcher{response: completeResponse(t)}
	cache := NewCachedSearcher(next)

	first, err := cache.SearchDetailed(context.Background(), "Björk  HOMOGENIC", domain.Filters{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := cache.SearchDetailed(context.Background(), "björk homogenic", domain.Filters{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Len(t, second.Items, 1)
	assert.Equal(t, int32(1), next.calls.Load())

	_, err = cache.SearchDetailed(context.Background(), "björk homogenic", domain.Filters{Format: "FLAC"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load(), "different filters must miss")
}

func TestCachedSearcherExpiresEntries(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := &countingSearcher{response: completeResponse(t)}
	cache := NewCachedSearcher(next,
		WithCacheTTL(time.Minute),
		WithCacheClock(func() time.Time { return current }),
	)

	_, err := cache.Search(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	current = current.Add(59 * time.Second)
	_, err = cache.Search(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())

	current = current.Add(time.Second)
	_, err = cache.Search(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedSearcherSkipsIncompleteResponses(t *testing.T) {
	partial := completeResponse(t)
	partial.Providers = append(partial.Providers, domain.ProviderStatus{Name: "beta", Skipped: true})
	next := &countingSearcher{response: partial}
	cache := NewCachedSearcher(next)

	for i := 0; i < 2; i++ {
		_, err := cache.Search(context.Background(), "album", domain.Filters{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), next.calls.Load())
	assert.Zero(t, cache.Len())

	none := &countingSearcher{response: domain.SearchResponse{Items: []domain.Result{}}}
	cache = NewCachedSearcher(none)
	_, err := cache.Search(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	assert.Zero(t, cache.Len(), "response with no healthy provider must not be cached")
}

func TestCachedSearcherPropagatesErrors(t *testing.T) {
	cache := NewCachedSearcher(&countingSearcher{err: context.Canceled})
	_, err := cache.Search(context.Background(), "album", domain.Filters{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, cache.Len())

	_, err = cache.Search(context.Background(), "  ", domain.Filters{})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestCachedSearcherTrimsOldestEntries(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := &countingSearcher{response: completeResponse(t)}
	cache := NewCachedSearcher(next,
		WithCacheMaxEntries(2),
		WithCacheClock(func() time.Time { return current }),
	)

	for _, query := range []string{"one", "two", "three"} {
		_, err := cache.Search(context.Background(), query, domain.Filters{})
		require.NoError(t, err)
		current = current.Add(time.Second)
	}
	assert.Equal(t, 2, cache.Len())

	_, err := cache.Search(context.Background(), "one", domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, int32(4), next.calls.Load(), "oldest entry should have been evicted")
}

func TestCachedSearcherUsesBackend(t *testing.T) {
	backend := newMemoryBackend()
	next := &countingSearcher{response: completeResponse(t)}

	writer := NewCachedSearcher(next, WithCacheBackend(backend))
	_, err := writer.Search(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.sets)

	reader := NewCachedSearcher(next, WithCacheBackend(backend))
	response, err := reader.SearchDetailed(context.Background(), "ALBUM", domain.Filters{})
	require.NoError(t, err)
	assert.True(t, response.Cached)
	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, 1, reader.Len(), "backend hit should warm the memory layer")
}

func TestCachedSearcherIgnoresBackendReadErrors(t *testing.T) {
	backend := newMemoryBackend()
	backend.getErr = errors.New("redis down")
	next := &countingSearcher{response: completeResponse(t)}
	cache := NewCachedSearcher(next, WithCacheBackend(backend))

	response, err := cache.SearchDetailed(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	assert.False(t, response.Cached)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestBuildCacheKey(t *testing.T) {
	composed := BuildCacheKey("Björk  HOMOGENIC", domain.Filters{Format: " flac ", MinSeeders: -4})
	decomposed := BuildCacheKey("björk homogenic", domain.Filters{Format: "FLAC"})
	assert.Equal(t, composed, decomposed)
	assert.Equal(t, "q=björk homogenic|f=flac|ms=0", composed)

	assert.NotEqual(t,
		BuildCacheKey("album", domain.Filters{MinSeeders: 5}),
		BuildCacheKey("album", domain.Filters{MinSeeders: 6}),
	)
}

func TestCachedSearcherDoesNotRememberFailedProvider(t *testing.T) {
	alpha := newFakeProvider("alpha", mustResult(t, resultFields{title: "A", hash: "a1", source: "alpha", seeders: 3}))
	var fail atomic.Bool
	fail.Store(true)
	beta := &guardedProvider{
		Guard: circuit.NewGuard("beta", circuit.Config{}),
		name:  "beta",
	}
	beta.fetch = func(ctx context.Context) ([]domain.Result, error) {
		if fail.Load() {
			return nil, errors.New("connection reset")
		}
		return []domain.Result{mustResult(t, resultFields{title: "B", hash: "b1", source: "beta", seeders: 5})}, nil
	}
	cache := NewCachedSearcher(NewService([]Provider{alpha, beta}))

	first, err := cache.SearchDetailed(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, []domain.ProviderStatus{{Name: "alpha", Count: 1}, {Name: "beta", Failed: true}}, first.Providers)
	assert.Zero(t, cache.Len())

	fail.Store(false)
	second, err := cache.SearchDetailed(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.Len(t, second.Items, 2)
	assert.Equal(t, int32(2), beta.calls.Load())

	third, err := cache.SearchDetailed(context.Background(), "album", domain.Filters{})
	require.NoError(t, err)
	assert.True(t, third.Cached)
	assert.Equal(t, int32(2), beta.calls.Load())
}

package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"musicdiscovery/searchcore/internal/domain"
)

// Entries written by an older layout are ignored and removed on read.
const (
	redisCachePrefix  = "musicsearch:results:"
	redisCacheVersion = 1
)

// redisCommander is the subset of redis.UniversalClient the cache needs.
type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

type redisEntry struct {
	Version  int                   `json:"v"`
	StoredAt time.Time             `json:"storedAt"`
	Response domain.SearchResponse `json:"response"`
}

// RedisCacheBackend shares cached search responses between instances. Keys
// are hashes of the normalized query so raw user text never reaches the
// keyspace.
type RedisCacheBackend struct {
	client redisCommander
	now    func() time.Time
}

func NewRedisCacheBackend(client redis.UniversalClient) *RedisCacheBackend {
	return &RedisCacheBackend{client: client, now: time.Now}
}

func redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return redisCachePrefix + hex.EncodeToString(sum[:16])
}

// Get reports a miss for absent or outdated entries. A payload that no
// longer decodes into valid results is deleted and returned as an error.
func (r *RedisCacheBackend) Get(ctx context.Context, key string) (domain.SearchResponse, bool, error) {
	storeKey := redisKey(key)
	data, err := r.client.Get(ctx, storeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SearchResponse{}, false, nil
	}
	if err != nil {
		return domain.SearchResponse{}, false, fmt.Errorf("redis get: %w", err)
	}

	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.client.Del(ctx, storeKey)
		return domain.SearchResponse{}, false, fmt.Errorf("decode cached search %q: %w", key, err)
	}
	if entry.Version != redisCacheVersion {
		r.client.Del(ctx, storeKey)
		return domain.SearchResponse{}, false, nil
	}
	return entry.Response, true, nil
}

func (r *RedisCacheBackend) Set(ctx context.Context, key string, response domain.SearchResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(redisEntry{
		Version:  redisCacheVersion,
		StoredAt: r.now().UTC(),
		Response: response,
	})
	if err != nil {
		return fmt.Errorf("encode cached search %q: %w", key, err)
	}
	if err := r.client.Set(ctx, redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCacheBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKey(key)).Err()
}

func (r *RedisCacheBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

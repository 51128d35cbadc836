package storage

import (
	"context"
	"gallery/pkg/utils"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scrapedPrefix  = "gallery:scraped:"
	failurePrefix  = "gallery:failures:"
	failureExpires = 24 * time.Hour
)

// RedisStore keeps short-lived scrape marks and failure counters so
// repeated harvests skip elements that were just processed.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// scrapedKey hashes the URL so keys stay short and uniform.
func scrapedKey(url string) string { return scrapedPrefix + utils.HashURL(url) }

func failureKey(url string) string { return failurePrefix + utils.HashURL(url) }

// MarkAsScraped sets a key with a TTL to prevent re-scraping.
func (s *RedisStore) MarkAsScraped(ctx context.Context, url string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SetEx(ctx, scrapedKey(url), "1", ttl)
	pipe.Del(ctx, failureKey(url))
	_, err := pipe.Exec(ctx)
	return err
}

// IsRecentlyScraped checks if a URL has been scraped within the TTL.
func (s *RedisStore) IsRecentlyScraped(ctx context.Context, url string) (bool, error) {
	val, err := s.client.Exists(ctx, scrapedKey(url)).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}

// IncrementFailureCount increments the failure counter for a URL. The
// counter expires a day after its last increment.
func (s *RedisStore) IncrementFailureCount(ctx context.Context, url string) (int64, error) {
	key := failureKey(url)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, failureExpires)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BadURLSet is a ledger stored as a sorted set scored by the time a URL was
// first marked, so listings come out oldest first.
type BadURLSet struct {
	rdb       *redis.Client
	namespace string
	now       func() time.Time
}

// NewBadURLSet creates a Redis-backed bad URL ledger.
func NewBadURLSet(client *Client, namespace string) *BadURLSet {
	return &BadURLSet{
		rdb:       client.rdb,
		namespace: namespace,
		now:       time.Now,
	}
}

func (s *BadURLSet) key() string {
	return fmt.Sprintf("bad_urls:%s", s.namespace)
}

// Add marks url bad. Re-adding keeps the first-seen score.
func (s *BadURLSet) Add(ctx context.Context, url string) error {
	if err := s.rdb.ZAddNX(ctx, s.key(), redis.Z{
		Score:  float64(s.now().Unix()),
		Member: url,
	}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

func (s *BadURLSet) Remove(ctx context.Context, url string) error {
	if err := s.rdb.ZRem(ctx, s.key(), url).Err(); err != nil {
		return fmt.Errorf("zrem failed: %w", err)
	}
	return nil
}

func (s *BadURLSet) Contains(ctx context.Context, url string) (bool, error) {
	err := s.rdb.ZScore(ctx, s.key(), url).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("zscore failed: %w", err)
	}
	return true, nil
}

// List returns every URL, oldest first.
func (s *BadURLSet) List(ctx context.Context) ([]string, error) {
	urls, err := s.rdb.ZRange(ctx, s.key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	return urls, nil
}

func (s *BadURLSet) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key()).Err()
}

// Len returns the number of URLs.
func (s *BadURLSet) Len(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.key()).Result()
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/infra/storage"
)

const metricKeyPrefix = "sla_metrics:"

// MetricStore implements storage.MetricStore with one capped Redis list per key.
type MetricStore struct {
	rdb      *redis.Client
	capacity int64
}

// NewMetricStore creates a Redis-backed metric store retaining capacity entries per key.
func NewMetricStore(client *Client, capacity int) *MetricStore {
	if capacity <= 0 {
		capacity = storage.DefaultHistorySize
	}
	return &MetricStore{
		rdb:      client.rdb,
		capacity: int64(capacity),
	}
}

// Key helpers
func metricKey(key string) string {
	return metricKeyPrefix + key
}

// Append pushes the metric and trims the list to the newest capacity entries.
func (s *MetricStore) Append(ctx context.Context, key string, m domain.SLAMetric) (int, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metric: %w", err)
	}

	var length *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		length = pipe.RPush(ctx, metricKey(key), data)
		pipe.LTrim(ctx, metricKey(key), -s.capacity, -1)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append metric: %w", err)
	}

	if over := length.Val() - s.capacity; over > 0 {
		return int(over), nil
	}
	return 0, nil
}

// Get returns the retained metrics for key, oldest first.
func (s *MetricStore) Get(ctx context.Context, key string) ([]domain.SLAMetric, error) {
	raw, err := s.rdb.LRange(ctx, metricKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	metrics := make([]domain.SLAMetric, 0, len(raw))
	for _, item := range raw {
		var m domain.SLAMetric
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

// Scan returns every stored key with the given prefix.
func (s *MetricStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, metricKeyPrefix+escapeGlob(prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), metricKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return keys, nil
}

// Evict removes all history for key.
func (s *MetricStore) Evict(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, metricKey(key)).Err()
}

// escapeGlob escapes Redis MATCH metacharacters; organization-wide keys contain "*".
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

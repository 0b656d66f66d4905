package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageCounter records message arrival times per (channel, user) so the
// one-man-spam filter can count recent messages. Implementations are safe for
// concurrent use.
type MessageCounter interface {
	Record(ctx context.Context, channelID, userID string, at time.Time) error
	CountSince(ctx context.Context, channelID, userID string, since time.Time) (int, error)
}

// MemCounter is the in-process counter backend. Timestamps older than the
// retention are pruned on write and by the prune job.
type MemCounter struct {
	mu        sync.Mutex
	times     map[string][]time.Time
	retention time.Duration
}

// NewMemCounter creates a counter retaining timestamps for the given
// duration. Retention must cover the largest configured reset window.
func NewMemCounter(retention time.Duration) *MemCounter {
	return &MemCounter{
		times:     make(map[string][]time.Time),
		retention: retention,
	}
}

func (m *MemCounter) Record(ctx context.Context, channelID, userID string, at time.Time) error {
	key := channelID + "/" + userID
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.times[key]
	cutoff := at.Add(-m.retention)
	pruned := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	m.times[key] = append(pruned, at)
	return nil
}

func (m *MemCounter) CountSince(ctx context.Context, channelID, userID string, since time.Time) (int, error) {
	key := channelID + "/" + userID
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.times[key] {
		if !t.Before(since) {
			count++
		}
	}
	return count, nil
}

// Prune drops keys whose newest timestamp fell out of retention and returns
// the number of keys removed.
func (m *MemCounter) Prune(now time.Time) int {
	cutoff := now.Add(-m.retention)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, ts := range m.times {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(m.times, key)
			removed++
		}
	}
	return removed
}

// StartCounterPruneJob periodically prunes idle keys from a MemCounter.
func StartCounterPruneJob(ctx context.Context, counter *MemCounter, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := counter.Prune(time.Now()); n > 0 {
					slog.Debug("pruned message counter keys", slog.Int("removed", n), slog.String("component", "moderation"))
				}
			}
		}
	}()
}

// RedisCounter backs the counter with a Redis sorted set per (channel, user),
// scored by unix nanos, so several bot instances share spam state.
type RedisCounter struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisCounter(client *redis.Client, retention time.Duration) *RedisCounter {
	return &RedisCounter{client: client, retention: retention}
}

func (r *RedisCounter) key(channelID, userID string) string {
	return fmt.Sprintf("msgcount:%s:%s", channelID, userID)
}

func (r *RedisCounter) Record(ctx context.Context, channelID, userID string, at time.Time) error {
	key := r.key(channelID, userID)
	cutoff := at.Add(-r.retention)
	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixNano()), Member: at.UnixNano()})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.Expire(ctx, key, r.retention)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

func (r *RedisCounter) CountSince(ctx context.Context, channelID, userID string, since time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, r.key(channelID, userID),
		fmt.Sprintf("%d", since.UnixNano()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}

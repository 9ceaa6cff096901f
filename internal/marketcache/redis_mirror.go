package marketcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fxadvisor/internal/domain"
)

// RedisMirror is the Redis-backed fast path for C1 reads, adapted from
// nofendian17-stockbit-haka-haki's cache/redis.go JSON marshal/unmarshal
// wrapper. Each (pair, timeframe) key holds a sorted set of candle
// timestamps scored by ts, plus one string key per candle; realtime rows
// carry the timeframe-derived TTL so ExpireStale observations are visible
// process-wide.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror wraps an existing Redis client.
func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func zsetKey(pair string, tf domain.Timeframe) string {
	return fmt.Sprintf("candles:z:%s:%s", pair, tf)
}

func candleKey(pair string, tf domain.Timeframe, ts time.Time) string {
	return fmt.Sprintf("candles:v:%s:%s:%d", pair, tf, ts.UnixNano())
}

// Put mirrors candles into Redis, applying a per-candle TTL derived from
// its timeframe when RealTime is set; historical rows are written without
// expiry.
func (m *RedisMirror) Put(ctx context.Context, candles []domain.Candle) error {
	if m == nil || m.client == nil || len(candles) == 0 {
		return nil
	}
	pipe := m.client.Pipeline()
	for _, c := range candles {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal candle: %w", err)
		}
		vk := candleKey(c.Pair, c.Timeframe, c.Ts)
		if c.RealTime {
			pipe.Set(ctx, vk, data, c.Timeframe.CacheTTL())
		} else {
			pipe.Set(ctx, vk, data, 0)
		}
		pipe.ZAdd(ctx, zsetKey(c.Pair, c.Timeframe), redis.Z{
			Score:  float64(c.Ts.Unix()),
			Member: vk,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror pipeline exec: %w", err)
	}
	return nil
}

// GetLatest returns the newest <= n mirrored candles in chronological
// order. The second return is false if Redis could not serve the request
// (connection error, or no members mirrored for the key). Members whose
// candle key has expired are skipped, so fewer than n rows can come back
// with true; the caller falls back to the durable store when it gets fewer
// rows than it asked for.
func (m *RedisMirror) GetLatest(ctx context.Context, pair string, tf domain.Timeframe, n int) ([]domain.Candle, bool) {
	if m == nil || m.client == nil {
		return nil, false
	}
	members, err := m.client.ZRevRange(ctx, zsetKey(pair, tf), 0, int64(n-1)).Result()
	if err != nil || len(members) == 0 {
		return nil, false
	}
	vals, err := m.client.MGet(ctx, members...).Result()
	if err != nil {
		return nil, false
	}
	out := make([]domain.Candle, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var c domain.Candle
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, true
}

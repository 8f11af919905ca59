package reporting

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"virtual-office/internal/leads"
	"virtual-office/pkg/metrics"
)

const (
	cacheType       = "stats"
	generationKey   = "stats:generation"
	defaultCacheTTL = 30 * time.Second
)

// StatsSource computes fresh stats.
type StatsSource interface {
	Stats(ctx context.Context, scope leads.Scope, f leads.Filter) (Stats, error)
}

// CachedStats keeps Stats results in Redis for a short TTL.
//
// Keys embed a generation counter; Invalidate bumps it so every cached entry
// is bypassed at once without a SCAN. Redis failures fall back to the source.
type CachedStats struct {
	src     StatsSource
	rdb     *redis.Client
	ttl     time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewCachedStats(src StatsSource, rdb *redis.Client, ttl time.Duration, log *slog.Logger, m *metrics.Metrics) *CachedStats {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedStats{src: src, rdb: rdb, ttl: ttl, log: log, metrics: m}
}

func (c *CachedStats) Stats(ctx context.Context, scope leads.Scope, f leads.Filter) (Stats, error) {
	if c.rdb == nil {
		return c.src.Stats(ctx, scope, f)
	}

	key, err := c.key(ctx, scope, f)
	if err != nil {
		c.log.Warn("stats cache unavailable", "err", err)
		return c.src.Stats(ctx, scope, f)
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out Stats
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			c.metrics.RecordCacheHit(cacheType)
			return out, nil
		}
		c.log.Warn("stats cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("stats cache read failed", "err", err)
	}
	c.metrics.RecordCacheMiss(cacheType)

	out, err := c.src.Stats(ctx, scope, f)
	if err != nil {
		return Stats{}, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.Warn("stats cache write failed", "err", err)
		}
	}
	return out, nil
}

// Invalidate drops every cached entry.
func (c *CachedStats) Invalidate(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Incr(ctx, generationKey).Err()
}

func (c *CachedStats) key(ctx context.Context, scope leads.Scope, f leads.Filter) (string, error) {
	gen, err := c.rdb.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}

	var period string
	if !f.PeriodStart.IsZero() {
		period = f.PeriodStart.UTC().Format(time.RFC3339)
	}
	viewer := strings.ToLower(scope.AgentEmail)
	if scope.CanViewAll {
		viewer = "*"
	}
	parts := []string{viewer, strings.ToLower(f.AgentEmail), f.Month, period, strings.ToLower(strings.TrimSpace(f.Search))}
	sum := sha1.Sum([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("stats:%d:%s", gen, hex.EncodeToString(sum[:])), nil
}

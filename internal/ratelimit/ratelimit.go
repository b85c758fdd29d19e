package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Quota caps requests per provider per day. A limit of 0 means unlimited.
type Quota struct {
	mu        sync.Mutex
	limits    map[string]int
	used      map[string]int
	maxTotal  int
	total     int
	cacheHits int
	resetTime time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewQuota creates a quota with per-provider limits and an overall cap.
func NewQuota(limits map[string]int, maxTotal int, logger *slog.Logger) *Quota {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Quota{
		limits:   make(map[string]int, len(limits)),
		used:     make(map[string]int),
		maxTotal: maxTotal,
		now:      time.Now,
		logger:   logger,
	}
	for k, v := range limits {
		q.limits[k] = v
	}
	q.resetTime = q.now().Add(24 * time.Hour)
	return q
}

// WithClock overrides the time source.
func (q *Quota) WithClock(now func() time.Time) *Quota {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
	q.resetTime = now().Add(24 * time.Hour)
	return q
}

// Allow reports whether provider has budget left.
func (q *Quota) Allow(provider string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.checkReset()
	return q.allowLocked(provider) == nil
}

// Use consumes one request for provider.
func (q *Quota) Use(provider string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.checkReset()

	if err := q.allowLocked(provider); err != nil {
		return err
	}
	q.used[provider]++
	q.total++

	q.logger.Debug("provider usage", "provider", provider, "used", q.used[provider], "limit", q.limits[provider], "total", q.total)
	return nil
}

// RecordCacheHit counts a request answered without calling a provider.
func (q *Quota) RecordCacheHit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cacheHits++
}

func (q *Quota) allowLocked(provider string) error {
	if limit := q.limits[provider]; limit > 0 && q.used[provider] >= limit {
		return fmt.Errorf("%s rate limit exceeded (%d/%d)", provider, q.used[provider], limit)
	}
	if q.maxTotal > 0 && q.total >= q.maxTotal {
		return fmt.Errorf("total AI rate limit exceeded (%d/%d)", q.total, q.maxTotal)
	}
	return nil
}

// GetStats returns current counters.
func (q *Quota) GetStats() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{
		"total_used":  q.total,
		"total_limit": q.maxTotal,
		"cache_hits":  q.cacheHits,
		"reset_time":  q.resetTime,
	}
	for p, limit := range q.limits {
		stats[p+"_used"] = q.used[p]
		stats[p+"_limit"] = limit
	}
	return stats
}

// checkReset zeroes the counters once a day.
func (q *Quota) checkReset() {
	if q.now().Before(q.resetTime) {
		return
	}
	q.logger.Info("resetting provider quota counters", "total_used", q.total, "cache_hits", q.cacheHits)
	q.used = make(map[string]int)
	q.total = 0
	q.cacheHits = 0
	q.resetTime = q.now().Add(24 * time.Hour)
}

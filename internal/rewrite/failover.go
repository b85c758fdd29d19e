package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deusflow/sportswire/internal/cache"
	"github.com/deusflow/sportswire/internal/ratelimit"
)

// Backend is a Rewriter with a provider name for quota accounting.
type Backend interface {
	Rewriter
	Name() string
}

// Failover tries backends in order, skipping any whose daily quota is
// spent. The last error is returned when every backend fails.
type Failover struct {
	backends []Backend
	quota    *ratelimit.Quota
	logger   *slog.Logger
}

var ErrNoBackend = errors.New("no rewrite backend available")

func NewFailover(quota *ratelimit.Quota, logger *slog.Logger, backends ...Backend) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{backends: backends, quota: quota, logger: logger}
}

func (f *Failover) Rewrite(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for _, b := range f.backends {
		if f.quota != nil {
			if err := f.quota.Use(b.Name()); err != nil {
				f.logger.Debug("skipping rewrite backend", "provider", b.Name(), "reason", err)
				lastErr = err
				continue
			}
		}

		res, err := b.Rewrite(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		f.logger.Warn("rewrite backend failed", "provider", b.Name(), "style", req.Style, "error", err)

		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}

	if lastErr == nil {
		return Result{}, ErrNoBackend
	}
	return Result{}, fmt.Errorf("all rewrite backends failed: %w", lastErr)
}

// Cached memoizes results so a retried story does not pay again for
// variants that already succeeded.
type Cached struct {
	next  Rewriter
	store *cache.Cache[Result]
	ttl   time.Duration
	quota *ratelimit.Quota
}

func NewCached(next Rewriter, store *cache.Cache[Result], ttl time.Duration, quota *ratelimit.Quota) *Cached {
	if store == nil {
		store = cache.New[Result]()
	}
	return &Cached{next: next, store: store, ttl: ttl, quota: quota}
}

func (c *Cached) Rewrite(ctx context.Context, req Request) (Result, error) {
	key := cache.Key(req.Title, req.Text, string(req.Style), req.TargetLength, req.Language)
	if res, ok := c.store.Get(key); ok {
		if c.quota != nil {
			c.quota.RecordCacheHit()
		}
		res.Cached = true
		res.Tokens = 0
		return res, nil
	}

	res, err := c.next.Rewrite(ctx, req)
	if err != nil {
		return Result{}, err
	}
	c.store.Set(key, res, c.ttl)
	return res, nil
}

package app

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/deusflow/sportswire/internal/config"
	"github.com/deusflow/sportswire/internal/dedup"
	"github.com/deusflow/sportswire/internal/news"
	"github.com/deusflow/sportswire/internal/pipeline"
	"github.com/deusflow/sportswire/internal/retry"
	"github.com/deusflow/sportswire/internal/storage"
)

// StoryLog is what the app needs from either story log backend.
type StoryLog interface {
	pipeline.StoryLog
	Recent(ctx context.Context, n int) ([]news.Story, error)
}

// openStoryLog picks Postgres when DATABASE_URL is set and the JSON file
// otherwise. The returned loader restores persisted entries.
func openStoryLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (StoryLog, func(context.Context) error, func() error, error) {
	if cfg.DatabaseURL != "" {
		var pl *storage.PostgresStoryLog
		err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
			var err error
			pl, err = storage.NewPostgresStoryLog(ctx, cfg.DatabaseURL, cfg.StoryLogCap, logger)
			return err
		})
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using Postgres story log")
		return pl, func(context.Context) error { return nil }, pl.Close, nil
	}

	fl := storage.NewFileStoryLog(filepath.Join(cfg.DataDir, "processed-stories.json"), cfg.StoryLogCap)
	logger.Info("using file story log", "dir", cfg.DataDir)
	return fl, fl.Load, func() error { return nil }, nil
}

// openDedup keeps fingerprints in Redis when REDIS_URL is set, in memory
// otherwise.
func openDedup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dedup.Store, func() error, error) {
	if cfg.RedisURL == "" {
		return dedup.NewStore(dedup.NewMemoryBackend(), cfg.DedupCeiling, logger), func() error { return nil }, nil
	}

	var rb *dedup.RedisBackend
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		var err error
		rb, err = dedup.NewRedisBackendFromURL(ctx, cfg.RedisURL, cfg.RedisKey)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using Redis dedup store", "key", cfg.RedisKey)
	return dedup.NewStore(rb, cfg.DedupCeiling, logger), rb.Close, nil
}

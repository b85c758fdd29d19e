// Package app wires the pipeline, its collaborators and the scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/deusflow/sportswire/internal/budget"
	"github.com/deusflow/sportswire/internal/cache"
	"github.com/deusflow/sportswire/internal/config"
	"github.com/deusflow/sportswire/internal/dedup"
	"github.com/deusflow/sportswire/internal/logger"
	"github.com/deusflow/sportswire/internal/metrics"
	"github.com/deusflow/sportswire/internal/news"
	"github.com/deusflow/sportswire/internal/notify"
	"github.com/deusflow/sportswire/internal/pipeline"
	"github.com/deusflow/sportswire/internal/ratelimit"
	"github.com/deusflow/sportswire/internal/retry"
	"github.com/deusflow/sportswire/internal/rewrite"
	"github.com/deusflow/sportswire/internal/rss"
	"github.com/deusflow/sportswire/internal/server"
	"github.com/deusflow/sportswire/internal/storage"
	"github.com/deusflow/sportswire/internal/video"
	"github.com/deusflow/sportswire/internal/workflow"
)

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Stories     StoryLog
	Seen        *dedup.Store
	Workflow    *workflow.Controller
	Budget      *budget.Monitor
	Coordinator *retry.Coordinator
	Pipeline    *pipeline.Pipeline
	Server      *server.Server

	quota        *ratelimit.Quota
	rewriteCache *cache.Cache[rewrite.Result]
	loadStories  func(context.Context) error
	closers      []func() error
}

// New builds every component from cfg. Nothing runs until Load and Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.OrDefault(nil)
	a := &App{cfg: cfg, logger: log}

	sources, err := rss.LoadFeeds(cfg.FeedsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load feeds: %w", err)
	}
	log.Info("feeds loaded", "count", len(sources), "path", cfg.FeedsConfigPath)

	styles := make([]rewrite.Style, 0, len(cfg.RewriteStyles))
	for _, s := range cfg.RewriteStyles {
		st, err := rewrite.ParseStyle(s)
		if err != nil {
			return nil, err
		}
		styles = append(styles, st)
	}

	stories, loadStories, closeStories, err := openStoryLog(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open story log: %w", err)
	}
	a.Stories = stories
	a.loadStories = loadStories
	a.closers = append(a.closers, closeStories)

	seen, closeSeen, err := openDedup(ctx, cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open dedup store: %w", err)
	}
	a.Seen = seen
	a.closers = append(a.closers, closeSeen)

	content, alerts := buildNotifiers(cfg, log)
	alerter := notify.NewAlerter(alerts)

	hook := webhookHook{}
	if cfg.PauseWebhookURL != "" {
		hook.pause = notify.NewWebhook(cfg.PauseWebhookURL, cfg.WebhookSecret)
	}
	if cfg.ResumeWebhookURL != "" {
		hook.resume = notify.NewWebhook(cfg.ResumeWebhookURL, cfg.WebhookSecret)
	}
	a.Workflow = workflow.NewController(storage.NewJSONFile(filepath.Join(cfg.DataDir, "workflow-state.json")), log, hook)

	a.Budget = budget.NewMonitor(
		budget.Limits{Daily: cfg.DailyLimit, Weekly: cfg.WeeklyLimit, Monthly: cfg.MonthlyLimit},
		budget.UnitCosts{
			budget.UsageAPIRequests: cfg.CostPerAPIRequest,
			budget.UsageTokens:      cfg.CostPerToken,
			budget.UsageVideos:      cfg.CostPerVideo,
			budget.UsageUploads:     cfg.CostPerUpload,
		},
		budget.Options{
			Store:   storage.NewJSONFile(filepath.Join(cfg.DataDir, "budget.json")),
			Alerter: alerter,
			Pauser:  a.Workflow,
			Logger:  log,
		},
	)

	a.Coordinator = retry.NewCoordinator(retry.Config{
		MaxRetries:       cfg.MaxRetries,
		Delays:           cfg.RetryDelays,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, retry.Options{
		Escalator: alerter,
		Journal:   retry.NewFileJournal(cfg.DataDir),
		Paused:    a.Workflow.IsPaused,
		Logger:    log,
	})

	a.quota = ratelimit.NewQuota(map[string]int{
		"openai": cfg.MaxOpenAIRequests,
		"gemini": cfg.MaxGeminiRequests,
	}, cfg.MaxRewriteRequests, log)
	a.rewriteCache = cache.New[rewrite.Result]()

	rewriter, err := a.buildRewriter(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	deps := pipeline.Deps{
		Sources:  sources,
		Fetcher:  rss.NewFetcher(cfg.RequestTimeout),
		Seen:     a.Seen,
		Scorer:   news.NewScorer(),
		Stories:  a.Stories,
		Executor: a.Coordinator,
		Rewriter: rewriter,
		Notifier: content,
		Gate:     a.Workflow,
		Usage:    a.Budget,
		Logger:   log,
	}
	if cfg.VideoEndpoint != "" {
		deps.Video = video.NewClient(cfg.VideoEndpoint, cfg.VideoAPIKey)
	}

	router := pipeline.Router{
		Immediate:  cfg.ImmediateThreshold,
		Hourly:     cfg.HourlyThreshold,
		Daily:      cfg.DailyThreshold,
		QuietStart: cfg.QuietStart,
		QuietEnd:   cfg.QuietEnd,
		Override:   cfg.QuietOverride,
		Location:   cfg.Location(),
	}
	a.Pipeline, err = pipeline.New(pipeline.Config{
		Routing:        router,
		MaxPerCycle:    cfg.MaxPerCycle,
		Concurrency:    cfg.Concurrency,
		StoryInterval:  cfg.StoryInterval,
		Styles:         styles,
		Language:       cfg.RewriteLanguage,
		VideoThreshold: cfg.VideoThreshold,
	}, deps)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Coordinator.SetPerformer(a.Pipeline.Dispatcher())

	a.Server = server.New(a.Workflow, func(ctx context.Context) (any, error) {
		return a.Status(ctx)
	}, cfg.WebhookSecret, log)

	return a, nil
}

// buildNotifiers returns the story sinks and the operator alert sinks.
func buildNotifiers(cfg *config.Config, log *slog.Logger) (content, alerts notify.Notifier) {
	var sinks []notify.Notifier
	if cfg.TelegramToken != "" {
		sinks = append(sinks, notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscord(cfg.DiscordWebhookURL, "SportsWire"))
	}
	var email notify.Notifier
	if cfg.SMTPHost != "" {
		email = notify.NewEmail(cfg.SMTPHost, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom, cfg.EmailTo)
		sinks = append(sinks, email)
	}

	if len(sinks) == 0 {
		log.Warn("no notification sinks configured, stories will only be logged")
		content = notify.Noop{}
	} else {
		content = notify.NewMulti(sinks...)
	}

	var alertSinks []notify.Notifier
	if cfg.AlertWebhookURL != "" {
		alertSinks = append(alertSinks, notify.NewWebhook(cfg.AlertWebhookURL, cfg.WebhookSecret))
	}
	if email != nil {
		alertSinks = append(alertSinks, email)
	}
	if len(alertSinks) == 0 {
		log.Warn("no alert sinks configured, budget alerts and escalations will only be logged")
		return content, notify.Noop{}
	}
	return content, notify.NewMulti(alertSinks...)
}

// buildRewriter returns nil when no provider is usable; stories then get
// fallback versions.
func (a *App) buildRewriter(ctx context.Context) (rewrite.Rewriter, error) {
	cfg := a.cfg
	useOpenAI := cfg.OpenAIAPIKey != "" && (cfg.RewriteProvider == "auto" || cfg.RewriteProvider == "openai")
	useGemini := cfg.GeminiAPIKey != "" && (cfg.RewriteProvider == "auto" || cfg.RewriteProvider == "gemini")

	var backends []rewrite.Backend
	if useOpenAI {
		backends = append(backends, rewrite.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL))
	}
	if useGemini {
		g, err := rewrite.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { g.Close(); return nil })
		backends = append(backends, g)
	}

	if len(backends) == 0 {
		a.logger.Warn("no rewrite provider configured, using fallback versions", "provider", cfg.RewriteProvider)
		return nil, nil
	}
	return rewrite.NewCached(rewrite.NewFailover(a.quota, a.logger, backends...), a.rewriteCache, cfg.RewriteCacheTTL, a.quota), nil
}

// Load restores persisted state. The retry journal is loaded before any
// new work can be accepted.
func (a *App) Load(ctx context.Context) error {
	if err := a.Workflow.Load(); err != nil {
		return fmt.Errorf("failed to load workflow state: %w", err)
	}
	if err := a.Budget.Load(); err != nil {
		return fmt.Errorf("failed to load budget ledger: %w", err)
	}
	if err := a.Coordinator.Load(ctx); err != nil {
		return err
	}
	if err := a.loadStories(ctx); err != nil {
		return fmt.Errorf("failed to load story log: %w", err)
	}
	return nil
}

// Run starts the scheduler and monitoring server and blocks until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.rewriteCache.Run(ctx, time.Hour)

	sched, err := NewScheduler(a, a.cfg.PollInterval, a.cfg.Location(), a.logger)
	if err != nil {
		return err
	}
	sched.Start()

	srvErr := make(chan error, 1)
	if a.cfg.EnableHTTPMonitoring {
		go func() { srvErr <- a.Server.Start(a.cfg.MonitoringAddr) }()
	}

	// first cycle right away rather than one interval from now
	go a.RunCycle(ctx)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("monitoring server: %w", err)
		}
	}

	a.logger.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(stopCtx)
	if a.cfg.EnableHTTPMonitoring {
		if err := a.Server.Shutdown(stopCtx); err != nil {
			a.logger.Error("failed to stop monitoring server", "error", err)
		}
	}
	return runErr
}

// RunCycle runs one polling cycle and records the outcome for /health.
func (a *App) RunCycle(ctx context.Context) {
	if _, err := a.Pipeline.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("polling cycle failed", "error", err)
		metrics.Global.SetError(err.Error())
	}
}

// Status is the operator view served on /status and by the CLI.
type Status struct {
	Workflow     workflow.State  `json:"workflow"`
	Budget       budget.Snapshot `json:"budget"`
	Retries      retry.Stats     `json:"retries"`
	Pipeline     PipelineStatus  `json:"pipeline"`
	Dedup        dedup.Stats     `json:"dedup"`
	RewriteQuota map[string]any  `json:"rewrite_quota"`
	Run          map[string]any  `json:"run"`
}

type PipelineStatus struct {
	State   pipeline.State     `json:"state"`
	Carried int                `json:"carried"`
	Digest  map[news.Route]int `json:"digest"`
}

func (a *App) Status(ctx context.Context) (Status, error) {
	ds, err := a.Seen.Stats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read dedup stats: %w", err)
	}
	return Status{
		Workflow: a.Workflow.State(),
		Budget:   a.Budget.Status(),
		Retries:  a.Coordinator.Stats(),
		Pipeline: PipelineStatus{
			State:   a.Pipeline.State(),
			Carried: a.Pipeline.Carried(),
			Digest:  a.Pipeline.Digest().Pending(),
		},
		Dedup:        ds,
		RewriteQuota: a.quota.GetStats(),
		Run:          metrics.Global.GetStats(),
	}, nil
}

// Close releases database and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

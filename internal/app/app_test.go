package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/sportswire/internal/budget"
	"github.com/deusflow/sportswire/internal/config"
	"github.com/deusflow/sportswire/internal/news"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Wire</title>
<item><title>BREAKING: Star traded</title><link>https://wire.example/1</link><guid>wire-1</guid>
<description><![CDATA[<p>The deal closed tonight.</p>]]></description><pubDate>%s</pubDate></item>
<item><title>Team unveils mascot</title><link>https://wire.example/2</link><guid>wire-2</guid><pubDate>%s</pubDate></item>
</channel></rss>`

func testConfig(t *testing.T, feedURL string) *config.Config {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := config.Load()
	require.NoError(t, err)

	dir := t.TempDir()
	feeds := filepath.Join(dir, "feeds.yaml")
	require.NoError(t, os.WriteFile(feeds, []byte(fmt.Sprintf("feeds:\n  - name: wire\n    url: %s\n    priority: 1\n", feedURL)), 0o644))

	cfg.FeedsConfigPath = feeds
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.StoryInterval = 0
	cfg.RewriteProvider = "none"
	cfg.DatabaseURL = ""
	cfg.RedisURL = ""
	cfg.TelegramToken, cfg.TelegramChatID = "", ""
	cfg.DiscordWebhookURL = ""
	cfg.SMTPHost = ""
	cfg.AlertWebhookURL = ""
	cfg.VideoEndpoint = ""
	return cfg
}

func feedServer(t *testing.T) *httptest.Server {
	now := time.Now().UTC().Format(time.RFC1123Z)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, feedXML, now, now)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApp_CycleEndToEnd(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Load(ctx))

	a.RunCycle(ctx)

	stories, err := a.Stories.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stories, 1, "the mascot story scores below the daily threshold")

	s := stories[0]
	assert.Equal(t, "BREAKING: Star traded", s.Title)
	assert.Equal(t, "The deal closed tonight.", s.Description)
	assert.Contains(t, []news.Route{news.RouteImmediate, news.RouteHourly}, s.Route)
	assert.True(t, s.HasRewrites(), "fallback versions are attached without a provider")

	// second cycle sees only duplicates
	a.RunCycle(ctx)
	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Dedup.Seen)
	assert.Equal(t, 0, st.Retries.Unresolved)
	assert.True(t, st.Workflow.IsActive)
	assert.Equal(t, budget.HealthHealthy, st.Budget.Health)
}

func TestApp_StatePersistsAcrossRestarts(t *testing.T) {
	srv := feedServer(t)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, a.Load(ctx))
	_, err = a.Workflow.Pause(ctx, "operator")
	require.NoError(t, err)
	_, err = a.Budget.AddCost(ctx, 12.5, "manual")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Load(ctx))

	assert.True(t, b.Workflow.IsPaused())
	assert.InDelta(t, 12.5, b.Budget.Status().Daily.Spent, 0.0001)
}

func TestApp_InvalidStyle(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/rss")
	cfg.RewriteStyles = []string{"sonnet"}

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestSchedules_AreValid(t *testing.T) {
	for name, spec := range Schedules(5 * time.Minute) {
		_, err := cron.ParseStandard(spec)
		assert.NoError(t, err, name)
	}
}

type countingJobs struct {
	mu     sync.Mutex
	cycles int
	resets []budget.Period
}

func (c *countingJobs) RunCycle(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles++
}
func (c *countingJobs) FlushHourly(context.Context)    {}
func (c *countingJobs) FlushDaily(context.Context)     {}
func (c *countingJobs) ProcessRetries(context.Context) {}
func (c *countingJobs) ResetBudget(p budget.Period) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets = append(c.resets, p)
}

func TestScheduler_RunsPollJob(t *testing.T) {
	jobs := &countingJobs{}
	s, err := NewScheduler(jobs, time.Second, time.UTC, newTestLogger())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), len(Schedules(time.Second)))

	s.Start()
	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return jobs.cycles >= 1
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestWebhookHook(t *testing.T) {
	var mu sync.Mutex
	var events []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		events = append(events, body)
		mu.Unlock()
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.PauseWebhookURL = srv.URL
	cfg.ResumeWebhookURL = srv.URL
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Workflow.Pause(ctx, "daily budget exceeded")
	require.NoError(t, err)
	_, err = a.Workflow.Resume(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, "Workflow paused", events[0]["title"])
	assert.Equal(t, "daily budget exceeded", events[0]["body"])
	assert.Equal(t, "Workflow resumed", events[1]["title"])
	assert.Equal(t, 1, a.Workflow.State().ResumeCount)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

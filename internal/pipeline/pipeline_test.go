package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/sportswire/internal/dedup"
	"github.com/deusflow/sportswire/internal/news"
	"github.com/deusflow/sportswire/internal/notify"
	"github.com/deusflow/sportswire/internal/retry"
	"github.com/deusflow/sportswire/internal/rewrite"
	"github.com/deusflow/sportswire/internal/storage"
	"github.com/deusflow/sportswire/internal/video"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFetcher struct {
	mu    sync.Mutex
	items map[string][]news.RawItem
	errs  map[string]error
	// block, when set, holds every fetch until closed
	block   chan struct{}
	started chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, src news.Source) ([]news.RawItem, error) {
	if f.block != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[src.Name]; err != nil {
		return nil, err
	}
	return f.items[src.Name], nil
}

// scriptedRewriter fails with the queued errors in order, then succeeds.
type scriptedRewriter struct {
	mu    sync.Mutex
	errs  []error
	calls int
	langs []string
}

func (r *scriptedRewriter) Rewrite(_ context.Context, req rewrite.Request) (rewrite.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.langs = append(r.langs, req.Language)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return rewrite.Result{}, err
		}
	}
	return rewrite.Result{Text: fmt.Sprintf("[%s] %s", req.Style, req.Title), Tokens: 120, Provider: "fake"}, nil
}

func (r *scriptedRewriter) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m)
	return nil
}

func (n *recordingNotifier) Messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.msgs...)
}

type gate struct{ paused atomic.Bool }

func (g *gate) IsPaused() bool { return g.paused.Load() }

type fakeVideo struct {
	mu   sync.Mutex
	jobs []video.Job
}

func (v *fakeVideo) Submit(_ context.Context, job video.Job) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.jobs = append(v.jobs, job)
	return fmt.Sprintf("job-%d", len(v.jobs)), nil
}

type harness struct {
	p        *Pipeline
	coord    *retry.Coordinator
	stories  *storage.FileStoryLog
	clock    *clock
	fetcher  *fakeFetcher
	rewriter *scriptedRewriter
	notifier *recordingNotifier
	gate     *gate
}

var trustedSource = news.Source{Name: "wire", URL: "https://wire.example/rss", Priority: 1}

func newHarness(t *testing.T, cfg Config, mutate func(*Deps)) *harness {
	t.Helper()

	h := &harness{
		clock:    &clock{now: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)},
		fetcher:  &fakeFetcher{items: map[string][]news.RawItem{}, errs: map[string]error{}},
		rewriter: &scriptedRewriter{},
		notifier: &recordingNotifier{},
		gate:     &gate{},
		stories:  storage.NewFileStoryLog(filepath.Join(t.TempDir(), "stories.json"), 0),
	}

	rcfg := retry.DefaultConfig()
	rcfg.BreakerThreshold = 0
	h.coord = retry.NewCoordinator(rcfg, retry.Options{
		Paused: h.gate.IsPaused,
		Now:    h.clock.Now,
	})

	scorer := news.NewScorer()
	scorer.Now = h.clock.Now

	deps := Deps{
		Sources:  []news.Source{trustedSource},
		Fetcher:  h.fetcher,
		Seen:     dedup.NewStore(dedup.NewMemoryBackend(), 0, nil),
		Scorer:   scorer,
		Stories:  h.stories,
		Executor: h.coord,
		Rewriter: h.rewriter,
		Notifier: h.notifier,
		Gate:     h.gate,
		Now:      h.clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}

	p, err := New(cfg, deps)
	require.NoError(t, err)
	h.coord.SetPerformer(p.Dispatcher())
	h.p = p
	return h
}

func oneStyle() Config {
	return Config{Styles: []rewrite.Style{rewrite.StyleBreaking}}
}

func ago(c *clock, d time.Duration) *time.Time {
	t := c.Now().Add(-d)
	return &t
}

func TestPipeline_BreakingTradeGoesOutImmediately(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", Link: "https://wire.example/1", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}

	report, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, report.Processed)

	stored, err := h.stories.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.InDelta(t, 8.5, stored[0].UrgencyScore, 0.0001)
	assert.Equal(t, news.RouteImmediate, stored[0].Route)
	assert.Equal(t, news.CategoryTrade, stored[0].Category)
	assert.Equal(t, "[breaking] BREAKING: player traded", stored[0].Rewrites["breaking"])

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "BREAKING: player traded", msgs[0].Title)
	assert.Equal(t, "https://wire.example/1", msgs[0].URL)
}

func TestPipeline_RewriteRecoversAfterTwo503s(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	unavailable := &rewrite.APIError{Provider: "fake", Status: 503, Err: errors.New("unavailable")}
	h.rewriter.errs = []error{unavailable, unavailable}
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", Link: "https://wire.example/1", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	ctx := context.Background()

	_, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.notifier.Messages())
	require.Len(t, h.coord.Unresolved(retry.KindRewrite), 1)

	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.coord.ProcessDue(ctx))
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, h.coord.ProcessDue(ctx))

	assert.Equal(t, 3, h.rewriter.Calls())
	story, err := h.stories.Get(ctx, dedup.Fingerprint("wire", "g1", "", ""))
	require.NoError(t, err)
	assert.True(t, story.HasRewrites())
	assert.NotEmpty(t, story.Rewrites["breaking"])
	assert.Empty(t, h.coord.Unresolved(retry.KindRewrite))
	assert.Len(t, h.notifier.Messages(), 1)
}

func TestPipeline_DuplicateAcrossCycles(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "Coach fired after loss", Link: "https://wire.example/a", GUID: "a"},
	}
	ctx := context.Background()

	_, err := h.p.RunCycle(ctx)
	require.NoError(t, err)

	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "Coach fired after loss", Link: "https://wire.example/a", GUID: "a"},
		{Title: "Star injured in practice", Link: "https://wire.example/b", GUID: "b"},
		{Title: "Veteran to retire", Link: "https://wire.example/c", GUID: "c"},
	}
	report, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 2, report.New)
}

func TestPipeline_DiscardedStoriesAreNotStored(t *testing.T) {
	h := newHarness(t, oneStyle(), func(d *Deps) {
		d.Sources = []news.Source{{Name: "blog", Priority: 5}}
	})
	h.fetcher.items["blog"] = []news.RawItem{
		{Title: "Team unveils new mascot", Link: "https://blog.example/m", GUID: "m"},
	}

	report, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Discarded)
	assert.Equal(t, 0, h.stories.Len())
	assert.Zero(t, h.rewriter.Calls())
	assert.Empty(t, h.notifier.Messages())
}

func TestPipeline_PausedStoriesGoToDigest(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	h.gate.paused.Store(true)
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", Link: "https://wire.example/1", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	ctx := context.Background()

	_, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, h.rewriter.Calls())
	assert.Empty(t, h.notifier.Messages())
	assert.Equal(t, 1, h.p.Digest().Pending()[news.RouteHourly])

	// still paused: the digest is kept
	n, err := h.p.FlushHourly(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.gate.paused.Store(false)
	n, err = h.p.FlushHourly(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Title, "Hourly sports digest")
	assert.Contains(t, msgs[0].Body, "BREAKING: player traded")
}

func TestPipeline_CycleCapCarriesRest(t *testing.T) {
	cfg := oneStyle()
	cfg.MaxPerCycle = 2
	h := newHarness(t, cfg, nil)

	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "Coach fired", GUID: "1", PublishedAt: ago(h.clock, 2*time.Hour)},
		{Title: "BREAKING: star traded", GUID: "2", PublishedAt: ago(h.clock, 2*time.Hour)},
		{Title: "Player injured", GUID: "3", PublishedAt: ago(h.clock, 2*time.Hour)},
		{Title: "Guard to retire", GUID: "4", PublishedAt: ago(h.clock, 2*time.Hour)},
	}
	ctx := context.Background()

	report, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.New)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Carried)
	assert.Equal(t, 2, h.p.Carried())

	stored, err := h.stories.Recent(ctx, 10)
	require.NoError(t, err)
	titles := []string{stored[0].Title, stored[1].Title}
	assert.Contains(t, titles, "BREAKING: star traded")

	h.fetcher.items["wire"] = nil
	report, err = h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.New)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, h.p.Carried())
	assert.Equal(t, 4, h.stories.Len())
}

func TestPipeline_OverlappingCycleIsSkipped(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	h.fetcher.block = make(chan struct{})
	h.fetcher.started = make(chan struct{}, 1)

	done := make(chan Report, 1)
	go func() {
		r, _ := h.p.RunCycle(context.Background())
		done <- r
	}()

	<-h.fetcher.started
	assert.Equal(t, StateFetching, h.p.State())

	second, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	close(h.fetcher.block)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, StateIdle, h.p.State())
}

func TestPipeline_FailingSourceDoesNotAbortCycle(t *testing.T) {
	h := newHarness(t, oneStyle(), func(d *Deps) {
		d.Sources = []news.Source{trustedSource, {Name: "flaky", Priority: 2}}
	})
	h.fetcher.errs["flaky"] = errors.New("connection reset")
	h.fetcher.items["wire"] = []news.RawItem{{Title: "Player injured", GUID: "x"}}

	report, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedSources)
	assert.Equal(t, 1, report.New)
	assert.Len(t, h.coord.Unresolved(retry.KindFetch), 1)
}

func TestPipeline_RecoveredFetchFeedsNextCycle(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	h.fetcher.errs["wire"] = errors.New("timeout")
	h.fetcher.items["wire"] = []news.RawItem{{Title: "Player injured", GUID: "x"}}
	ctx := context.Background()

	report, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fetched)

	h.fetcher.mu.Lock()
	delete(h.fetcher.errs, "wire")
	h.fetcher.mu.Unlock()
	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.coord.ProcessDue(ctx))

	// the retried fetch plus this cycle's own fetch; the second is a duplicate
	report, err = h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, report.Duplicates)
}

func TestPipeline_PermanentRewriteFailureUsesFallback(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	h.rewriter.errs = []error{&rewrite.APIError{Provider: "fake", Status: 401, Err: errors.New("invalid api key")}}
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", Description: "The deal closed overnight. More to come.", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	ctx := context.Background()

	_, err := h.p.RunCycle(ctx)
	require.NoError(t, err)

	story, err := h.stories.Get(ctx, dedup.Fingerprint("wire", "g1", "", ""))
	require.NoError(t, err)
	assert.True(t, story.HasRewrites())
	assert.Len(t, h.notifier.Messages(), 1)

	unresolved := h.coord.Unresolved(retry.KindRewrite)
	require.Len(t, unresolved, 1)
	assert.Equal(t, retry.SeverityCritical, unresolved[0].Severity)
}

func TestPipeline_ExhaustedRewriteRetriesUseFallback(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	unavailable := &rewrite.APIError{Provider: "fake", Status: 503, Err: errors.New("overloaded")}
	h.rewriter.errs = []error{unavailable, unavailable, unavailable, unavailable}
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", Description: "The deal closed overnight.", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	ctx := context.Background()

	_, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, h.coord.Tasks(), 1)
	assert.Empty(t, h.notifier.Messages())

	for i := 0; i < 6; i++ {
		h.clock.Advance(20 * time.Second)
		h.coord.ProcessDue(ctx)
	}

	assert.Equal(t, 4, h.rewriter.Calls())
	assert.Empty(t, h.coord.Tasks())

	story, err := h.stories.Get(ctx, dedup.Fingerprint("wire", "g1", "", ""))
	require.NoError(t, err)
	assert.True(t, story.HasRewrites(), "fallback versions replace the abandoned rewrite")
	require.Len(t, h.notifier.Messages(), 1)
	assert.Equal(t, 1, h.coord.Stats().PermanentFailures)
}

func TestPipeline_RewriteLanguage(t *testing.T) {
	cfg := oneStyle()
	cfg.Language = "Spanish"
	h := newHarness(t, cfg, func(d *Deps) {
		d.Sources = []news.Source{
			trustedSource,
			{Name: "marca", URL: "https://marca.example/rss", Priority: 1, Language: "es"},
			{Name: "lequipe", URL: "https://lequipe.example/rss", Priority: 1, Language: "fr"},
		}
	})
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	h.fetcher.items["marca"] = []news.RawItem{
		{Title: "BREAKING: striker traded", GUID: "m1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	h.fetcher.items["lequipe"] = []news.RawItem{
		{Title: "BREAKING: keeper traded", GUID: "l1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}

	_, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)

	h.rewriter.mu.Lock()
	defer h.rewriter.mu.Unlock()
	assert.ElementsMatch(t, []string{"Spanish", "Spanish", "French"}, h.rewriter.langs)
}

func TestPipeline_HighScoreSubmitsVideoJob(t *testing.T) {
	vid := &fakeVideo{}
	h := newHarness(t, oneStyle(), func(d *Deps) { d.Video = vid })
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
		{Title: "Player injured in practice", GUID: "g2", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	ctx := context.Background()

	_, err := h.p.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, vid.jobs, 1)
	assert.Equal(t, "[breaking] BREAKING: player traded", vid.jobs[0].Script)

	story, err := h.stories.Get(ctx, dedup.Fingerprint("wire", "g1", "", ""))
	require.NoError(t, err)
	assert.Equal(t, "job-1", story.VideoJobID)
}

func TestPipeline_QuietHoursHoldImmediateForDigest(t *testing.T) {
	h := newHarness(t, oneStyle(), nil)
	h.clock.now = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	h.fetcher.items["wire"] = []news.RawItem{
		{Title: "BREAKING: player traded", GUID: "g1", PublishedAt: ago(h.clock, 10*time.Minute)},
	}
	ctx := context.Background()

	_, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.notifier.Messages())
	assert.Equal(t, 1, h.p.Digest().Pending()[news.RouteHourly])

	n, err := h.p.FlushHourly(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(5 * time.Hour)
	n, err = h.p.FlushHourly(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

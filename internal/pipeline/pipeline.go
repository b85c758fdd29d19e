// Package pipeline runs polling cycles: fetch, dedup, score, route and
// deliver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/sportswire/internal/budget"
	"github.com/deusflow/sportswire/internal/dedup"
	"github.com/deusflow/sportswire/internal/metrics"
	"github.com/deusflow/sportswire/internal/news"
	"github.com/deusflow/sportswire/internal/notify"
	"github.com/deusflow/sportswire/internal/ratelimit"
	"github.com/deusflow/sportswire/internal/retry"
	"github.com/deusflow/sportswire/internal/rewrite"
	"github.com/deusflow/sportswire/internal/video"
)

// State is the phase of the current polling cycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateDeduping   State = "deduping"
	StateScoring    State = "scoring"
	StateRouting    State = "routing"
	StateDelivering State = "delivering"
)

type Fetcher interface {
	Fetch(ctx context.Context, src news.Source) ([]news.RawItem, error)
}

type Seen interface {
	IsNew(ctx context.Context, fp string) (bool, error)
}

type StoryLog interface {
	Append(ctx context.Context, story news.Story) error
	Update(ctx context.Context, id string, fn func(*news.Story)) error
	Get(ctx context.Context, id string) (news.Story, error)
}

type Executor interface {
	Execute(ctx context.Context, op retry.Operation) retry.Result
}

type Gate interface {
	IsPaused() bool
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, kind budget.UsageKind, amount float64) ([]budget.Alert, error)
}

type VideoSubmitter interface {
	Submit(ctx context.Context, job video.Job) (string, error)
}

// Config tunes a pipeline. Zero values fall back to DefaultConfig.
type Config struct {
	Routing        Router
	MaxPerCycle    int
	Concurrency    int
	StoryInterval  time.Duration
	Styles         []rewrite.Style
	Language       string
	VideoThreshold float64
	DigestLimit    int
}

func DefaultConfig() Config {
	return Config{
		Routing:        DefaultRouter(),
		MaxPerCycle:    10,
		Concurrency:    3,
		StoryInterval:  500 * time.Millisecond,
		Styles:         rewrite.DefaultStyles,
		Language:       "English",
		VideoThreshold: 8.5,
		DigestLimit:    20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Routing == (Router{}) {
		c.Routing = d.Routing
	}
	if c.MaxPerCycle <= 0 {
		c.MaxPerCycle = d.MaxPerCycle
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if len(c.Styles) == 0 {
		c.Styles = d.Styles
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.VideoThreshold <= 0 {
		c.VideoThreshold = d.VideoThreshold
	}
	if c.DigestLimit <= 0 {
		c.DigestLimit = d.DigestLimit
	}
	return c
}

// Deps are the collaborators of a pipeline. Fetcher, Seen, Stories,
// Executor and Notifier are required.
type Deps struct {
	Sources  []news.Source
	Fetcher  Fetcher
	Seen     Seen
	Scorer   *news.Scorer
	Stories  StoryLog
	Executor Executor
	// Rewriter may be nil; stories then get fallback versions.
	Rewriter rewrite.Rewriter
	Notifier notify.Notifier
	Video    VideoSubmitter
	Gate     Gate
	Usage    UsageRecorder
	Now      func() time.Time
	Logger   *slog.Logger
}

// Report summarizes one cycle.
type Report struct {
	Skipped       bool          `json:"skipped"`
	Fetched       int           `json:"fetched"`
	FailedSources int           `json:"failed_sources"`
	Duplicates    int           `json:"duplicates"`
	New           int           `json:"new"`
	Discarded     int           `json:"discarded"`
	Processed     int           `json:"processed"`
	Carried       int           `json:"carried"`
	Duration      time.Duration `json:"duration"`
}

// Pipeline owns the per-cycle state. One instance serves the whole process.
type Pipeline struct {
	cfg      Config
	deps     Deps
	styles   []string
	throttle *ratelimit.Throttle
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	state   atomic.Value

	inboxMu sync.Mutex
	inbox   []sourcedItem

	// carry holds scored stories that did not fit the last cycle's cap.
	carryMu sync.Mutex
	carry   []news.Story

	digest *Digest
}

type sourcedItem struct {
	source news.Source
	item   news.RawItem
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Seen == nil || deps.Stories == nil || deps.Executor == nil || deps.Notifier == nil {
		return nil, errors.New("pipeline: fetcher, dedup store, story log, executor and notifier are required")
	}
	cfg = cfg.withDefaults()
	if deps.Scorer == nil {
		deps.Scorer = news.NewScorer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	styles := make([]string, len(cfg.Styles))
	for i, s := range cfg.Styles {
		styles[i] = string(s)
	}

	p := &Pipeline{
		cfg:      cfg,
		deps:     deps,
		styles:   styles,
		throttle: ratelimit.NewThrottle(cfg.StoryInterval),
		logger:   deps.Logger,
		now:      deps.Now,
		digest:   newDigest(),
	}
	p.state.Store(StateIdle)
	return p, nil
}

// State reports the phase of the running cycle, or idle.
func (p *Pipeline) State() State {
	return p.state.Load().(State)
}

func (p *Pipeline) setState(s State) {
	p.state.Store(s)
}

// Carried reports how many stories wait for a later cycle.
func (p *Pipeline) Carried() int {
	p.carryMu.Lock()
	defer p.carryMu.Unlock()
	return len(p.carry)
}

func (p *Pipeline) paused() bool {
	return p.deps.Gate != nil && p.deps.Gate.IsPaused()
}

// RunCycle performs one polling cycle. A call made while another cycle is
// running returns immediately with Skipped set.
func (p *Pipeline) RunCycle(ctx context.Context) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("polling cycle already running, skipping")
		metrics.Global.CycleSkipped()
		return Report{Skipped: true}, nil
	}
	defer func() {
		p.setState(StateIdle)
		p.running.Store(false)
	}()

	start := p.now()
	var report Report

	p.setState(StateFetching)
	report.FailedSources = p.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	items := p.drainInbox()
	report.Fetched = len(items)
	metrics.Global.AddFetched(len(items))

	p.setState(StateDeduping)
	fresh := p.dedupe(ctx, items, &report)

	p.setState(StateScoring)
	for i := range fresh {
		p.deps.Scorer.Annotate(&fresh[i])
	}

	p.setState(StateRouting)
	batch := p.plan(fresh, &report)

	p.setState(StateDelivering)
	if err := p.deliverBatch(ctx, batch); err != nil {
		return report, err
	}
	report.Processed = len(batch)

	report.Duration = p.now().Sub(start)
	metrics.Global.CycleCompleted(report.Duration)
	p.logger.Info("polling cycle completed",
		"fetched", report.Fetched,
		"new", report.New,
		"duplicates", report.Duplicates,
		"discarded", report.Discarded,
		"processed", report.Processed,
		"carried", report.Carried,
		"failed_sources", report.FailedSources,
		"duration", report.Duration)
	return report, nil
}

// fetchAll pulls every source concurrently through the executor. Items of
// successful fetches land in the inbox via the dispatcher.
func (p *Pipeline) fetchAll(ctx context.Context) int {
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, src := range p.deps.Sources {
		g.Go(func() error {
			res := p.deps.Executor.Execute(gctx, retry.FetchOp{Source: src})
			if !res.Succeeded() {
				failed.Add(1)
				p.logger.Warn("source fetch failed", "source", src.Name, "status", res.Status, "error", res.Err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func (p *Pipeline) addToInbox(src news.Source, items []news.RawItem) {
	p.inboxMu.Lock()
	defer p.inboxMu.Unlock()
	for _, it := range items {
		p.inbox = append(p.inbox, sourcedItem{source: src, item: it})
	}
}

func (p *Pipeline) drainInbox() []sourcedItem {
	p.inboxMu.Lock()
	defer p.inboxMu.Unlock()
	out := p.inbox
	p.inbox = nil
	return out
}

// dedupe marks every item seen, in order, and returns the new ones as
// stories. An item whose check fails is left unmarked and dropped from this
// cycle; the next fetch offers it again.
func (p *Pipeline) dedupe(ctx context.Context, items []sourcedItem, report *Report) []news.Story {
	now := p.now()
	var fresh []news.Story
	for _, si := range items {
		fp := dedup.Fingerprint(si.source.Name, si.item.GUID, si.item.Title, si.item.Link)
		isNew, err := p.deps.Seen.IsNew(ctx, fp)
		if err != nil {
			p.logger.Error("dedup check failed", "source", si.source.Name, "error", err)
			continue
		}
		if !isNew {
			report.Duplicates++
			metrics.Global.IncrementDuplicatesFiltered()
			continue
		}
		fresh = append(fresh, news.NewStory(si.source, si.item, fp, now))
	}
	report.New = len(fresh)
	return fresh
}

// plan routes carried and fresh stories, drops discards and returns at most
// MaxPerCycle of the rest. The remainder is carried to the next cycle.
func (p *Pipeline) plan(fresh []news.Story, report *Report) []news.Story {
	now := p.now()

	p.carryMu.Lock()
	pool := append(p.carry, fresh...)
	p.carry = nil
	p.carryMu.Unlock()

	kept := pool[:0]
	for _, s := range pool {
		s.Route = p.cfg.Routing.Route(s.UrgencyScore, now)
		if s.Route == news.RouteDiscard {
			report.Discarded++
			metrics.Global.IncrementRouted(string(news.RouteDiscard))
			p.logger.Debug("story discarded", "title", s.Title, "score", s.UrgencyScore)
			continue
		}
		kept = append(kept, s)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].UrgencyScore != kept[j].UrgencyScore {
			return kept[i].UrgencyScore > kept[j].UrgencyScore
		}
		return kept[i].PublishedAt.After(kept[j].PublishedAt)
	})

	if len(kept) > p.cfg.MaxPerCycle {
		rest := make([]news.Story, len(kept)-p.cfg.MaxPerCycle)
		copy(rest, kept[p.cfg.MaxPerCycle:])
		kept = kept[:p.cfg.MaxPerCycle]

		p.carryMu.Lock()
		p.carry = rest
		p.carryMu.Unlock()
		report.Carried = len(rest)
	}
	return kept
}

func (p *Pipeline) deliverBatch(ctx context.Context, batch []news.Story) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, story := range batch {
		if i > 0 {
			if err := p.throttle.Wait(ctx); err != nil {
				_ = g.Wait()
				return err
			}
		}
		g.Go(func() error {
			p.processStory(gctx, story)
			return nil
		})
	}
	return g.Wait()
}

// processStory stores a routed story and starts its rewrite. Failures stay
// with the story; they never abort the cycle.
func (p *Pipeline) processStory(ctx context.Context, story news.Story) {
	processed := p.now()
	story.ProcessedAt = &processed
	metrics.Global.IncrementRouted(string(story.Route))

	if err := p.deps.Stories.Append(ctx, story); err != nil {
		p.logger.Error("failed to store story", "id", story.ID, "error", err)
	}

	if p.paused() {
		p.logger.Info("workflow paused, story queued for digest", "id", story.ID, "route", story.Route)
		p.digest.Add(digestRoute(story.Route), story)
		return
	}

	op := retry.RewriteOp{
		StoryID:  story.ID,
		Title:    story.Title,
		Text:     storyText(story),
		Styles:   p.styles,
		Language: p.rewriteLanguage(story),
	}
	res := p.deps.Executor.Execute(ctx, op)
	switch {
	case res.Succeeded():
		// the dispatcher delivered it
	case res.Scheduled():
		p.logger.Info("rewrite scheduled for retry", "id", story.ID, "task", res.TaskID)
	default:
		// the dispatcher attached fallback versions and delivered it
		p.logger.Warn("rewrite failed permanently", "id", story.ID, "error", res.Err)
	}
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
}

// rewriteLanguage names the language a story is rewritten in: its feed's
// language when one is set, the configured language otherwise.
func (p *Pipeline) rewriteLanguage(story news.Story) string {
	code := strings.ToLower(strings.TrimSpace(story.Language))
	if code == "" {
		return p.cfg.Language
	}
	if name, ok := languageNames[code]; ok {
		return name
	}
	return story.Language
}

func (p *Pipeline) applyFallback(ctx context.Context, op retry.RewriteOp) {
	styles := make([]rewrite.Style, len(op.Styles))
	for i, s := range op.Styles {
		styles[i] = rewrite.Style(s)
	}
	versions := rewrite.Fallback(op.Title, op.Text, styles)
	if err := p.deps.Stories.Update(ctx, op.StoryID, func(s *news.Story) {
		s.AttachRewrites(versions)
	}); err != nil {
		p.logger.Error("failed to attach fallback rewrites", "id", op.StoryID, "error", err)
	}
	p.deliver(ctx, op.StoryID)
}

// deliver sends a rewritten story down its route.
func (p *Pipeline) deliver(ctx context.Context, id string) {
	story, err := p.deps.Stories.Get(ctx, id)
	if err != nil {
		p.logger.Error("failed to load story for delivery", "id", id, "error", err)
		return
	}

	if story.Route != news.RouteImmediate {
		p.digest.Add(story.Route, story)
		return
	}
	if p.paused() {
		p.digest.Add(news.RouteHourly, story)
		return
	}

	res := p.deps.Executor.Execute(ctx, retry.NotifyOp{
		Channel:  string(news.RouteImmediate),
		StoryIDs: []string{story.ID},
		Subject:  story.Title,
		Body:     bestVersion(story),
		URL:      story.Link,
	})
	if !res.Succeeded() && !res.Scheduled() {
		p.logger.Error("immediate notification failed", "id", story.ID, "error", res.Err)
	}

	if p.deps.Video != nil && story.UrgencyScore >= p.cfg.VideoThreshold {
		res := p.deps.Executor.Execute(ctx, retry.UploadOp{
			StoryID: story.ID,
			Title:   story.Title,
			Script:  bestVersion(story),
		})
		if !res.Succeeded() && !res.Scheduled() {
			p.logger.Error("video job failed", "id", story.ID, "error", res.Err)
		}
	}
}

func digestRoute(r news.Route) news.Route {
	if r == news.RouteImmediate {
		return news.RouteHourly
	}
	return r
}

func storyText(s news.Story) string {
	if s.Description == "" {
		return s.Title
	}
	return fmt.Sprintf("%s. %s", s.Title, s.Description)
}

// bestVersion prefers the breaking rewrite, then any rewrite, then the
// cleaned description.
func bestVersion(s news.Story) string {
	if v := s.Rewrites[string(rewrite.StyleBreaking)]; v != "" {
		return v
	}
	keys := make([]string, 0, len(s.Rewrites))
	for k := range s.Rewrites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s.Rewrites[k] != "" {
			return s.Rewrites[k]
		}
	}
	if s.Description != "" {
		return s.Description
	}
	return s.Title
}

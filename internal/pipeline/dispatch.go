package pipeline

import (
	"context"
	"fmt"

	"github.com/deusflow/sportswire/internal/budget"
	"github.com/deusflow/sportswire/internal/metrics"
	"github.com/deusflow/sportswire/internal/news"
	"github.com/deusflow/sportswire/internal/notify"
	"github.com/deusflow/sportswire/internal/retry"
	"github.com/deusflow/sportswire/internal/rewrite"
	"github.com/deusflow/sportswire/internal/video"
)

// Dispatcher performs the external call behind each operation kind. It is
// the retry coordinator's performer.
type Dispatcher struct {
	p *Pipeline
}

// Dispatcher returns the performer to install on the retry coordinator.
func (p *Pipeline) Dispatcher() *Dispatcher {
	return &Dispatcher{p: p}
}

var (
	_ retry.Performer      = (*Dispatcher)(nil)
	_ retry.FailureHandler = (*Dispatcher)(nil)
)

func (d *Dispatcher) Perform(ctx context.Context, op retry.Operation) error {
	switch op := op.(type) {
	case retry.FetchOp:
		return d.fetch(ctx, op)
	case retry.RewriteOp:
		return d.rewrite(ctx, op)
	case retry.NotifyOp:
		return d.notify(ctx, op)
	case retry.UploadOp:
		return d.upload(ctx, op)
	default:
		return retry.Permanent(fmt.Errorf("unsupported operation %T", op))
	}
}

// PermanentFailure settles a rewrite that will not be retried: the story
// gets fallback versions and is delivered anyway. Other kinds are only
// escalated.
func (d *Dispatcher) PermanentFailure(ctx context.Context, op retry.Operation, err error) {
	if rw, ok := op.(retry.RewriteOp); ok {
		d.p.logger.Warn("rewrite abandoned, using fallback", "id", rw.StoryID, "error", err)
		d.p.applyFallback(ctx, rw)
	}
}

func (d *Dispatcher) fetch(ctx context.Context, op retry.FetchOp) error {
	items, err := d.p.deps.Fetcher.Fetch(ctx, op.Source)
	if err != nil {
		return err
	}
	d.p.addToInbox(op.Source, items)
	d.p.logger.Debug("source fetched", "source", op.Source.Name, "items", len(items))
	return nil
}

// rewrite produces every style, attaches them and hands the story on for
// delivery. A retry of a previously scheduled rewrite delivers the same way.
func (d *Dispatcher) rewrite(ctx context.Context, op retry.RewriteOp) error {
	if d.p.paused() {
		return fmt.Errorf("rewrite of %s refused: %w", op.StoryID, retry.ErrBudgetExceeded)
	}

	var versions map[string]string
	if d.p.deps.Rewriter == nil {
		styles := make([]rewrite.Style, len(op.Styles))
		for i, s := range op.Styles {
			styles[i] = rewrite.Style(s)
		}
		versions = rewrite.Fallback(op.Title, op.Text, styles)
	} else {
		versions = make(map[string]string, len(op.Styles))
		for _, s := range op.Styles {
			style := rewrite.Style(s)
			res, err := d.p.deps.Rewriter.Rewrite(ctx, rewrite.Request{
				Title:        op.Title,
				Text:         op.Text,
				Style:        style,
				TargetLength: rewrite.DefaultTargetLength(style),
				Language:     op.Language,
			})
			if err != nil {
				metrics.Global.RecordRewrite(false)
				return err
			}
			if !res.Cached {
				d.recordUsage(ctx, budget.UsageAPIRequests, 1)
				d.recordUsage(ctx, budget.UsageTokens, float64(res.Tokens))
			}
			versions[s] = res.Text
		}
	}
	metrics.Global.RecordRewrite(true)

	if err := d.p.deps.Stories.Update(ctx, op.StoryID, func(s *news.Story) {
		s.AttachRewrites(versions)
	}); err != nil {
		return fmt.Errorf("failed to attach rewrites to %s: %w", op.StoryID, err)
	}

	d.p.deliver(ctx, op.StoryID)
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, op retry.NotifyOp) error {
	level := notify.LevelInfo
	if op.Channel == string(news.RouteImmediate) {
		level = notify.LevelWarning
	}
	if err := d.p.deps.Notifier.Send(ctx, notify.Message{
		Title: op.Subject,
		Body:  op.Body,
		URL:   op.URL,
		Level: level,
	}); err != nil {
		return err
	}
	metrics.Global.RecordNotification(op.Channel)
	return nil
}

func (d *Dispatcher) upload(ctx context.Context, op retry.UploadOp) error {
	if d.p.deps.Video == nil {
		return retry.Permanent(fmt.Errorf("no video endpoint configured"))
	}
	if d.p.paused() {
		return fmt.Errorf("video job for %s refused: %w", op.StoryID, retry.ErrBudgetExceeded)
	}

	jobID, err := d.p.deps.Video.Submit(ctx, video.Job{
		StoryID: op.StoryID,
		Title:   op.Title,
		Script:  op.Script,
	})
	if err != nil {
		return err
	}
	d.recordUsage(ctx, budget.UsageVideos, 1)

	if err := d.p.deps.Stories.Update(ctx, op.StoryID, func(s *news.Story) {
		s.VideoJobID = jobID
	}); err != nil {
		d.p.logger.Warn("failed to record video job", "id", op.StoryID, "job", jobID, "error", err)
	}
	d.p.logger.Info("video job submitted", "id", op.StoryID, "job", jobID)
	return nil
}

// recordUsage feeds the budget. A persistence failure is logged; the
// in-memory ledger still governs.
func (d *Dispatcher) recordUsage(ctx context.Context, kind budget.UsageKind, amount float64) {
	if d.p.deps.Usage == nil || amount <= 0 {
		return
	}
	if _, err := d.p.deps.Usage.RecordUsage(ctx, kind, amount); err != nil {
		d.p.logger.Warn("failed to persist budget usage", "kind", kind, "error", err)
	}
}

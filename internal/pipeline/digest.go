package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/deusflow/sportswire/internal/news"
	"github.com/deusflow/sportswire/internal/retry"
)

// Digest buffers stories per batch route until the next flush.
type Digest struct {
	mu      sync.Mutex
	pending map[news.Route][]news.Story
}

func newDigest() *Digest {
	return &Digest{pending: make(map[news.Route][]news.Story)}
}

// Add queues a story once per route; a later copy replaces the earlier one.
func (d *Digest) Add(route news.Route, s news.Story) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.pending[route]
	for i := range list {
		if list[i].ID == s.ID {
			list[i] = s
			return
		}
	}
	d.pending[route] = append(list, s)
}

func (d *Digest) take(route news.Route) []news.Story {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending[route]
	delete(d.pending, route)
	return out
}

// Pending reports queued stories per route.
func (d *Digest) Pending() map[news.Route]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[news.Route]int, len(d.pending))
	for r, list := range d.pending {
		out[r] = len(list)
	}
	return out
}

// Digest exposes the pipeline's digest buffer.
func (p *Pipeline) Digest() *Digest {
	return p.digest
}

// FlushHourly sends the hourly digest. Nothing is sent during quiet hours
// or while paused; the stories stay queued.
func (p *Pipeline) FlushHourly(ctx context.Context) (int, error) {
	if p.cfg.Routing.InQuietHours(p.now()) {
		p.logger.Debug("quiet hours, hourly digest postponed")
		return 0, nil
	}
	return p.flush(ctx, news.RouteHourly, "Hourly sports digest")
}

// FlushDaily sends the daily digest.
func (p *Pipeline) FlushDaily(ctx context.Context) (int, error) {
	return p.flush(ctx, news.RouteDaily, "Daily sports digest")
}

func (p *Pipeline) flush(ctx context.Context, route news.Route, title string) (int, error) {
	if p.paused() {
		p.logger.Info("workflow paused, digest kept", "route", route)
		return 0, nil
	}

	stories := p.digest.take(route)
	if len(stories) == 0 {
		return 0, nil
	}

	sort.SliceStable(stories, func(i, j int) bool {
		return stories[i].UrgencyScore > stories[j].UrgencyScore
	})
	ids := make([]string, len(stories))
	for i, s := range stories {
		ids[i] = s.ID
	}

	res := p.deps.Executor.Execute(ctx, retry.NotifyOp{
		Channel:  string(route) + "_digest",
		StoryIDs: ids,
		Subject:  fmt.Sprintf("%s (%d)", title, len(stories)),
		Body:     formatDigest(stories, p.cfg.DigestLimit),
	})
	if !res.Succeeded() && !res.Scheduled() {
		return len(stories), fmt.Errorf("%s digest failed: %w", route, res.Err)
	}
	p.logger.Info("digest sent", "route", route, "stories", len(stories), "status", res.Status)
	return len(stories), nil
}

// formatDigest renders up to max stories, grouped by category.
func formatDigest(stories []news.Story, max int) string {
	var b strings.Builder

	groups := make(map[news.Category][]news.Story)
	var order []news.Category
	for i, s := range stories {
		if i >= max {
			break
		}
		if _, ok := groups[s.Category]; !ok {
			order = append(order, s.Category)
		}
		groups[s.Category] = append(groups[s.Category], s)
	}

	n := 1
	for _, cat := range order {
		b.WriteString(fmt.Sprintf("== %s ==\n", strings.ToUpper(string(cat))))
		for _, s := range groups[cat] {
			b.WriteString(formatDigestEntry(s, n))
			n++
		}
		b.WriteString("\n")
	}

	if len(stories) > max {
		b.WriteString(fmt.Sprintf("...and %d more\n", len(stories)-max))
	}
	return strings.TrimSpace(b.String())
}

func formatDigestEntry(s news.Story, number int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d. %s [%.1f]\n", number, s.Title, s.UrgencyScore))

	summary := bestVersion(s)
	if summary != s.Title {
		summary = trimSummary(summary, maxSummaryRunes)
		b.WriteString(summary + "\n")
	}
	if s.Link != "" {
		b.WriteString(s.Link + "\n")
	}
	return b.String()
}

const maxSummaryRunes = 300

// trimSummary cuts s to max runes, backing up to the last full sentence
// when there is one.
func trimSummary(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, "."); i > 0 {
		return cut[:i+1]
	}
	return cut + "..."
}

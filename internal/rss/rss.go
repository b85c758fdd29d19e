package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/sportswire/internal/news"
)

// FeedsConfig is the YAML feed list:
//
//	feeds:
//	  - name: espn
//	    url: https://...
//	    priority: 1
type FeedsConfig struct {
	Feeds []news.Source `yaml:"feeds"`
}

// LoadFeeds reads the feed list from a YAML file. Sources without a
// priority default to 3.
func LoadFeeds(path string) ([]news.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	for i := range cfg.Feeds {
		src := &cfg.Feeds[i]
		if src.URL == "" {
			return nil, fmt.Errorf("feed %d (%s) has no url", i, src.Name)
		}
		if src.Name == "" {
			src.Name = src.URL
		}
		if src.Priority <= 0 {
			src.Priority = 3
		}
	}
	return cfg.Feeds, nil
}

// StatusError reports a non-2xx feed response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed %s returned status %d", e.URL, e.Code)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client *http.Client
}

// NewFetcher builds a fetcher whose requests give up after timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch parses one source into raw items.
func (f *Fetcher) Fetch(ctx context.Context, src news.Source) ([]news.RawItem, error) {
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = "sportswire/1.0"

	feed, err := parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &StatusError{URL: src.URL, Code: httpErr.StatusCode}
		}
		return nil, fmt.Errorf("error parsing RSS %s: %w", src.URL, err)
	}

	items := make([]news.RawItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		desc := it.Description
		if desc == "" {
			desc = it.Content
		}
		published := it.PublishedParsed
		if published == nil {
			published = it.UpdatedParsed
		}
		items = append(items, news.RawItem{
			Title:       it.Title,
			Description: desc,
			Link:        it.Link,
			GUID:        it.GUID,
			PublishedAt: published,
		})
	}
	return items, nil
}

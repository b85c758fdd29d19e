package news

import (
	"time"
)

// Category is the editorial label derived from story text.
type Category string

const (
	CategoryTrade      Category = "Trade"
	CategoryInjury     Category = "Injury"
	CategoryScandal    Category = "Scandal"
	CategoryRecord     Category = "Record"
	CategoryPersonnel  Category = "Personnel"
	CategoryRetirement Category = "Retirement"
	CategoryGameResult Category = "GameResult"
	CategoryGeneral    Category = "General"
)

// Route is the delivery path chosen for a scored story.
type Route string

const (
	RouteImmediate Route = "immediate"
	RouteHourly    Route = "hourly"
	RouteDaily     Route = "daily"
	RouteDiscard   Route = "discard"
)

// Source describes one configured feed.
type Source struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Priority int    `yaml:"priority" json:"priority"`
	Category string `yaml:"category" json:"category"`
	Language string `yaml:"language" json:"language"`
}

// RawItem is a feed entry as parsed, before cleaning and scoring.
type RawItem struct {
	Title       string
	Description string
	Link        string
	GUID        string
	PublishedAt *time.Time
}

// Story is a normalized feed entry moving through the pipeline.
type Story struct {
	ID             string            `json:"id"`
	GUID           string            `json:"guid,omitempty"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Link           string            `json:"link"`
	PublishedAt    time.Time         `json:"published_at"`
	SourceName     string            `json:"source_name"`
	SourcePriority int               `json:"source_priority"`
	SourceCategory string            `json:"source_category,omitempty"`
	Language       string            `json:"language,omitempty"`
	UrgencyScore   float64           `json:"urgency_score"`
	Scored         bool              `json:"scored"`
	Category       Category          `json:"category"`
	Route          Route             `json:"route,omitempty"`
	Rewrites       map[string]string `json:"rewrites,omitempty"`
	VideoJobID     string            `json:"video_job_id,omitempty"`
	FetchedAt      time.Time         `json:"fetched_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}

// NewStory cleans a raw item and stamps it with its source. A missing
// publication time defaults to now.
func NewStory(src Source, item RawItem, id string, now time.Time) Story {
	published := now
	if item.PublishedAt != nil && !item.PublishedAt.IsZero() {
		published = *item.PublishedAt
	}

	return Story{
		ID:             id,
		GUID:           item.GUID,
		Title:          CleanText(item.Title),
		Description:    CleanText(item.Description),
		Link:           item.Link,
		PublishedAt:    published,
		SourceName:     src.Name,
		SourcePriority: src.Priority,
		SourceCategory: src.Category,
		Language:       src.Language,
		FetchedAt:      now,
	}
}

// HasRewrites reports whether any non-empty rewritten version is attached.
func (s Story) HasRewrites() bool {
	for _, v := range s.Rewrites {
		if v != "" {
			return true
		}
	}
	return false
}

// AttachRewrites merges rewritten versions into the story. Score and
// category are never touched here.
func (s *Story) AttachRewrites(versions map[string]string) {
	if len(versions) == 0 {
		return
	}
	if s.Rewrites == nil {
		s.Rewrites = make(map[string]string, len(versions))
	}
	for style, text := range versions {
		s.Rewrites[style] = text
	}
}

// Clone returns a copy that shares no maps with s.
func (s Story) Clone() Story {
	if s.Rewrites != nil {
		rw := make(map[string]string, len(s.Rewrites))
		for k, v := range s.Rewrites {
			rw[k] = v
		}
		s.Rewrites = rw
	}
	if s.ProcessedAt != nil {
		t := *s.ProcessedAt
		s.ProcessedAt = &t
	}
	return s
}

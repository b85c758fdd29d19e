// Package rewrite turns a story into scripted variants through a language
// model.
package rewrite

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Style is a rewrite flavor.
type Style string

const (
	StyleBreaking Style = "breaking"
	StyleAnalysis Style = "analysis"
	StyleRecap    Style = "recap"
	StyleOpinion  Style = "opinion"
	StyleQuick    Style = "quick"
)

// DefaultStyles are produced for every story unless configured otherwise.
var DefaultStyles = []Style{StyleBreaking, StyleAnalysis, StyleQuick}

var styleGuides = map[Style]struct {
	target string
	tone   string
}{
	StyleBreaking: {"45-60 seconds", "urgent, energetic breaking-news delivery that opens with the key fact"},
	StyleAnalysis: {"1-2 minutes", "measured analysis explaining context and implications"},
	StyleRecap:    {"30-45 seconds", "concise recap of what happened and the outcome"},
	StyleOpinion:  {"1-2 minutes", "opinionated commentary with a clear take"},
	StyleQuick:    {"15-30 seconds", "a punchy quick hit for short-form video"},
}

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	st := Style(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := styleGuides[st]; !ok {
		return "", fmt.Errorf("unknown rewrite style %q", s)
	}
	return st, nil
}

// DefaultTargetLength is the spoken length targeted for a style.
func DefaultTargetLength(s Style) string {
	return styleGuides[s].target
}

// Request asks for one variant of a story.
type Request struct {
	Title        string
	Text         string
	Style        Style
	TargetLength string
	Language     string
}

// Result is a produced variant and what it cost.
type Result struct {
	Text     string
	Tokens   int
	Provider string
	Cached   bool
}

// Rewriter produces one variant per call.
type Rewriter interface {
	Rewrite(ctx context.Context, req Request) (Result, error)
}

// APIError carries the provider's HTTP status so failures can be classified.
type APIError struct {
	Provider string
	Status   int
	Err      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.Status, e.Err)
}

func (e *APIError) Unwrap() error   { return e.Err }
func (e *APIError) HTTPStatus() int { return e.Status }

const maxInputRunes = 6000

func buildPrompt(req Request) (system, user string) {
	guide := styleGuides[req.Style]
	target := req.TargetLength
	if target == "" {
		target = guide.target
	}
	lang := req.Language
	if lang == "" {
		lang = "English"
	}

	system = fmt.Sprintf(
		"You are a sports news writer producing video scripts. Write in %s. Style: %s. Target spoken length: %s. Return only the script.",
		lang, guide.tone, target,
	)

	text := strings.Join(strings.Fields(req.Text), " ")
	if utf8.RuneCountInString(text) > maxInputRunes {
		text = string([]rune(text)[:maxInputRunes]) + " [TRUNCATED]"
	}
	user = fmt.Sprintf("Headline: %s\n\nStory: %s", req.Title, text)
	return system, user
}

// Fallback produces canned variants from the story text when no model is
// available.
func Fallback(title, text string, styles []Style) map[string]string {
	summary := firstSentence(text)
	out := make(map[string]string, len(styles))
	for _, s := range styles {
		switch s {
		case StyleBreaking:
			out[string(s)] = fmt.Sprintf("BREAKING: %s. %s Stay tuned for more updates.", title, summary)
		case StyleAnalysis:
			out[string(s)] = fmt.Sprintf("Let's break down %s. %s This could have major implications going forward.", title, summary)
		case StyleQuick:
			out[string(s)] = fmt.Sprintf("Quick update: %s. %s", title, summary)
		default:
			out[string(s)] = fmt.Sprintf("%s. %s", title, summary)
		}
	}
	return out
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, ". "); i > 0 {
		return text[:i+1]
	}
	return text
}

package news

import (
	"strings"
	"time"
)

// KeywordGroup adds Weight once when any of its keywords appears.
type KeywordGroup struct {
	Keywords []string
	Weight   float64
}

// CategoryRule assigns Category when any keyword appears. Rules are
// evaluated in order and the first match wins.
type CategoryRule struct {
	Keywords []string
	Category Category
}

const (
	MinScore = 0.0
	MaxScore = 10.0

	highProfileBoost = 1.5
	freshBoost       = 1.0
	stalePenalty     = -2.0
	priorityBase     = 3
)

var DefaultKeywordGroups = []KeywordGroup{
	{Keywords: []string{"breaking", "urgent"}, Weight: 3},
	{Keywords: []string{"trade", "traded"}, Weight: 2.5},
	{Keywords: []string{"injured", "injury"}, Weight: 2.5},
	{Keywords: []string{"scandal", "arrest"}, Weight: 3},
	{Keywords: []string{"record", "milestone"}, Weight: 2},
	{Keywords: []string{"fired", "hired"}, Weight: 2},
	{Keywords: []string{"retire", "retirement"}, Weight: 2.5},
}

var DefaultHighProfile = []string{
	"mahomes", "brady", "lebron", "curry",
	"chiefs", "patriots", "lakers", "cowboys", "yankees", "dodgers",
}

// Order matters: "injur" also catches injured/injury.
var DefaultCategoryRules = []CategoryRule{
	{Keywords: []string{"trade", "traded"}, Category: CategoryTrade},
	{Keywords: []string{"injur"}, Category: CategoryInjury},
	{Keywords: []string{"scandal", "arrest"}, Category: CategoryScandal},
	{Keywords: []string{"record", "milestone"}, Category: CategoryRecord},
	{Keywords: []string{"fired", "hired"}, Category: CategoryPersonnel},
	{Keywords: []string{"retire"}, Category: CategoryRetirement},
	{Keywords: []string{"game", "score"}, Category: CategoryGameResult},
}

// Scorer computes urgency scores and categories from fixed tables.
type Scorer struct {
	Groups      []KeywordGroup
	HighProfile []string
	Rules       []CategoryRule
	Now         func() time.Time
}

// NewScorer returns a scorer using the default tables and wall clock.
func NewScorer() *Scorer {
	return &Scorer{
		Groups:      DefaultKeywordGroups,
		HighProfile: DefaultHighProfile,
		Rules:       DefaultCategoryRules,
		Now:         time.Now,
	}
}

func (s *Scorer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Score returns the clamped urgency score and category for a story.
func (s *Scorer) Score(story Story) (float64, Category) {
	text := scoringText(story)

	score := 0.0
	for _, g := range s.Groups {
		if containsAny(text, g.Keywords) {
			score += g.Weight
		}
	}

	for _, entity := range s.HighProfile {
		if strings.Contains(text, entity) {
			score += highProfileBoost
			break
		}
	}

	published := story.PublishedAt
	if published.IsZero() {
		published = s.now()
	}
	age := s.now().Sub(published)
	switch {
	case age < time.Hour:
		score += freshBoost
	case age > 24*time.Hour:
		score += stalePenalty
	}

	score += float64(priorityBase - story.SourcePriority)

	return clamp(score), s.categorize(text)
}

// Categorize derives the category of a story without scoring it.
func (s *Scorer) Categorize(story Story) Category {
	return s.categorize(scoringText(story))
}

func (s *Scorer) categorize(text string) Category {
	for _, rule := range s.Rules {
		if containsAny(text, rule.Keywords) {
			return rule.Category
		}
	}
	return CategoryGeneral
}

// Annotate scores the story in place unless it was already scored.
func (s *Scorer) Annotate(story *Story) {
	if story.Scored {
		return
	}
	story.UrgencyScore, story.Category = s.Score(*story)
	story.Scored = true
}

func scoringText(story Story) string {
	return strings.ToLower(story.Title + " " + story.Description)
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedScorer(now time.Time) *Scorer {
	s := NewScorer()
	s.Now = func() time.Time { return now }
	return s
}

func TestScorer_BreakingTradeFromTrustedSource(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s := fixedScorer(now)

	story := Story{
		Title:          "BREAKING: player traded",
		PublishedAt:    now.Add(-10 * time.Minute),
		SourcePriority: 1,
	}

	score, cat := s.Score(story)
	assert.InDelta(t, 8.5, score, 0.0001)
	assert.Equal(t, CategoryTrade, cat)
}

func TestScorer_Clamp(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s := fixedScorer(now)

	t.Run("floor", func(t *testing.T) {
		score, _ := s.Score(Story{
			Title:          "quiet day",
			PublishedAt:    now.Add(-10000 * time.Hour),
			SourcePriority: 100,
		})
		assert.Equal(t, 0.0, score)
	})

	t.Run("ceiling", func(t *testing.T) {
		score, _ := s.Score(Story{
			Title:          "Breaking urgent: Mahomes traded after arrest, record injury, fired, retirement",
			PublishedAt:    now,
			SourcePriority: 1,
		})
		assert.Equal(t, 10.0, score)
	})
}

func TestScorer_HighProfileCountedOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s := fixedScorer(now)

	base := Story{PublishedAt: now.Add(-2 * time.Hour), SourcePriority: 3}

	one := base
	one.Title = "Lakers sign guard"
	many := base
	many.Title = "Lakers, Chiefs, Yankees and LeBron"

	s1, _ := s.Score(one)
	s2, _ := s.Score(many)
	assert.InDelta(t, 1.5, s1, 0.0001)
	assert.Equal(t, s1, s2)
}

func TestScorer_TimeDecay(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s := fixedScorer(now)

	// record(+2) keeps the stale case at the floor rather than below it
	cases := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"fresh", 30 * time.Minute, 3},
		{"middle", 5 * time.Hour, 2},
		{"stale", 30 * time.Hour, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, _ := s.Score(Story{
				Title:          "team record",
				PublishedAt:    now.Add(-tc.age),
				SourcePriority: 3,
			})
			assert.InDelta(t, tc.want, score, 0.0001)
		})
	}
}

func TestScorer_MissingPublishedAtIsFresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s := fixedScorer(now)

	score, _ := s.Score(Story{Title: "nothing", SourcePriority: 3})
	assert.InDelta(t, 1.0, score, 0.0001)
}

func TestScorer_CategoryPrecedence(t *testing.T) {
	s := NewScorer()

	cases := map[string]Category{
		"star traded after injury":   CategoryTrade,
		"injured during record game": CategoryInjury,
		"arrest ends record season":  CategoryScandal,
		"milestone night":            CategoryRecord,
		"coach fired":                CategoryPersonnel,
		"veteran to retire":          CategoryRetirement,
		"final score from the game":  CategoryGameResult,
		"team announces new jerseys": CategoryGeneral,
	}
	for text, want := range cases {
		assert.Equal(t, want, s.Categorize(Story{Title: text}), text)
	}
}

func TestScorer_AnnotateIsStable(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s := fixedScorer(now)

	story := Story{Title: "Injury update", PublishedAt: now, SourcePriority: 2}
	s.Annotate(&story)
	require.True(t, story.Scored)
	first := story.UrgencyScore

	s.Now = func() time.Time { return now.Add(48 * time.Hour) }
	s.Annotate(&story)
	assert.Equal(t, first, story.UrgencyScore)
	assert.Equal(t, CategoryInjury, story.Category)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Chiefs win & advance", CleanText("<![CDATA[<p>Chiefs <b>win</b> &amp; advance</p>]]>"))
	assert.Equal(t, "plain text", CleanText("  plain\n\ttext "))
	assert.Equal(t, "", CleanText(""))
	assert.Equal(t, "Use &lt;b&gt; for bold", CleanText("Use &amp;lt;b&amp;gt; for bold"), "entities decode once")
	assert.Equal(t, "Q&A with the coach", CleanText("<p>Q&amp;A with the coach</p><script>track()</script>"))
}

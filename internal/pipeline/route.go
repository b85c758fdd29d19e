package pipeline

import (
	"time"

	"github.com/deusflow/sportswire/internal/news"
)

// Router maps an urgency score to a delivery route.
type Router struct {
	Immediate float64
	Hourly    float64
	Daily     float64

	// QuietStart and QuietEnd are hours in Location. The window wraps
	// midnight when QuietStart > QuietEnd; equal values disable it.
	QuietStart int
	QuietEnd   int
	// Override keeps a story on the immediate path during quiet hours.
	Override float64
	Location *time.Location
}

func DefaultRouter() Router {
	return Router{
		Immediate:  8.0,
		Hourly:     6.0,
		Daily:      4.0,
		QuietStart: 23,
		QuietEnd:   6,
		Override:   9.0,
		Location:   time.UTC,
	}
}

// Route decides where a story with the given score goes at time now.
func (r Router) Route(score float64, now time.Time) news.Route {
	switch {
	case score >= r.Immediate:
		if r.InQuietHours(now) && score < r.Override {
			return news.RouteHourly
		}
		return news.RouteImmediate
	case score >= r.Hourly:
		return news.RouteHourly
	case score >= r.Daily:
		return news.RouteDaily
	default:
		return news.RouteDiscard
	}
}

// InQuietHours reports whether now falls inside the quiet window.
func (r Router) InQuietHours(now time.Time) bool {
	if r.QuietStart == r.QuietEnd {
		return false
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	h := now.In(loc).Hour()
	if r.QuietStart < r.QuietEnd {
		return h >= r.QuietStart && h < r.QuietEnd
	}
	return h >= r.QuietStart || h < r.QuietEnd
}

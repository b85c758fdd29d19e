package metrics

import (
	"sync"
	"time"
)

// Metrics is the in-process run summary served by the health endpoint.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	CyclesCompleted    int64
	CyclesSkipped      int64
	StoriesFetched     int64
	StoriesProcessed   int64
	DuplicatesFiltered int64
	StoriesDiscarded   int64
	RewritesSucceeded  int64
	RewritesFailed     int64
	NotificationsSent  int64

	// Timings
	LastCycleDuration    time.Duration
	AverageCycleDuration time.Duration
	TotalCycleDuration   time.Duration

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

func (m *Metrics) AddFetched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoriesFetched += int64(n)
	StoriesFetchedTotal.Add(float64(n))
}

func (m *Metrics) IncrementDuplicatesFiltered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DuplicatesFiltered++
	DuplicatesTotal.Inc()
}

func (m *Metrics) IncrementRouted(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if route == "discard" {
		m.StoriesDiscarded++
	} else {
		m.StoriesProcessed++
	}
	StoriesRoutedTotal.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordRewrite(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "success"
	if ok {
		m.RewritesSucceeded++
	} else {
		m.RewritesFailed++
		status = "failure"
	}
	RewritesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordNotification(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NotificationsSent++
	NotificationsTotal.WithLabelValues(channel).Inc()
}

func (m *Metrics) CycleSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesSkipped++
	CyclesTotal.WithLabelValues("skipped").Inc()
}

// CycleCompleted records a finished cycle and marks the service healthy.
func (m *Metrics) CycleCompleted(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CyclesCompleted++
	m.LastCycleDuration = duration
	m.TotalCycleDuration += duration
	m.AverageCycleDuration = m.TotalCycleDuration / time.Duration(m.CyclesCompleted)
	m.LastRunTime = time.Now()
	m.IsHealthy = true

	CyclesTotal.WithLabelValues("completed").Inc()
	CycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]any{
		"cycles_completed":       m.CyclesCompleted,
		"cycles_skipped":         m.CyclesSkipped,
		"stories_fetched":        m.StoriesFetched,
		"stories_processed":      m.StoriesProcessed,
		"stories_discarded":      m.StoriesDiscarded,
		"duplicates_filtered":    m.DuplicatesFiltered,
		"rewrites_succeeded":     m.RewritesSucceeded,
		"rewrites_failed":        m.RewritesFailed,
		"notifications_sent":     m.NotificationsSent,
		"last_cycle_duration_ms": m.LastCycleDuration.Milliseconds(),
		"avg_cycle_duration_ms":  m.AverageCycleDuration.Milliseconds(),
		"last_run_time":          m.LastRunTime.Format(time.RFC3339),
		"last_error_time":        m.LastErrorTime.Format(time.RFC3339),
		"last_error":             m.LastError,
		"is_healthy":             m.IsHealthy,
	}
}

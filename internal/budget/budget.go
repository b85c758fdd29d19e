// Package budget accumulates API spend and pauses the workflow when a
// period limit is reached.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deusflow/sportswire/internal/metrics"
)

// UsageKind is a billable unit of external work.
type UsageKind string

const (
	UsageAPIRequests UsageKind = "api_requests"
	UsageTokens      UsageKind = "tokens"
	UsageVideos      UsageKind = "videos"
	UsageUploads     UsageKind = "uploads"
)

type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// WarningRatio is the share of the daily limit that raises a warning.
const WarningRatio = 0.8

type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthWarning  Health = "WARNING"
	HealthCritical Health = "CRITICAL"
)

type Limits struct {
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
}

func DefaultLimits() Limits {
	return Limits{Daily: 100, Weekly: 500, Monthly: 2000}
}

// UnitCosts prices each usage kind in dollars.
type UnitCosts map[UsageKind]float64

func DefaultUnitCosts() UnitCosts {
	return UnitCosts{
		UsageAPIRequests: 0.001,
		UsageTokens:      0.00002,
		UsageVideos:      1.50,
		UsageUploads:     0.00,
	}
}

// Ledger is the persisted spend state. DailyWarned remembers that the 80%
// warning already fired in the current day.
type Ledger struct {
	Daily       float64               `json:"daily"`
	Weekly      float64               `json:"weekly"`
	Monthly     float64               `json:"monthly"`
	Usage       map[UsageKind]float64 `json:"usage"`
	LastUpdated time.Time             `json:"last_updated"`

	DailyWarned bool `json:"daily_warned"`
}

// Alert is raised when spend crosses a threshold.
type Alert struct {
	Period     Period  `json:"period"`
	Level      Level   `json:"level"`
	Spent      float64 `json:"spent"`
	Limit      float64 `json:"limit"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
}

// Alerter delivers budget alerts.
type Alerter interface {
	BudgetAlert(ctx context.Context, a Alert) error
}

// Pauser halts costly work.
type Pauser interface {
	Pause(ctx context.Context, reason string) (bool, error)
}

// Store persists the ledger.
type Store interface {
	Load(v any) (bool, error)
	Save(v any) error
}

// Monitor tracks spend against the configured limits.
type Monitor struct {
	limits  Limits
	costs   UnitCosts
	store   Store
	alerter Alerter
	pauser  Pauser
	now     func() time.Time
	logger  *slog.Logger

	mu     sync.Mutex
	ledger Ledger
}

type Options struct {
	Store   Store
	Alerter Alerter
	Pauser  Pauser
	Now     func() time.Time
	Logger  *slog.Logger
}

func NewMonitor(limits Limits, costs UnitCosts, opts Options) *Monitor {
	if costs == nil {
		costs = DefaultUnitCosts()
	}
	m := &Monitor{
		limits:  limits,
		costs:   costs,
		store:   opts.Store,
		alerter: opts.Alerter,
		pauser:  opts.Pauser,
		now:     opts.Now,
		logger:  opts.Logger,
		ledger:  Ledger{Usage: make(map[UsageKind]float64)},
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Load restores the persisted ledger.
func (m *Monitor) Load() error {
	if m.store == nil {
		return nil
	}
	var l Ledger
	found, err := m.store.Load(&l)
	if err != nil {
		return fmt.Errorf("failed to load budget ledger: %w", err)
	}
	if !found {
		return nil
	}
	if l.Usage == nil {
		l.Usage = make(map[UsageKind]float64)
	}

	m.mu.Lock()
	m.ledger = l
	m.publishLocked()
	m.mu.Unlock()
	return nil
}

// RecordUsage prices amount units of kind and adds the cost.
func (m *Monitor) RecordUsage(ctx context.Context, kind UsageKind, amount float64) ([]Alert, error) {
	unit, ok := m.costs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown usage kind %q", kind)
	}
	if amount < 0 {
		return nil, fmt.Errorf("negative usage amount %v", amount)
	}

	m.mu.Lock()
	m.ledger.Usage[kind] += amount
	m.mu.Unlock()

	return m.AddCost(ctx, amount*unit, string(kind))
}

// AddCost adds amount to every period, persists, and runs the threshold
// checks before returning. A persistence error is returned but the
// in-memory totals still count.
func (m *Monitor) AddCost(ctx context.Context, amount float64, source string) ([]Alert, error) {
	if amount < 0 {
		return nil, fmt.Errorf("negative cost %v", amount)
	}

	m.mu.Lock()
	m.ledger.Daily += amount
	m.ledger.Weekly += amount
	m.ledger.Monthly += amount
	m.ledger.LastUpdated = m.now()
	alerts := m.checkLocked()
	saveErr := m.saveLocked()
	m.publishLocked()
	m.mu.Unlock()

	if amount > 0 {
		m.logger.Debug("cost recorded", "amount", amount, "source", source)
	}

	m.dispatch(ctx, alerts)
	return alerts, saveErr
}

// checkLocked evaluates thresholds in fixed order: daily critical or
// warning, then weekly, then monthly. The warning fires once per crossing.
// A critical alert fires on every check while spend is at or over the
// limit, so a workflow resumed over budget is paused again.
func (m *Monitor) checkLocked() []Alert {
	var alerts []Alert
	l := &m.ledger

	switch {
	case m.limits.Daily > 0 && l.Daily >= m.limits.Daily:
		l.DailyWarned = true
		alerts = append(alerts, m.alert(Daily, LevelCritical, l.Daily, m.limits.Daily))
	case m.limits.Daily > 0 && l.Daily >= m.limits.Daily*WarningRatio:
		if !l.DailyWarned {
			l.DailyWarned = true
			alerts = append(alerts, m.alert(Daily, LevelWarning, l.Daily, m.limits.Daily))
		}
	}

	if m.limits.Weekly > 0 && l.Weekly >= m.limits.Weekly {
		alerts = append(alerts, m.alert(Weekly, LevelCritical, l.Weekly, m.limits.Weekly))
	}
	if m.limits.Monthly > 0 && l.Monthly >= m.limits.Monthly {
		alerts = append(alerts, m.alert(Monthly, LevelCritical, l.Monthly, m.limits.Monthly))
	}
	return alerts
}

func (m *Monitor) alert(p Period, level Level, spent, limit float64) Alert {
	pct := percentage(spent, limit)
	msg := fmt.Sprintf("%s budget at %.1f%% ($%.2f of $%.2f)", p, pct, spent, limit)
	if level == LevelCritical {
		msg = fmt.Sprintf("%s budget exceeded: $%.2f of $%.2f", p, spent, limit)
	}
	return Alert{Period: p, Level: level, Spent: spent, Limit: limit, Percentage: pct, Message: msg}
}

func (m *Monitor) dispatch(ctx context.Context, alerts []Alert) {
	for _, a := range alerts {
		metrics.RecordBudgetAlert(string(a.Period), string(a.Level))
		if a.Level == LevelCritical {
			m.logger.Error("budget limit reached", "period", a.Period, "spent", a.Spent, "limit", a.Limit)
		} else {
			m.logger.Warn("budget threshold crossed", "period", a.Period, "percentage", a.Percentage)
		}

		if m.alerter != nil {
			if err := m.alerter.BudgetAlert(ctx, a); err != nil {
				m.logger.Error("failed to send budget alert", "period", a.Period, "error", err)
			}
		}
		if a.Level == LevelCritical && m.pauser != nil {
			if _, err := m.pauser.Pause(ctx, fmt.Sprintf("%s budget exceeded", a.Period)); err != nil {
				m.logger.Error("failed to pause workflow", "error", err)
			}
		}
	}
}

// Reset zeroes one period and re-arms its alerts. The daily reset also
// clears the usage counters.
func (m *Monitor) Reset(p Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch p {
	case Daily:
		m.ledger.Daily = 0
		m.ledger.DailyWarned = false
		m.ledger.Usage = make(map[UsageKind]float64)
	case Weekly:
		m.ledger.Weekly = 0
	case Monthly:
		m.ledger.Monthly = 0
	default:
		return fmt.Errorf("unknown budget period %q", p)
	}
	m.ledger.LastUpdated = m.now()
	m.publishLocked()
	m.logger.Info("budget period reset", "period", p)
	return m.saveLocked()
}

func (m *Monitor) ResetDaily() error   { return m.Reset(Daily) }
func (m *Monitor) ResetWeekly() error  { return m.Reset(Weekly) }
func (m *Monitor) ResetMonthly() error { return m.Reset(Monthly) }

// PeriodStatus is one row of the status report.
type PeriodStatus struct {
	Spent      float64 `json:"current"`
	Limit      float64 `json:"limit"`
	Percentage float64 `json:"percentage"`
}

// Snapshot is the budget status report.
type Snapshot struct {
	Daily       PeriodStatus          `json:"daily"`
	Weekly      PeriodStatus          `json:"weekly"`
	Monthly     PeriodStatus          `json:"monthly"`
	Usage       map[UsageKind]float64 `json:"usage"`
	Health      Health                `json:"budget_health"`
	LastUpdated time.Time             `json:"last_updated"`
}

func (m *Monitor) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := make(map[UsageKind]float64, len(m.ledger.Usage))
	for k, v := range m.ledger.Usage {
		usage[k] = v
	}

	daily := percentage(m.ledger.Daily, m.limits.Daily)
	health := HealthHealthy
	switch {
	case daily >= 100:
		health = HealthCritical
	case daily >= WarningRatio*100:
		health = HealthWarning
	}

	return Snapshot{
		Daily:       PeriodStatus{m.ledger.Daily, m.limits.Daily, daily},
		Weekly:      PeriodStatus{m.ledger.Weekly, m.limits.Weekly, percentage(m.ledger.Weekly, m.limits.Weekly)},
		Monthly:     PeriodStatus{m.ledger.Monthly, m.limits.Monthly, percentage(m.ledger.Monthly, m.limits.Monthly)},
		Usage:       usage,
		Health:      health,
		LastUpdated: m.ledger.LastUpdated,
	}
}

func (m *Monitor) saveLocked() error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(m.ledger); err != nil {
		m.logger.Error("failed to persist budget ledger", "error", err)
		return fmt.Errorf("failed to persist budget ledger: %w", err)
	}
	return nil
}

func (m *Monitor) publishLocked() {
	metrics.SetBudgetSpend(string(Daily), m.ledger.Daily)
	metrics.SetBudgetSpend(string(Weekly), m.ledger.Weekly)
	metrics.SetBudgetSpend(string(Monthly), m.ledger.Monthly)
}

func percentage(spent, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return spent / limit * 100
}

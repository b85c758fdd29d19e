package budget

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/sportswire/internal/storage"
)

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (f *fakeAlerter) BudgetAlert(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

type fakePauser struct {
	calls  int
	paused bool
}

func (f *fakePauser) Pause(context.Context, string) (bool, error) {
	f.calls++
	if f.paused {
		return false, nil
	}
	f.paused = true
	return true, nil
}

func newTestMonitor() (*Monitor, *fakeAlerter, *fakePauser) {
	a := &fakeAlerter{}
	p := &fakePauser{}
	m := NewMonitor(DefaultLimits(), DefaultUnitCosts(), Options{Alerter: a, Pauser: p})
	return m, a, p
}

func TestMonitor_WarningFiresOnce(t *testing.T) {
	ctx := context.Background()
	m, a, p := newTestMonitor()

	_, err := m.AddCost(ctx, 79, "test")
	require.NoError(t, err)
	assert.Empty(t, a.alerts)

	alerts, err := m.AddCost(ctx, 1, "test")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, Daily, alerts[0].Period)
	assert.Equal(t, LevelWarning, alerts[0].Level)

	_, err = m.AddCost(ctx, 10, "test")
	require.NoError(t, err)
	assert.Len(t, a.alerts, 1, "warning is not repeated while between 80 and 100 percent")
	assert.Equal(t, 0, p.calls)
	assert.Equal(t, HealthWarning, m.Status().Health)
}

func TestMonitor_OverLimitAlertsOnEveryCheck(t *testing.T) {
	ctx := context.Background()
	m, a, p := newTestMonitor()

	alerts, err := m.AddCost(ctx, 100, "test")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, LevelCritical, alerts[0].Level)
	assert.Equal(t, 1, p.calls)
	assert.True(t, p.paused)

	alerts, err = m.AddCost(ctx, 5, "test")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, LevelCritical, alerts[0].Level)
	assert.Equal(t, 2, p.calls, "pause is requested again; the pauser makes it a no-op")
	assert.Len(t, a.alerts, 2)
	assert.Equal(t, HealthCritical, m.Status().Health)
}

func TestMonitor_ResumedOverLimitPausesAgain(t *testing.T) {
	ctx := context.Background()
	m, _, p := newTestMonitor()

	_, err := m.AddCost(ctx, 101, "test")
	require.NoError(t, err)
	require.True(t, p.paused)

	// operator resumes without raising the limit
	p.paused = false

	_, err = m.AddCost(ctx, 50, "test")
	require.NoError(t, err)
	assert.True(t, p.paused)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 151.0, m.Status().Daily.Spent)
}

func TestMonitor_SimultaneousBreaches(t *testing.T) {
	ctx := context.Background()
	a := &fakeAlerter{}
	p := &fakePauser{}
	m := NewMonitor(Limits{Daily: 10, Weekly: 10, Monthly: 10}, nil, Options{Alerter: a, Pauser: p})

	alerts, err := m.AddCost(ctx, 12, "test")
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, []Period{Daily, Weekly, Monthly}, []Period{alerts[0].Period, alerts[1].Period, alerts[2].Period})
	assert.Equal(t, 3, p.calls, "each breach requests a pause")
	assert.True(t, p.paused)
}

func TestMonitor_RecordUsage(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMonitor()

	_, err := m.RecordUsage(ctx, UsageVideos, 2)
	require.NoError(t, err)
	_, err = m.RecordUsage(ctx, UsageTokens, 1000)
	require.NoError(t, err)

	s := m.Status()
	assert.InDelta(t, 3.02, s.Daily.Spent, 1e-9)
	assert.InDelta(t, 3.02, s.Monthly.Spent, 1e-9)
	assert.Equal(t, 2.0, s.Usage[UsageVideos])
	assert.InDelta(t, 3.02, s.Daily.Percentage, 1e-9)

	_, err = m.RecordUsage(ctx, UsageKind("fax"), 1)
	assert.Error(t, err)
}

func TestMonitor_ResetIsolatesPeriods(t *testing.T) {
	ctx := context.Background()
	m, a, p := newTestMonitor()

	_, err := m.AddCost(ctx, 100, "test")
	require.NoError(t, err)
	_, err = m.RecordUsage(ctx, UsageAPIRequests, 10)
	require.NoError(t, err)

	require.NoError(t, m.ResetDaily())
	s := m.Status()
	assert.Equal(t, 0.0, s.Daily.Spent)
	assert.Empty(t, s.Usage)
	assert.InDelta(t, 100.01, s.Weekly.Spent, 1e-9)
	assert.InDelta(t, 100.01, s.Monthly.Spent, 1e-9)

	assert.Equal(t, 2, p.calls, "usage over the limit checks again")
	assert.Len(t, a.alerts, 2)

	alerts, err := m.AddCost(ctx, 70, "test")
	require.NoError(t, err)
	assert.Empty(t, alerts, "weekly and monthly stay under their limits")

	alerts, err = m.AddCost(ctx, 10, "test")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, LevelWarning, alerts[0].Level, "reset re-arms the daily warning")
	assert.Equal(t, 2, p.calls)

	require.NoError(t, m.ResetWeekly())
	require.NoError(t, m.ResetMonthly())
	assert.Equal(t, 0.0, m.Status().Weekly.Spent)
	assert.Error(t, m.Reset(Period("yearly")))
}

type failingStore struct{}

func (failingStore) Load(any) (bool, error) { return false, nil }
func (failingStore) Save(any) error         { return errors.New("disk full") }

func TestMonitor_PersistenceFailureKeepsCounting(t *testing.T) {
	ctx := context.Background()
	p := &fakePauser{}
	m := NewMonitor(DefaultLimits(), nil, Options{Store: failingStore{}, Pauser: p})

	_, err := m.AddCost(ctx, 150, "test")
	assert.Error(t, err)
	assert.Equal(t, 150.0, m.Status().Daily.Spent)
	assert.Equal(t, 1, p.calls)
}

func TestMonitor_LoadRestoresLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "daily-costs.json")

	first := NewMonitor(DefaultLimits(), nil, Options{Store: storage.NewJSONFile(path)})
	_, err := first.AddCost(ctx, 85, "test")
	require.NoError(t, err)

	a := &fakeAlerter{}
	second := NewMonitor(DefaultLimits(), nil, Options{Store: storage.NewJSONFile(path), Alerter: a})
	require.NoError(t, second.Load())
	assert.Equal(t, 85.0, second.Status().Daily.Spent)

	_, err = second.AddCost(ctx, 1, "test")
	require.NoError(t, err)
	assert.Empty(t, a.alerts, "warning already fired before restart")
}

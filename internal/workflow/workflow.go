// Package workflow tracks whether the pipeline may spend money.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/deusflow/sportswire/internal/metrics"
)

var ErrPaused = errors.New("workflow paused")

// State is the persisted pause/resume record. PauseReason is set exactly
// when IsActive is false.
type State struct {
	IsActive    bool       `json:"is_active"`
	PauseReason *string    `json:"pause_reason"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	ResumedAt   *time.Time `json:"resumed_at,omitempty"`
	PauseCount  int        `json:"pause_count"`
	ResumeCount int        `json:"resume_count"`
}

// Store persists State.
type Store interface {
	Load(v any) (bool, error)
	Save(v any) error
}

// Hook is told about transitions, e.g. to notify an external scheduler.
type Hook interface {
	Paused(ctx context.Context, s State) error
	Resumed(ctx context.Context, s State) error
}

// Controller owns the workflow state.
type Controller struct {
	mu     sync.RWMutex
	state  State
	store  Store
	hooks  []Hook
	now    func() time.Time
	logger *slog.Logger
}

func NewController(store Store, logger *slog.Logger, hooks ...Hook) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	metrics.SetWorkflowActive(true)
	return &Controller{
		state:  State{IsActive: true},
		store:  store,
		hooks:  hooks,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Load restores the persisted state, if any.
func (c *Controller) Load() error {
	if c.store == nil {
		return nil
	}

	var s State
	found, err := c.store.Load(&s)
	if err != nil || !found {
		return err
	}
	if s.IsActive {
		s.PauseReason = nil
	} else if s.PauseReason == nil {
		reason := "unknown"
		s.PauseReason = &reason
	}

	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	metrics.SetWorkflowActive(s.IsActive)
	return nil
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.IsActive
}

// IsPaused is the negation of IsActive.
func (c *Controller) IsPaused() bool {
	return !c.IsActive()
}

// Pause stops costly work. Pausing an already paused workflow changes
// nothing and reports false.
func (c *Controller) Pause(ctx context.Context, reason string) (bool, error) {
	if reason == "" {
		reason = "manual"
	}

	c.mu.Lock()
	if !c.state.IsActive {
		c.mu.Unlock()
		return false, nil
	}
	now := c.now()
	c.state.IsActive = false
	c.state.PauseReason = &reason
	c.state.PausedAt = &now
	c.state.PauseCount++
	snapshot := c.state
	err := c.saveLocked()
	c.mu.Unlock()

	metrics.SetWorkflowActive(false)
	c.logger.Warn("workflow paused", "reason", reason, "pause_count", snapshot.PauseCount)

	for _, h := range c.hooks {
		if hookErr := h.Paused(ctx, snapshot); hookErr != nil {
			c.logger.Error("pause hook failed", "error", hookErr)
		}
	}
	return true, err
}

// Resume re-enables costly work. Resuming an active workflow reports false.
func (c *Controller) Resume(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state.IsActive {
		c.mu.Unlock()
		return false, nil
	}
	now := c.now()
	c.state.IsActive = true
	c.state.PauseReason = nil
	c.state.ResumedAt = &now
	c.state.ResumeCount++
	snapshot := c.state
	err := c.saveLocked()
	c.mu.Unlock()

	metrics.SetWorkflowActive(true)
	c.logger.Info("workflow resumed", "resume_count", snapshot.ResumeCount)

	for _, h := range c.hooks {
		if hookErr := h.Resumed(ctx, snapshot); hookErr != nil {
			c.logger.Error("resume hook failed", "error", hookErr)
		}
	}
	return true, err
}

func (c *Controller) saveLocked() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(c.state); err != nil {
		c.logger.Error("failed to persist workflow state", "error", err)
		return err
	}
	return nil
}

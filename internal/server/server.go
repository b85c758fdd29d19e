// Package server exposes health, metrics, status and the pause/resume
// controls over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deusflow/sportswire/internal/metrics"
	"github.com/deusflow/sportswire/internal/notify"
	"github.com/deusflow/sportswire/internal/workflow"
)

// Workflow is the pause/resume surface the API drives.
type Workflow interface {
	Pause(ctx context.Context, reason string) (bool, error)
	Resume(ctx context.Context) (bool, error)
	State() workflow.State
}

// StatusFunc builds the body of GET /status.
type StatusFunc func(ctx context.Context) (any, error)

type Server struct {
	echo     *echo.Echo
	workflow Workflow
	status   StatusFunc
	secret   string
	logger   *slog.Logger
}

func New(wf Workflow, status StatusFunc, secret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, workflow: wf, status: status, secret: secret, logger: logger}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/status", s.handleStatus)

	wfGroup := e.Group("/workflow", s.requireSecret)
	wfGroup.GET("", s.handleWorkflowState)
	wfGroup.POST("/pause", s.handlePause)
	wfGroup.POST("/resume", s.handleResume)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting monitoring server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requireSecret checks the shared webhook secret when one is configured.
func (s *Server) requireSecret(next echo.HandlerFunc) echo.HandlerFunc {
	if s.secret == "" {
		return next
	}
	secret := []byte(s.secret)
	return func(c echo.Context) error {
		provided := []byte(c.Request().Header.Get(notify.SecretHeader))
		if len(provided) == 0 {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing webhook secret")
		}
		if subtle.ConstantTimeCompare(provided, secret) != 1 {
			return echo.NewHTTPError(http.StatusForbidden, "invalid webhook secret")
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	stats := metrics.Global.GetStats()

	status := "ok"
	code := http.StatusOK
	if !metrics.Global.Healthy() {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]any{
		"status":          status,
		"last_run":        stats["last_run_time"],
		"last_error":      stats["last_error"],
		"workflow_active": s.workflow.State().IsActive,
		"stats":           stats,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	if s.status == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "status not available")
	}
	body, err := s.status(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to build status", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleWorkflowState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.workflow.State())
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

type transitionResponse struct {
	Changed bool           `json:"changed"`
	State   workflow.State `json:"state"`
	At      time.Time      `json:"at"`
}

func (s *Server) handlePause(c echo.Context) error {
	var req pauseRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.Reason == "" {
		req.Reason = "manual pause"
	}

	changed, err := s.workflow.Pause(c.Request().Context(), req.Reason)
	if err != nil {
		s.logger.Error("pause failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.logger.Info("workflow pause requested over HTTP", "reason", req.Reason, "changed", changed)
	return c.JSON(http.StatusOK, transitionResponse{Changed: changed, State: s.workflow.State(), At: time.Now().UTC()})
}

func (s *Server) handleResume(c echo.Context) error {
	changed, err := s.workflow.Resume(c.Request().Context())
	if err != nil {
		s.logger.Error("resume failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.logger.Info("workflow resume requested over HTTP", "changed", changed)
	return c.JSON(http.StatusOK, transitionResponse{Changed: changed, State: s.workflow.State(), At: time.Now().UTC()})
}

// Package api exposes health, status and manual-run endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bakkerme/dealwatch/internal/core"
	"github.com/bakkerme/dealwatch/internal/dispatch"
	"github.com/bakkerme/dealwatch/internal/tracker"
)

// Runner executes flows on demand.
type Runner interface {
	RunOnce(ctx context.Context, flow *core.Flow) (*core.Run, error)
	LastRun() *core.Run
}

// Output is an alert output that can report its delivery state.
type Output interface {
	Name() string
	Stats() (tracker.Stats, bool)
	LastReport() (dispatch.Report, bool)
}

type Server struct {
	echo    *echo.Echo
	runner  Runner
	flow    *core.Flow
	outputs []Output
	logger  *slog.Logger
	baseCtx context.Context
	running atomic.Bool
	started time.Time
}

// NewServer wires routes. Runs started over HTTP use ctx, so they stop when
// the process shuts down rather than when the request ends.
func NewServer(ctx context.Context, runner Runner, flow *core.Flow, outputs []Output, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Warn("api request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("api request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType},
	}))

	s := &Server{
		echo:    e,
		runner:  runner,
		flow:    flow,
		outputs: outputs,
		logger:  logger,
		baseCtx: ctx,
		started: time.Now().UTC(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)
	api.GET("/stats", s.handleStats)
	api.POST("/run", s.handleRun)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	s.logger.Info("api listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "dealwatch",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := map[string]interface{}{
		"flow_id":    s.flow.ID,
		"flow_name":  s.flow.Name,
		"threshold":  s.flow.Threshold,
		"running":    s.running.Load(),
		"started_at": s.started,
		"last_run":   s.runner.LastRun(),
	}
	if next := s.nextRun(); !next.IsZero() {
		resp["next_run"] = next
	}
	return c.JSON(http.StatusOK, resp)
}

type outputStats struct {
	Name       string         `json:"name"`
	Idempotent bool           `json:"idempotency_enabled"`
	Tracker    *tracker.Stats `json:"tracker,omitempty"`
	LastReport *reportSummary `json:"last_report,omitempty"`
}

type reportSummary struct {
	Considered int `json:"considered"`
	Dropped    int `json:"dropped"`
	Sent       int `json:"sent"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func (s *Server) handleStats(c echo.Context) error {
	out := make([]outputStats, 0, len(s.outputs))
	for _, o := range s.outputs {
		entry := outputStats{Name: o.Name()}
		if stats, ok := o.Stats(); ok {
			entry.Idempotent = true
			entry.Tracker = &stats
		}
		if report, ok := o.LastReport(); ok {
			entry.LastReport = &reportSummary{
				Considered: report.Considered,
				Dropped:    report.Dropped,
				Sent:       report.Sent,
				Skipped:    report.Skipped,
				Failed:     report.Failed,
			}
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"outputs": out})
}

// handleRun starts a run in the background. With ?wait=true it blocks and
// returns the finished run.
func (s *Server) handleRun(c echo.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return c.JSON(http.StatusConflict, map[string]interface{}{"error": "a run is already in progress"})
	}

	if c.QueryParam("wait") == "true" {
		defer s.running.Store(false)
		run, err := s.runner.RunOnce(s.baseCtx, s.flow)
		status := http.StatusOK
		resp := map[string]interface{}{"run": run}
		if err != nil {
			status = http.StatusBadGateway
			resp["error"] = err.Error()
		}
		return c.JSON(status, resp)
	}

	go func() {
		defer s.running.Store(false)
		if _, err := s.runner.RunOnce(s.baseCtx, s.flow); err != nil {
			s.logger.Error("api triggered run failed", "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]interface{}{"message": "run started"})
}

func (s *Server) nextRun() time.Time {
	var next time.Time
	for _, trigger := range s.flow.Triggers {
		n, ok := trigger.(interface{ Next() time.Time })
		if !ok {
			continue
		}
		if t := n.Next(); !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	return next
}

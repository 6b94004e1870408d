// Package httpapi is the read-only admin surface, separate from the chat
// TCP port: health, Prometheus metrics, and a snapshot of server state.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamline/internal/core"
)

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	dir     *core.Directory
	rooms   *core.RoomRegistry
	audit   *core.AuditLog
	started time.Time
}

func New(dir *core.Directory, rooms *core.RoomRegistry, audit *core.AuditLog) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, dir: dir, rooms: rooms, audit: audit, started: time.Now()}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path
			if path == "/health" {
				slog.Debug("http request", "method", req.Method, "path", path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("http request", "method", req.Method, "path", path,
					"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP())
			}
			return nil
		}
	}
}

func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/api/state", s.handleState)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type stateResponse struct {
	Rooms       int           `json:"rooms"`
	Accounts    int           `json:"accounts"`
	UptimeSecs  int64         `json:"uptime_seconds"`
	RoomNames   []string      `json:"room_names"`
	RecentAudit []auditRecord `json:"recent_audit"`
}

type auditRecord struct {
	When   int64  `json:"when"`
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Target string `json:"target"`
	Room   string `json:"room"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleState(c echo.Context) error {
	names := s.rooms.Names()
	entries := s.audit.Recent()
	recent := make([]auditRecord, len(entries))
	for i, e := range entries {
		recent[i] = auditRecord{
			When:   e.When.Unix(),
			Actor:  e.Actor,
			Action: e.Action,
			Target: e.Target,
			Room:   e.Room,
			Detail: e.Detail,
		}
	}
	return c.JSON(http.StatusOK, stateResponse{
		Rooms:       len(names),
		Accounts:    len(s.dir.Names()),
		UptimeSecs:  int64(time.Since(s.started).Seconds()),
		RoomNames:   names,
		RecentAudit: recent,
	})
}

// Package web serves the status API.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"commutecal/internal/config"
	"commutecal/internal/itinerary"
	appLog "commutecal/internal/log"
	"commutecal/internal/scheduler"
	"commutecal/internal/transit"
)

// Previewer computes a day's plan without writing; *reconcile.Reconciler
// implements it.
type Previewer interface {
	Preview(ctx context.Context, day time.Time) (itinerary.Day, []transit.Route, error)
}

// Server provides /health, /api/status and /api/plan.
type Server struct {
	cfg     *config.Config
	status  *scheduler.Status
	preview Previewer
	engine  *gin.Engine

	// /api/plan answers are cached per date; a preview hits every
	// calendar and transit backend.
	planMu    sync.Mutex
	planCache map[string]planCache
}

type planCache struct {
	resp      planResponse
	updatedAt time.Time
}

const planCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, status *scheduler.Status, preview Previewer) *Server {
	s := &Server{
		cfg:       cfg,
		status:    status,
		preview:   preview,
		engine:    gin.New(),
		planCache: map[string]planCache{},
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.engine }

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) registerRoutes() {
	// /health 는 항상 무인증으로 노출한다.
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	if s.basicAuthEnabled() {
		api.Use(s.basicAuth())
	}
	api.GET("/status", s.handleStatus)
	api.GET("/plan", s.handlePlan)
}

func (s *Server) basicAuth() gin.HandlerFunc {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password
	return func(c *gin.Context) {
		u, p, ok := c.Request.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			c.Header("WWW-Authenticate", `Basic realm="commutecal", charset="UTF-8"`)
			fail(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// Serve runs the server on cfg.Listen until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
	}
	appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleStatus(c *gin.Context) {
	var loops map[string]scheduler.LoopStatus
	if s.status != nil {
		loops = s.status.Snapshot()
	}
	success(c, gin.H{
		"timezone":   s.cfg.Timezone,
		"week_start": s.cfg.WeekStart,
		"loops":      loops,
	})
}

// handlePlan previews the itinerary and target routes of a date.
//
// GET /api/plan?date=2026-10-19 (default: today)
func (s *Server) handlePlan(c *gin.Context) {
	if s.preview == nil {
		fail(c, http.StatusServiceUnavailable, "planner unavailable")
		return
	}
	loc := s.cfg.Location()

	day := time.Now().In(loc)
	if q := c.Query("date"); q != "" {
		d, err := time.ParseInLocation(time.DateOnly, q, loc)
		if err != nil {
			fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = d
	}
	key := day.Format(time.DateOnly)

	s.planMu.Lock()
	pc, ok := s.planCache[key]
	s.planMu.Unlock()
	if ok && time.Since(pc.updatedAt) < planCacheTTL {
		success(c, pc.resp)
		return
	}

	it, routes, err := s.preview.Preview(c.Request.Context(), day)
	if err != nil {
		appLog.Error("api plan: preview failed", err, "date", key)
		fail(c, http.StatusBadGateway, "failed to read calendars")
		return
	}
	resp := newPlanResponse(key, it, routes, loc)

	s.planMu.Lock()
	s.planCache[key] = planCache{resp: resp, updatedAt: time.Now()}
	s.planMu.Unlock()

	success(c, resp)
}

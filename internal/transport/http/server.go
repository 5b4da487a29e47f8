// Package guardhttp exposes the risk manager's operator API: position list,
// manual open/close, tick trigger, cooldown status, decision journal and the
// equity history.
package guardhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"guardian/internal/logger"
	"guardian/internal/manager"
	"guardian/internal/store/decisionlog"
)

// Server wraps the gin engine and its listener lifecycle.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the HTTP surface's dependencies.
type ServerConfig struct {
	Addr      string
	Manager   *manager.Manager
	Decisions *decisionlog.Store
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("http server requires a manager")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9920"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	apiRouter := NewRouter(cfg.Manager, cfg.Decisions)
	apiRouter.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

const shutdownGrace = 5 * time.Second

// Start serves until ctx is cancelled, then drains in-flight requests for
// up to shutdownGrace before returning.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	return nil
}

// requestLogger keeps successful calls at debug and surfaces failures at
// warn so operator mistakes show up in the default log level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		target := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			target += "?" + q
		}
		status := c.Writer.Status()
		line := "HTTP %s %s status=%d ip=%s dur=%s"
		args := []any{c.Request.Method, target, status, c.ClientIP(), time.Since(start)}
		if status >= http.StatusBadRequest {
			logger.Warnf(line, args...)
			return
		}
		logger.Debugf(line, args...)
	}
}

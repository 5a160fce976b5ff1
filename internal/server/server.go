package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/darren-sm/crypto-data-pipeline/internal/config"
	"github.com/darren-sm/crypto-data-pipeline/internal/service"
)

// FinishedMessage is the body returned after a successful triggered run.
const FinishedMessage = "Session Finished"

// Runner executes one snapshot.
type Runner interface {
	RunSnapshot(ctx context.Context) (service.Result, error)
}

// Server exposes snapshot runs over HTTP.
type Server struct {
	cfg    config.ServerConfig
	runner Runner
	logger zerolog.Logger
	engine *gin.Engine
	group  singleflight.Group
	// runs are detached from request contexts so a disconnecting caller
	// does not cancel a run shared with other callers
	baseCtx context.Context
}

// New builds the router.
func New(cfg config.ServerConfig, runner Runner, logger zerolog.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{
		cfg:     cfg,
		runner:  runner,
		logger:  logger.With().Str("component", "server").Logger(),
		engine:  gin.New(),
		baseCtx: context.Background(),
	}
	s.engine.Use(s.requestLogger(), gin.Recovery())

	s.engine.GET("/healthz", s.health)
	s.engine.GET("/run", s.run)
	s.engine.POST("/run", s.run)
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Dur("timeout", timeout).Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) run(c *gin.Context) {
	v, err, shared := s.group.Do("snapshot", func() (interface{}, error) {
		return s.runner.RunSnapshot(s.baseCtx)
	})
	if err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	res := v.(service.Result)
	c.Header("X-Run-Id", res.RunID)
	if shared {
		c.Header("X-Run-Shared", "true")
	}
	c.String(http.StatusOK, FinishedMessage)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := s.logger.Info()
		if len(c.Errors) > 0 {
			event = s.logger.Error().Str("error", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

// Package api serves runner status and manual cycle triggers over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/auth"
	"github.com/Martian-dev/inbox-triage/internal/journal"
	"github.com/Martian-dev/inbox-triage/internal/triage"
)

// Runner is the part of triage.Runner the API needs
type Runner interface {
	Status() triage.Status
	Trigger() bool
}

// Verifier authenticates a request. auth.JWTVerifier implements it.
type Verifier interface {
	PrincipalFromRequest(r *http.Request) (*auth.Principal, error)
}

// OutcomeLister reads journaled outcomes. journal.Journal implements it.
type OutcomeLister interface {
	RecentOutcomes(ctx context.Context, limit int) ([]journal.OutcomeRecord, error)
}

// Deps holds the server's collaborators. Only Runner is required.
type Deps struct {
	Runner   Runner
	Verifier Verifier
	Outcomes OutcomeLister
	Metrics  http.Handler
	Logger   *zap.Logger
}

// Server is the status API
type Server struct {
	deps   Deps
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	v1 := r.Group("/v1")
	if s.deps.Verifier != nil {
		v1.Use(s.authMiddleware())
	}
	v1.GET("/status", s.getStatus)
	v1.POST("/cycles", s.postCycle)
	if s.deps.Outcomes != nil {
		v1.GET("/outcomes", s.getOutcomes)
	}
	return r
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Runner.Status())
}

func (s *Server) postCycle(c *gin.Context) {
	if !s.deps.Runner.Trigger() {
		c.JSON(http.StatusConflict, gin.H{"error": "a cycle is already pending"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

func (s *Server) getOutcomes(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	outcomes, err := s.deps.Outcomes.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list outcomes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list outcomes"})
		return
	}
	if outcomes == nil {
		outcomes = []journal.OutcomeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		principal, err := s.deps.Verifier.PrincipalFromRequest(c.Request)
		if err != nil {
			s.logger.Warn("invalid token", zap.String("ip", c.ClientIP()), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("principal", principal)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/risk"
)

const shutdownTimeout = 5 * time.Second

// RiskControl is the operator surface of the risk manager.
type RiskControl interface {
	Config() risk.Config
	UpdateConfig(cfg risk.Config) error
	Snapshot() risk.Context
	LastAssessment() (*risk.Assessment, time.Time)
}

// Readiness reports whether startup has finished.
type Readiness interface {
	IsReady() bool
	Pending() []string
}

// Server is the operator HTTP API.
type Server struct {
	risk   RiskControl
	ready  Readiness
	logger *zap.Logger
}

func New(rc RiskControl, ready Readiness, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{risk: rc, ready: ready, logger: logger.Named("server")}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	rg := r.Group("/risk")
	rg.GET("", s.handleRisk)
	rg.PUT("/config", s.handleRiskConfigUpdate)
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operator api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve operator api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down operator api: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.ready != nil && !s.ready.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "pending": s.ready.Pending()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type riskView struct {
	Config         risk.Config      `json:"config"`
	Context        risk.Context     `json:"context"`
	LastAssessment *risk.Assessment `json:"last_assessment,omitempty"`
	AssessedAt     *time.Time       `json:"assessed_at,omitempty"`
}

func (s *Server) handleRisk(c *gin.Context) {
	view := riskView{
		Config:  s.risk.Config(),
		Context: s.risk.Snapshot(),
	}
	if a, at := s.risk.LastAssessment(); a != nil {
		view.LastAssessment = a
		view.AssessedAt = &at
	}
	c.JSON(http.StatusOK, view)
}

// handleRiskConfigUpdate merges the body over the active config, so omitted
// fields keep their value.
func (s *Server) handleRiskConfigUpdate(c *gin.Context) {
	cfg := s.risk.Config()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.risk.UpdateConfig(cfg); err != nil {
		s.logger.Warn("rejected risk config update", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("risk config updated by operator", zap.Any("config", cfg))
	c.JSON(http.StatusOK, s.risk.Config())
}

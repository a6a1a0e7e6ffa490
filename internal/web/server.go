// Package web exposes the operator HTTP surface: status, position and plan
// inspection, the halt reset endpoint and Prometheus metrics.
package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/usecase"
)

type Server struct {
	engine *gin.Engine
	server *http.Server

	trades domain.TradeRepository
	halt   *usecase.HaltGuard
	safety *usecase.SafetySupervisor
	logger *zap.Logger
}

func NewServer(
	port int,
	trades domain.TradeRepository,
	halt *usecase.HaltGuard,
	safety *usecase.SafetySupervisor,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		trades: trades,
		halt:   halt,
		safety: safety,
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/position", s.handlePosition)
	api.GET("/positions/history", s.handlePositionHistory)
	api.GET("/plans", s.handlePlans)
	api.POST("/halt/reset", s.handleHaltReset)
}

func (s *Server) Start() error {
	s.logger.Info("web server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	return s.server.Close()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	halted, reason := s.halt.Halted()
	c.JSON(http.StatusOK, gin.H{
		"halted":         halted,
		"halt_reason":    reason,
		"api_error_rate": s.safety.ErrorRate(),
	})
}

func (s *Server) handlePosition(c *gin.Context) {
	pos, err := s.trades.GetOpenPosition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if pos == nil {
		c.JSON(http.StatusOK, gin.H{"open": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"open": true, "position": pos})
}

func (s *Server) handlePositionHistory(c *gin.Context) {
	positions, err := s.trades.ListPositionHistory(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handlePlans(c *gin.Context) {
	plans, err := s.trades.ListTradePlans(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// handleHaltReset clears the halt. Deliberately POST-only and unauthenticated
// behind the assumption the port is not exposed publicly; the reset is logged
// loudly either way.
func (s *Server) handleHaltReset(c *gin.Context) {
	halted, reason := s.halt.Halted()
	if !halted {
		c.JSON(http.StatusConflict, gin.H{"error": "system is not halted"})
		return
	}

	if err := s.halt.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Warn("halt reset via web api", zap.String("previous_reason", reason))
	c.JSON(http.StatusOK, gin.H{"reset": true, "previous_reason": reason})
}

// =============================================================================
// DocQA HTTP 服务器
// =============================================================================
// 问答 API、健康检查与独立的 Prometheus 指标端口，支持优雅关闭
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/docqa/config"
	"github.com/BaSui01/docqa/internal/metrics"
	"github.com/BaSui01/docqa/internal/telemetry"
	"github.com/BaSui01/docqa/pipeline"
	"github.com/BaSui01/docqa/types"
)

// Server HTTP 服务器。
type Server struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	collector *metrics.Collector
	logger    *zap.Logger
	otel      *telemetry.Providers

	httpServer    *http.Server
	metricsServer *http.Server
}

// NewServer 创建服务器。
func NewServer(cfg *config.Config, p *pipeline.Pipeline, collector *metrics.Collector, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:       cfg,
		pipeline:  p,
		collector: collector,
		logger:    logger.With(zap.String("component", "server")),
		otel:      otelProviders,
	}
}

// Start 启动 HTTP 服务与指标服务。
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.metricsServer.Addr))
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown 等待关闭信号并优雅关闭。
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Error("metrics server shutdown failed", zap.Error(err))
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown failed", zap.Error(err))
	}
}

// =============================================================================
// 🎯 请求处理
// =============================================================================

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		if s.collector != nil {
			s.collector.RecordHTTPRequest(r.Method, "/ask", strconv.Itoa(status), time.Since(start))
		}
	}()

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		s.writeError(w, status,
			types.NewError(types.ErrInvalidRequest, "malformed request body").WithCause(err))
		return
	}

	resp, err := s.pipeline.Ask(r.Context(), req)
	if err != nil {
		status = statusFor(err)
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// statusFor 把管线错误码映射到 HTTP 状态码。
func statusFor(err error) int {
	switch types.CodeOf(err) {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrNoResults:
		return http.StatusNotFound
	case types.ErrSearchUnavailable, types.ErrLLMUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	var te *types.Error
	if !errors.As(err, &te) {
		te = types.NewError(types.ErrInternalError, err.Error())
	}
	s.logger.Warn("request failed",
		zap.String("code", string(te.Code)),
		zap.Int("status", status))
	s.writeJSON(w, status, map[string]any{"error": te})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/apm-collector/pkg/config"
)

const defaultShutdownTimeout = 5 * time.Second

// StatusFunc 返回 /status 的响应体
type StatusFunc func() any

// HealthFunc 返回 nil 表示健康
type HealthFunc func() error

// Server HTTP服务：/metrics /health /status
type Server struct {
	cfg      *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
	gatherer prometheus.Gatherer
	status   StatusFunc
	health   HealthFunc
	mux      *customMux
	listener net.Listener
}

// statusWriter 捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// customMux 记录已注册路由，启动日志里输出
type customMux struct {
	http.ServeMux
	routes []string
	mu     sync.Mutex
}

func (m *customMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, pattern)
	m.ServeMux.HandleFunc(pattern, handler)
}

// NewHTTPServer status/health 为 nil 时对应端点返回空对象/OK
func NewHTTPServer(cfg *config.ServerConfig, logger *zap.Logger, gatherer prometheus.Gatherer, status StatusFunc, health HealthFunc) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		gatherer: gatherer,
		status:   status,
		health:   health,
		mux:      &customMux{},
	}
	srv.registerEndpoints()
	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.logMiddleware(srv.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return srv
}

// Handler 暴露路由，便于测试
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) registerEndpoints() {
	s.mux.HandleFunc("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}).ServeHTTP)

	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var body any = struct{}{}
		if s.status != nil {
			body = s.status()
		}
		data, err := jsoniter.Marshal(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("encode status: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
}

// Start 监听端口后异步服务，端口占用等错误同步返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info("starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Strings("routes", s.mux.routes))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭，超时视为已关闭
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded")
			return nil
		}
		return err
	}
	s.logger.Info("HTTP server shutdown successfully")
	return nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"OpenACE-Chain/internal/ace"
	"OpenACE-Chain/internal/auth"
	xerrors "OpenACE-Chain/internal/errors"
	"OpenACE-Chain/internal/observability/metrics"
	"OpenACE-Chain/pkg/logger"
)

const maxRequestBytes = 4 << 20

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	engine  *ace.Engine
	auth    *auth.Service
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewServer 构造 API 服务实例。authSvc 为 nil 时按 disabled 模式信任 X-ACE-Address。
func NewServer(addr string, engine *ace.Engine, authSvc *auth.Service, m *metrics.Metrics) (*Server, error) {
	if engine == nil {
		return nil, errors.New("api server requires an engine")
	}
	if authSvc == nil {
		var err error
		if authSvc, err = auth.NewService(auth.Config{Mode: auth.ModeDisabled}); err != nil {
			return nil, err
		}
	}
	return &Server{addr: addr, engine: engine, auth: authSvc, metrics: m, log: logger.Named("api")}, nil
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	write := s.auth.Middleware(auth.MiddlewareConfig{})
	read := s.auth.Middleware(auth.MiddlewareConfig{Optional: true})

	route := func(pattern string, mw func(http.Handler) http.Handler, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, mw(h)))
	}

	route("PUT /api/v1/crs", write, s.handleSetCRS)
	route("GET /api/v1/crs", read, s.handleGetCRS)
	route("GET /api/v1/validators", read, s.handleListValidators)
	route("PUT /api/v1/validators/{proofType}", write, s.handleSetValidator)
	route("GET /api/v1/validators/{proofType}", read, s.handleGetValidator)
	route("POST /api/v1/proofs/validate", write, s.handleValidate)
	route("GET /api/v1/proofs/{proofHash}", read, s.handleProofStatus)
	route("POST /api/v1/proofs/clear", write, s.handleClear)
	route("POST /api/v1/proofs/process", write, s.handleProcess)
	route("POST /api/v1/registries", write, s.handleCreateRegistry)
	route("POST /api/v1/registries/updates", write, s.handleUpdateRegistry)
	route("GET /api/v1/registries/{owner}", read, s.handleGetRegistry)
	route("GET /api/v1/registries/{owner}/notes/{noteHash}", read, s.handleGetNote)
	route("POST /api/v1/registries/{owner}/approvals", write, s.handleApprove)
	route("GET /api/v1/registries/{owner}/approvals/{proofHash}", read, s.handleGetApproval)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 记录每个路由的请求指标。
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.ObserveHTTPRequest(pattern, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse(err))
}

func invalidArgument(format string, args ...any) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf(format, args...))
}

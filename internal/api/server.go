package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/agentic-reviewer/internal/discovery"
	"github.com/JakeFAU/agentic-reviewer/internal/pipeline"
	"github.com/JakeFAU/agentic-reviewer/internal/ratelimit"
	"github.com/JakeFAU/agentic-reviewer/internal/stage"
	"github.com/JakeFAU/agentic-reviewer/internal/telemetry"
)

// Discoverer runs one discovery pass.
type Discoverer interface {
	Discover(ctx context.Context, sources []string) (discovery.Report, error)
}

// Stages runs pipeline stages on demand.
type Stages interface {
	Enrich(ctx context.Context, productID string) (stage.EnrichResult, error)
	Summarize(ctx context.Context, productID string, force bool) (stage.StageResult, error)
	Score(ctx context.Context, productID string, force bool) (stage.StageResult, error)
	RenderVideo(ctx context.Context, productID string, format pipeline.Format) (stage.RenderResult, error)
	Distribute(ctx context.Context, videoID string, platforms []pipeline.Platform) (stage.DistributeResult, error)
	ApproveVideo(ctx context.Context, videoID string) (pipeline.Video, error)
	RejectVideo(ctx context.Context, videoID, reason string) (pipeline.Video, error)
}

// RateLimiter admits or rejects a caller.
type RateLimiter interface {
	Check(ctx context.Context, key string) (ratelimit.Result, error)
	Limit() int
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the server's optional behaviour.
type Config struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey string
	// ReadTimeout bounds the query routes. Stage routes run until their own
	// stage timeout.
	ReadTimeout time.Duration
}

// Deps are the collaborators behind the routes. Limiter and Ready are optional.
type Deps struct {
	Store      pipeline.Store
	Discoverer Discoverer
	Stages     Stages
	Limiter    RateLimiter
	Ready      []Pinger
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Group(func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(rateLimitMiddleware(deps.Limiter, logger))
			}
			r.Post("/discover", s.discover)
			r.Post("/process", s.process)
			r.Post("/summarize", s.summarize)
			r.Post("/score", s.score)
			r.Post("/video/render", s.renderVideo)
			r.Post("/distribute", s.distribute)
			r.Post("/videos/{id}/approve", s.approveVideo)
			r.Post("/videos/{id}/reject", s.rejectVideo)
		})
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.ReadTimeout))
			r.Get("/products", s.listProducts)
			r.Get("/products/{id}", s.getProduct)
			r.Get("/videos", s.listVideos)
			r.Get("/stats", s.stats)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range s.deps.Ready {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// envelope is the body of every /v1 response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writeStageError maps a classified pipeline error to its HTTP status.
func (s *Server) writeStageError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch pipeline.KindOf(err) {
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindPrecondition:
		return http.StatusBadRequest
	case pipeline.KindIllegalTransition:
		return http.StatusConflict
	case pipeline.KindTransient:
		return http.StatusServiceUnavailable
	case pipeline.KindNonRetryable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", requestID(r.Context())),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timed out"}`)
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nano-banana/internal/genai"
	"nano-banana/internal/orchestrator"
	"nano-banana/internal/store"
)

const Version = "2.0.0"

// Generator is the slice of the orchestrator the HTTP surface needs.
type Generator interface {
	Submit(ctx context.Context, prompt string, images []genai.Image, opts ...orchestrator.SubmitOption) (genai.Result, error)
	State() orchestrator.State
	Model() string
	DriverFor(model string) orchestrator.DriverKind
	History() []genai.Turn
	Reset() error
	Records(ctx context.Context) ([]store.HistoryRecord, error)
	Record(ctx context.Context, id string) (store.HistoryRecord, bool, error)
	Image(ctx context.Context, ref string) (genai.Image, bool, error)
	DeleteRecord(ctx context.Context, id string) error
	ClearRecords(ctx context.Context) error
}

type Options struct {
	Generator Generator
	// ProxyClient performs /api/proxy upstream calls.
	ProxyClient  *http.Client
	ProxyTimeout time.Duration
	// AllowedHosts restricts /api/proxy targets when non-empty.
	AllowedHosts []string
	Logger       *slog.Logger
}

type Server struct {
	gen          Generator
	proxyClient  *http.Client
	proxyTimeout time.Duration
	allowedHosts map[string]bool
	logger       *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := opts.ProxyClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := opts.ProxyTimeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	var allowed map[string]bool
	if len(opts.AllowedHosts) > 0 {
		allowed = make(map[string]bool, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			allowed[h] = true
		}
	}

	return &Server{
		gen:          opts.Generator,
		proxyClient:  client,
		proxyTimeout: timeout,
		allowedHosts: allowed,
		logger:       logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/proxy", s.handleProxy)

	if s.gen != nil {
		r.Route("/api", func(r chi.Router) {
			r.Post("/generate", s.handleGenerate)

			r.Get("/conversation", s.handleConversation)
			r.Post("/conversation/reset", s.handleReset)

			r.Get("/history", s.handleListRecords)
			r.Delete("/history", s.handleClearRecords)
			r.Get("/history/{id}/image", s.handleRecordImage)
			r.Delete("/history/{id}", s.handleDeleteRecord)
		})
	}
	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Message: "Nano Banana server is running",
		Version: Version,
	})
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"dur_ms", time.Since(start).Milliseconds(),
		)
	})
}

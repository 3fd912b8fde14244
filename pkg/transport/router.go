// Package transport exposes an agent's server.Handler over HTTP: the agent card
// at both well-known paths and the JSON-RPC endpoint, with SSE for streaming
// methods.
package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/observability"
	"github.com/kadirpekel/optica/pkg/server"
)

// DefaultMaxBodyBytes bounds a JSON-RPC request body.
const DefaultMaxBodyBytes = 32 << 20

type routerOptions struct {
	obs          *observability.Manager
	maxBodyBytes int64
	origins      []string
}

// Option configures NewRouter.
type Option func(*routerOptions)

// WithObservability adds tracing and metrics middleware and serves the metrics
// endpoint when metrics are enabled.
func WithObservability(m *observability.Manager) Option {
	return func(o *routerOptions) { o.obs = m }
}

func WithMaxBodyBytes(n int64) Option {
	return func(o *routerOptions) { o.maxBodyBytes = n }
}

// WithAllowedOrigins restricts CORS to the given origins. Default: any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *routerOptions) { o.origins = origins }
}

// NewRouter builds the HTTP surface of one agent.
func NewRouter(h *server.Handler, opts ...Option) http.Handler {
	o := routerOptions{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(o.origins...))
	if o.obs != nil {
		r.Use(o.obs.Middleware())
	}

	card := h.Card()
	serveCard := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, card)
	}
	r.Get(a2a.WellKnownCardPath, serveCard)
	r.Get(a2asrv.WellKnownAgentCardPath, serveCard)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agent": card.Name})
	})
	if o.obs != nil {
		if mh := o.obs.MetricsHandler(); mh != nil {
			r.Method(http.MethodGet, o.obs.MetricsPath(), mh)
		}
	}
	r.Post("/", (&rpcHandler{handler: h, maxBodyBytes: o.maxBodyBytes}).ServeHTTP)
	return r
}

// RequestLogger logs one line per request at debug level and failures at warn.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// CORS answers preflight requests and sets the allow headers. With no origins
// every origin is allowed.
func CORS(origins ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(allowed) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Traceparent")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON writes v in canonical form.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := a2a.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

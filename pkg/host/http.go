package host

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/observability"
	"github.com/kadirpekel/optica/pkg/session"
	"github.com/kadirpekel/optica/pkg/transport"
)

// DefaultMaxUploadBytes bounds a /chat request including attachments.
const DefaultMaxUploadBytes = 20 << 20

// HTTPOptions configures NewHTTPHandler.
type HTTPOptions struct {
	MaxUploadBytes int64
	RateLimit      config.RateLimitConfig
	Observability  *observability.Manager
	AllowedOrigins []string
}

type api struct {
	router    *Router
	maxUpload int64
}

// NewHTTPHandler exposes the router to the web front-end.
func NewHTTPHandler(router *Router, opts HTTPOptions) http.Handler {
	a := &api{router: router, maxUpload: opts.MaxUploadBytes}
	if a.maxUpload <= 0 {
		a.maxUpload = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(transport.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(transport.CORS(opts.AllowedOrigins...))
	if opts.Observability != nil {
		r.Use(opts.Observability.Middleware())
		if mh := opts.Observability.MetricsHandler(); mh != nil {
			r.Method(http.MethodGet, opts.Observability.MetricsPath(), mh)
		}
	}

	limiters := newClientLimiters(opts.RateLimit)
	r.With(limiters.middleware).Post("/chat", a.chat)
	r.Get("/sessions", a.listSessions)
	r.Get("/sessions/{id}/history", a.history)
	r.Delete("/sessions/{id}/history", a.clear)
	r.Get("/health", a.health)
	r.Get("/agents/status", a.agentStatus)
	return r
}

func (a *api) chat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)

	turn, err := a.parseTurn(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := a.router.HandleTurn(r.Context(), turn)
	if err != nil {
		if a2a.KindOf(err) == a2a.KindInvalidParams {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Turn failed", "session_id", turn.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// parseTurn reads an urlencoded or multipart form. Every uploaded file becomes
// an attachment.
func (a *api) parseTurn(r *http.Request) (Turn, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(a.maxUpload); err != nil {
			return Turn{}, err
		}
	} else if err := r.ParseForm(); err != nil {
		return Turn{}, err
	}

	turn := Turn{
		Text:      r.FormValue("message"),
		UserID:    strings.TrimSpace(r.FormValue("user_id")),
		SessionID: strings.TrimSpace(r.FormValue("session_id")),
	}
	if r.MultipartForm != nil {
		for _, files := range r.MultipartForm.File {
			for _, fh := range files {
				f, err := fh.Open()
				if err != nil {
					return Turn{}, err
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return Turn{}, err
				}
				ct := fh.Header.Get("Content-Type")
				if ct == "" || ct == "application/octet-stream" {
					ct = http.DetectContentType(data)
				}
				turn.Attachments = append(turn.Attachments, Attachment{Name: fh.Filename, MimeType: ct, Data: data})
			}
		}
	}
	if strings.TrimSpace(turn.Text) == "" && len(turn.Attachments) == 0 {
		return Turn{}, errors.New("message is required")
	}
	return turn, nil
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := a.router.Sessions().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := a.router.History(r.Context(), id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []session.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "history": history})
}

func (a *api) clear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.router.Clear(r.Context(), id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "session_id": id})
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": len(a.router.Agents().IDs())})
}

func (a *api) agentStatus(w http.ResponseWriter, r *http.Request) {
	status := a.router.Agents().Status(r.Context())
	reachable := 0
	for _, s := range status {
		if s.Reachable {
			reachable++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": status, "reachable": reachable, "total": len(status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

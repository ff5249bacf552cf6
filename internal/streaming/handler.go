package streaming

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"watchstream/internal/platform/metrics"
)

const (
	manifestContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// Handler exposes the streaming HTTP endpoints using go-chi.
type Handler struct {
	reg      *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler over the given registry. Metrics may be nil to
// disable metric recording (e.g. in tests).
func NewHandler(reg *Registry, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		reg:     reg,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes mounts the streaming endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/watch/{content_id}", h.CreateSession)
	r.Get("/stream/{token}", h.Stream)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{session_id}/ws", h.ViewerSocket)
}

// CreateSession handles GET /watch/{content_id}: it creates a playback
// session for the content item and returns its id.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	contentID, err := strconv.ParseInt(chi.URLParam(r, "content_id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	session, err := h.reg.Create(r.Context(), contentID)
	switch {
	case errors.Is(err, ErrContentNotFound):
		w.WriteHeader(http.StatusNotFound)
		return
	case errors.Is(err, ErrProbeFailed):
		h.log.Error("probing content failed",
			slog.Int64("content_id", contentID),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	case err != nil:
		h.log.Error("creating session failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.IncSessionsCreated()
	}
	h.log.Info("session started",
		slog.String("session_id", session.ID),
		slog.Int64("content_id", contentID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"session_id": session.ID})
}

// Stream handles GET /stream/{token}: manifests for
// "{session}.{selection}.m3u8" tokens and media segments for
// "{session}.{index}.{selection}.ts" tokens.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	token, err := ParseMediaToken(chi.URLParam(r, "token"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	session, ok := h.reg.Get(token.SessionID)
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch token.Kind {
	case TokenManifest:
		manifest, err := session.Manifest(r.Context(), token.Selection)
		if err != nil {
			h.log.Error("building manifest failed",
				slog.String("session_id", token.SessionID),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", manifestContentType)
		w.Write([]byte(manifest))

	case TokenSegment:
		data, err := session.Segment(r.Context(), token.Index, token.Selection)
		switch {
		case errors.Is(err, ErrSegmentOutOfRange), errors.Is(err, ErrTranscodeFailed):
			h.log.Warn("segment unavailable",
				slog.String("session_id", token.SessionID),
				slog.Int("index", token.Index),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusNotFound)
			return
		case err != nil:
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", segmentContentType)
		w.Write(data)
	}
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.reg.Snapshot())
}

// ViewerSocket handles GET /sessions/{session_id}/ws: it upgrades the
// connection and joins the viewer to the session's sync protocol. An unknown
// session id still upgrades, so the client can be told why it is being
// disconnected.
func (h *Handler) ViewerSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "someone"
	}

	session, found := h.reg.Get(sessionID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	if !found {
		msg := notificationMessage("This session seems to be invalid... Falling back to previous page", "")
		if err := writeMessage(conn, msg); err != nil && h.log != nil {
			h.log.Debug("failed to notify viewer of unknown session", slog.String("error", err.Error()))
		}
		conn.Close()
		return
	}

	empty := session.HandleViewer(h.reg.Context(), conn, name)
	if empty {
		h.reg.Remove(sessionID)
	}
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/interviewd/internal/conversation"
	"github.com/ashureev/interviewd/internal/domain"
)

// Lifecycle is the part of the session lifecycle the bridge drives.
type Lifecycle interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	BeginOrResume(ctx context.Context, id string) (*domain.Session, bool, error)
	Complete(ctx context.Context, id string, summary *domain.Summary) (*domain.Session, error)
}

// Handler upgrades HTTP requests to interview WebSocket sessions.
type Handler struct {
	lifecycle     Lifecycle
	factory       *conversation.Factory
	registry      *Registry
	allowedOrigin string
}

// NewHandler creates a Handler.
func NewHandler(lc Lifecycle, factory *conversation.Factory, registry *Registry, allowedOrigin string) *Handler {
	return &Handler{lifecycle: lc, factory: factory, registry: registry, allowedOrigin: allowedOrigin}
}

// ServeHTTP implements http.Handler. The session id comes from the sessionID route parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	defer h.registry.Track()()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	t := newWSTransport(ws)
	defer func() {
		if closeErr := t.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.serve(ctx, sessionID, ws, t)
}

func (h *Handler) serve(ctx context.Context, sessionID string, ws *websocket.Conn, t Transport) {
	session, err := h.lifecycle.Get(ctx, sessionID)
	if err != nil {
		h.reject(t, sessionID, err)
		return
	}

	h.registry.Register(sessionID, t)
	defer h.registry.Unregister(sessionID, t)

	if err := t.Send(ctx, uiConfigFrame(session)); err != nil {
		slog.Debug("Failed to send ui_config", "error", err, "session_id", sessionID)
		return
	}

	agent, done := h.open(ctx, sessionID, t)
	if agent == nil || done {
		return
	}

	h.readLoop(ctx, sessionID, ws, t, agent)
}

// open starts or resumes the conversation. It returns nil when the connection
// was closed, and done when the conversation was already complete.
func (h *Handler) open(ctx context.Context, sessionID string, t Transport) (*liveAgent, bool) {
	session, resumed, err := h.lifecycle.BeginOrResume(ctx, sessionID)
	if err != nil {
		h.reject(t, sessionID, err)
		return nil, false
	}

	agent, err := h.registry.agent(sessionID, func() (conversation.Engine, error) {
		if resumed {
			return h.factory.Resume(session)
		}
		return h.factory.New(session)
	})
	if err != nil {
		h.reject(t, sessionID, err)
		return nil, false
	}

	agent.mu.Lock()
	defer agent.mu.Unlock()
	engine := agent.engine

	if !engine.Started() {
		msg, err := engine.Start(ctx)
		if err != nil {
			h.reject(t, sessionID, err)
			return nil, false
		}
		if err := t.Send(ctx, responseFrame(msg)); err != nil {
			slog.Debug("Failed to send opening message", "error", err, "session_id", sessionID)
			return nil, false
		}
		return agent, false
	}

	slog.Info("Resuming conversation", "session_id", sessionID, "history", len(engine.History()))
	for _, f := range replayFrames(engine.History()) {
		if err := t.Send(ctx, f); err != nil {
			slog.Debug("Failed to replay history", "error", err, "session_id", sessionID)
			return nil, false
		}
	}

	if engine.IsComplete() {
		h.finish(ctx, sessionID, t, engine.Summary())
		return agent, true
	}
	if q := engine.Pending(); q != nil {
		if err := t.Send(ctx, pendingFrame(q)); err != nil {
			return nil, false
		}
	}
	return agent, false
}

func (h *Handler) readLoop(ctx context.Context, sessionID string, ws *websocket.Conn, t Transport, agent *liveAgent) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			if sendErr := t.Send(ctx, errorFrame("invalid_json", "Message must be a JSON object with a content field.")); sendErr != nil {
				return
			}
			continue
		}
		if in.Content == nil || strings.TrimSpace(*in.Content) == "" {
			if sendErr := t.Send(ctx, errorFrame("missing_content", "Message content must not be empty.")); sendErr != nil {
				return
			}
			continue
		}

		// In-flight evaluation and persistence outlive a client disconnect.
		work := context.WithoutCancel(ctx)

		agent.mu.Lock()
		msg, err := agent.engine.Submit(work, *in.Content)
		agent.mu.Unlock()
		if err != nil {
			slog.Error("Failed to process answer", "error", err, "session_id", sessionID)
			_ = t.Close(websocket.StatusInternalError, ReasonInternal)
			return
		}

		if err := t.Send(ctx, responseFrame(msg)); err != nil {
			slog.Debug("Failed to send response", "error", err, "session_id", sessionID)
			if msg.IsComplete {
				h.finish(work, sessionID, t, msg.Summary)
			}
			return
		}

		if msg.IsComplete {
			h.finish(work, sessionID, t, msg.Summary)
			return
		}
	}
}

// finish evicts the engine, closes the transport and completes the session.
func (h *Handler) finish(ctx context.Context, sessionID string, t Transport, summary *domain.Summary) {
	h.registry.Evict(sessionID)
	h.registry.Unregister(sessionID, t)
	_ = t.Close(websocket.StatusNormalClosure, "conversation complete")

	if _, err := h.lifecycle.Complete(context.WithoutCancel(ctx), sessionID, summary); err != nil {
		slog.Error("Failed to complete session", "error", err, "session_id", sessionID)
	}
}

// reject closes t with the code documented for err.
func (h *Handler) reject(t Transport, sessionID string, err error) {
	code, reason := closeCode(err)
	slog.Warn("Closing connection", "session_id", sessionID, "reason", reason, "error", err)
	_ = t.Close(code, reason)
}

func closeCode(err error) (websocket.StatusCode, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return StatusSessionNotFound, ReasonSessionNotFound
	case errors.Is(err, domain.ErrExpired), errors.Is(err, domain.ErrInvalidState):
		return StatusSessionInvalid, ReasonSessionInvalid
	case errors.Is(err, domain.ErrInvalidContent):
		return StatusInvalidContent, ReasonInvalidContent
	default:
		return websocket.StatusInternalError, ReasonInternal
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	for _, allowed := range strings.Split(h.allowedOrigin, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

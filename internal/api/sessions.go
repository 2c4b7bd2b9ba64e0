package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/interviewd/internal/domain"
)

// Sessions is the part of the session lifecycle exposed over HTTP.
type Sessions interface {
	Create(ctx context.Context, kind string, content domain.Content, configs domain.Configs) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Initiate(ctx context.Context, id, kind string, content domain.Content, configs domain.Configs) (*domain.Session, error)
}

// Pinger checks a dependency's reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the session and health endpoints.
type Handler struct {
	sessions      Sessions
	db            Pinger
	defaultKind   string
	healthTimeout time.Duration
}

// NewHandler creates a Handler. Sessions created without a kind get defaultKind.
func NewHandler(sessions Sessions, db Pinger, defaultKind string) *Handler {
	return &Handler{
		sessions:      sessions,
		db:            db,
		defaultKind:   defaultKind,
		healthTimeout: 5 * time.Second,
	}
}

// RegisterRoutes registers the session and health routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Post("/sessions/{sessionID}/initiate", h.InitiateSession)
	})
}

type sessionRequest struct {
	Kind    string         `json:"kind,omitempty"`
	Content domain.Content `json:"content"`
	Configs domain.Configs `json:"configs"`
}

// CreateSession creates a session in status new.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = h.defaultKind
	}

	session, err := h.sessions.Create(r.Context(), req.Kind, req.Content, req.Configs)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

// GetSession returns the stored session record.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// InitiateSession merges the posted content and configs and moves the session to initiated.
func (h *Handler) InitiateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req sessionRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.sessions.Initiate(r.Context(), id, req.Kind, req.Content, req.Configs)
	if err != nil {
		slog.Debug("Initiate rejected", "session_id", id, "error", err)
		Fail(w, err)
		return
	}
	JSON(w, http.StatusOK, session)
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

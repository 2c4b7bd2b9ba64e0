// Package chat bridges interview sessions to WebSocket clients.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/interviewd/internal/conversation"
)

// liveAgent is a running engine plus the lock that serializes its use.
type liveAgent struct {
	mu     sync.Mutex
	engine conversation.Engine
}

// Registry tracks the live transport and conversation engine of each session.
// At most one transport is registered per session.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]Transport
	agents map[string]*liveAgent

	handlers int
	drained  chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Transport),
		agents: make(map[string]*liveAgent),
	}
}

// Register binds t to sessionID, closing any transport already bound to it.
// The old transport is closed in the background so its close handshake never
// delays the new connection.
func (r *Registry) Register(sessionID string, t Transport) {
	r.mu.Lock()
	existing, exists := r.conns[sessionID]
	r.conns[sessionID] = t
	r.mu.Unlock()

	if exists && existing != t {
		slog.Warn("Replacing existing connection", "session_id", sessionID)
		go func() { _ = existing.Close(websocket.StatusNormalClosure, "session replaced") }()
	}
	slog.Info("Chat session registered", "session_id", sessionID)
}

// Unregister removes t only if it is still the transport bound to sessionID.
func (r *Registry) Unregister(sessionID string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.conns[sessionID]; exists && current == t {
		delete(r.conns, sessionID)
		slog.Info("Chat session unregistered", "session_id", sessionID)
	}
}

// Active returns the transport bound to sessionID, or nil.
func (r *Registry) Active(sessionID string) Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[sessionID]
}

// Len returns the number of registered transports.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// agent returns the live agent for sessionID, creating it with build when absent.
func (r *Registry) agent(sessionID string, build func() (conversation.Engine, error)) (*liveAgent, error) {
	r.mu.Lock()
	if a, ok := r.agents[sessionID]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	engine, err := build()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[sessionID]; ok {
		return a, nil
	}
	a := &liveAgent{engine: engine}
	r.agents[sessionID] = a
	return a, nil
}

// HasAgent reports whether a live engine exists for sessionID.
func (r *Registry) HasAgent(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[sessionID]
	return ok
}

// Evict drops the live engine of sessionID.
func (r *Registry) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, sessionID)
}

// CloseSession closes and removes the transport of sessionID and evicts its engine.
func (r *Registry) CloseSession(sessionID string, code websocket.StatusCode, reason string) {
	r.mu.Lock()
	t, ok := r.conns[sessionID]
	delete(r.conns, sessionID)
	delete(r.agents, sessionID)
	r.mu.Unlock()

	if ok {
		go func() { _ = t.Close(code, reason) }()
		slog.Info("Chat session closed", "session_id", sessionID, "reason", reason)
	}
}

// Expire closes whatever is left of an expired session. It is meant to be
// registered as a lifecycle expiry callback.
func (r *Registry) Expire(sessionID string) {
	r.CloseSession(sessionID, StatusSessionInvalid, ReasonSessionInvalid)
}

// CloseAll closes every registered transport with StatusGoingAway and drops all
// live engines. Sessions stay started in storage and can be resumed.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Transport)
	r.agents = make(map[string]*liveAgent)
	r.mu.Unlock()

	for id, t := range conns {
		go func() { _ = t.Close(websocket.StatusGoingAway, "server shutting down") }()
		slog.Info("Chat session closed for shutdown", "session_id", id)
	}
}

// Track marks a connection handler as running until the returned func is called.
func (r *Registry) Track() func() {
	r.mu.Lock()
	r.handlers++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.handlers--
			if r.handlers == 0 && r.drained != nil {
				close(r.drained)
				r.drained = nil
			}
		})
	}
}

// Wait blocks until every tracked handler has returned or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.Lock()
	if r.handlers == 0 {
		r.mu.Unlock()
		return nil
	}
	if r.drained == nil {
		r.drained = make(chan struct{})
	}
	drained := r.drained
	r.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/interviewd/internal/domain"
)

// Repository defines the interface for persisting interview sessions.
type Repository interface {
	// Get retrieves a session by id. It returns nil, nil when no such session exists.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Create inserts a new session record.
	Create(ctx context.Context, session *domain.Session) error

	// Put overwrites the mutable fields of an existing session.
	// It returns domain.ErrNotFound when the session does not exist.
	Put(ctx context.Context, session *domain.Session) error

	// ListNonTerminal returns every session that is neither ended nor expired.
	ListNonTerminal(ctx context.Context) ([]*domain.Session, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

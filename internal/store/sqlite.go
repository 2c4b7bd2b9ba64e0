package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/shared"
	_ "modernc.org/sqlite"
)

var sessionColumns = []string{
	"id", "kind", "status", "content_json", "configs_json", "log_json", "created_at", "updated_at",
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	qb    sq.StatementBuilderType
	retry shared.RetryPolicy
}

// NewSQLite opens the database at dbPath, applies migrations and returns a repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets the cleanup sweep read while a conversation writes.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened and migrated database handle.
func NewWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:    db,
		qb:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
		retry: shared.DefaultRetryPolicy,
	}
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	query, args, err := s.qb.Select(sessionColumns...).From("sessions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	session, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// Create inserts a new session record.
func (s *SQLiteStore) Create(ctx context.Context, session *domain.Session) error {
	content, configs, log, err := encodeSession(session)
	if err != nil {
		return err
	}

	query, args, err := s.qb.Insert("sessions").Columns(sessionColumns...).Values(
		session.ID, session.Kind, string(session.Status), content, configs, log,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	return shared.RetryOnConflict(ctx, s.retry, "create session", func() error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// Put overwrites the mutable fields of an existing session.
func (s *SQLiteStore) Put(ctx context.Context, session *domain.Session) error {
	content, configs, log, err := encodeSession(session)
	if err != nil {
		return err
	}

	query, args, err := s.qb.Update("sessions").
		Set("kind", session.Kind).
		Set("status", string(session.Status)).
		Set("content_json", content).
		Set("configs_json", configs).
		Set("log_json", log).
		Set("updated_at", session.UpdatedAt.Unix()).
		Where(sq.Eq{"id": session.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	return shared.RetryOnConflict(ctx, s.retry, "put session", func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("Put affected 0 rows", "session_id", session.ID)
			return domain.ErrNotFound
		}
		return nil
	})
}

// ListNonTerminal returns every session that is neither ended nor expired.
func (s *SQLiteStore) ListNonTerminal(ctx context.Context) ([]*domain.Session, error) {
	query, args, err := s.qb.Select(sessionColumns...).From("sessions").
		Where(sq.NotEq{"status": []string{string(domain.StatusEnded), string(domain.StatusExpired)}}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query non-terminal sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var status, content, configs, log string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.ID, &session.Kind, &status,
		&content, &configs, &log,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	session.Status = domain.Status(status)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	if err := json.Unmarshal([]byte(content), &session.Content); err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", session.ID, err)
	}
	if err := json.Unmarshal([]byte(configs), &session.Configs); err != nil {
		return nil, fmt.Errorf("decode configs of %s: %w", session.ID, err)
	}
	if err := json.Unmarshal([]byte(log), &session.Log); err != nil {
		return nil, fmt.Errorf("decode log of %s: %w", session.ID, err)
	}
	return &session, nil
}

func encodeSession(session *domain.Session) (content, configs, log string, err error) {
	c, err := json.Marshal(session.Content)
	if err != nil {
		return "", "", "", fmt.Errorf("encode content: %w", err)
	}
	cfg, err := json.Marshal(session.Configs)
	if err != nil {
		return "", "", "", fmt.Errorf("encode configs: %w", err)
	}
	entries := session.Log
	if entries == nil {
		entries = domain.Log{}
	}
	l, err := json.Marshal(entries)
	if err != nil {
		return "", "", "", fmt.Errorf("encode log: %w", err)
	}
	return string(c), string(cfg), string(l), nil
}

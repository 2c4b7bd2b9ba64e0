// Package archive appends session lifecycle events to per-session NDJSON files.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ashureev/interviewd/internal/events"
)

// Subscriber provides the stream of lifecycle event messages.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// Record is one archived line.
type Record struct {
	events.Event
	ArchivedAt time.Time `json:"archived_at"`
}

// Archiver consumes lifecycle events and writes them under Dir/<session_id>.ndjson.
type Archiver struct {
	dir    string
	src    Subscriber
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates an Archiver writing into dir.
func New(dir string, src Subscriber, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Archiver{dir: dir, src: src, logger: logger}, nil
}

// Run archives events until ctx is cancelled or the subscription ends.
func (a *Archiver) Run(ctx context.Context) error {
	msgs, err := a.src.Subscribe(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Archive subscriber started", "dir", a.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			a.handle(msg)
		}
	}
}

func (a *Archiver) handle(msg *message.Message) {
	e, err := events.Decode(msg)
	if err != nil {
		// Undecodable messages would be redelivered forever.
		a.logger.Warn("Dropping undecodable event", "message_id", msg.UUID, "error", err)
		msg.Ack()
		return
	}

	if err := a.Write(e); err != nil {
		a.logger.Error("Failed to archive event", "session_id", e.SessionID, "type", e.Type, "error", err)
		msg.Nack()
		return
	}
	msg.Ack()
}

// Write appends e to its session's archive file.
func (a *Archiver) Write(e events.Event) error {
	name, err := fileName(e.SessionID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(Record{Event: e, ArchivedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(a.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write archive file: %w", err)
	}
	return f.Close()
}

// Path returns the archive file for sessionID.
func (a *Archiver) Path(sessionID string) (string, error) {
	name, err := fileName(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.dir, name), nil
}

func fileName(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("invalid session id %q for archive", sessionID)
	}
	return sessionID + ".ndjson", nil
}

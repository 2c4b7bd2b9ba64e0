package archive

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/events"
)

func TestArchiverWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	bus := events.NewMemoryBus("archive.test", nil)
	defer func() { _ = bus.Close() }()

	dir := t.TempDir()
	a, err := New(dir, bus, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	session := &domain.Session{ID: "sess-1", Kind: "questionnaire", Status: domain.StatusStarted}
	path, err := a.Path(session.ID)
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}

	// The subscription is established asynchronously; publish until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := bus.Publish(ctx, events.NewEvent(events.SessionStarted, session, nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if _, err := os.Stat(path); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	line := waitForLogLine(t, path)
	var got Record
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal archive line: %v", err)
	}
	if got.Type != events.SessionStarted || got.SessionID != "sess-1" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.ArchivedAt.IsZero() {
		t.Fatal("expected archived_at to be set")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not stop")
	}
}

func TestArchiverAppends(t *testing.T) {
	t.Parallel()

	a, err := New(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	session := &domain.Session{ID: "sess-2"}
	for _, typ := range []events.Type{events.SessionCreated, events.SessionInitiated, events.SessionEnded} {
		if err := a.Write(events.NewEvent(typ, session, nil)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	path, _ := a.Path("sess-2")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestArchiverRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	a, err := New(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, id := range []string{"", "..", "../escape", `a\b`} {
		if err := a.Write(events.Event{SessionID: id}); err == nil {
			t.Fatalf("expected error for session id %q", id)
		}
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for archive file %s", path)
	return ""
}

package cleanup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/lifecycle"
	"github.com/ashureev/interviewd/internal/store"
)

type staticLister struct {
	sessions []*domain.Session
	err      error
}

func (l staticLister) ListNonTerminal(context.Context) ([]*domain.Session, error) {
	return l.sessions, l.err
}

// recordingExpirer applies the worker's predicate to the listed record itself.
type recordingExpirer struct {
	sessions map[string]*domain.Session
	calls    map[string]domain.Status
}

func newRecordingExpirer(sessions []*domain.Session) *recordingExpirer {
	e := &recordingExpirer{sessions: make(map[string]*domain.Session), calls: make(map[string]domain.Status)}
	for _, s := range sessions {
		e.sessions[s.ID] = s
	}
	return e
}

func (e *recordingExpirer) ExpireIf(_ context.Context, id string, stale func(*domain.Session) bool) (bool, error) {
	s, ok := e.sessions[id]
	if !ok || !stale(s) {
		return false, nil
	}
	e.calls[id] = s.Status
	return true, nil
}

func TestWorker_SweepPolicy(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * time.Minute)
	recent := now.Add(-time.Minute)

	sessions := []*domain.Session{
		{ID: "new-old", Status: domain.StatusNew, CreatedAt: old, UpdatedAt: old},
		{ID: "new-recent", Status: domain.StatusNew, CreatedAt: recent, UpdatedAt: recent},
		{ID: "initiated-old", Status: domain.StatusInitiated, CreatedAt: old, UpdatedAt: recent},
		{ID: "started-active", Status: domain.StatusStarted, CreatedAt: old, UpdatedAt: recent},
		{ID: "started-idle", Status: domain.StatusStarted, CreatedAt: old, UpdatedAt: old},
	}

	exp := newRecordingExpirer(sessions)
	w := NewWorker(staticLister{sessions: sessions}, exp, time.Minute, Timeouts{domain.StatusNew: 5 * time.Minute})
	w.now = func() time.Time { return now }

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, map[string]domain.Status{
		"new-old":       domain.StatusNew,
		"initiated-old": domain.StatusInitiated,
		"started-idle":  domain.StatusStarted,
	}, exp.calls)
}

func TestWorker_SweepListError(t *testing.T) {
	w := NewWorker(staticLister{err: errors.New("db down")}, newRecordingExpirer(nil), time.Minute, nil)
	_, err := w.Sweep(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	w := NewWorker(staticLister{}, newRecordingExpirer(nil), 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_DoesNotOverrideProgress(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	lc := lifecycle.NewService(repo, nil, nil, lifecycle.Config{ExpiryWindow: time.Hour}, nil)
	s, err := lc.Create(ctx, "", domain.Content{}, domain.Configs{})
	require.NoError(t, err)
	_, err = lc.Initiate(ctx, s.ID, "", domain.Content{Questions: []domain.Question{
		{ID: "q1", Prompt: "Name?", AnswerType: domain.AnswerShortText},
	}}, domain.Configs{})
	require.NoError(t, err)

	// The sweep listed the session while initiated, then the client started it.
	snapshot, err := repo.ListNonTerminal(ctx)
	require.NoError(t, err)
	_, _, err = lc.BeginOrResume(ctx, s.ID)
	require.NoError(t, err)

	w := NewWorker(staticLister{sessions: snapshot}, lc, time.Minute, Timeouts{domain.StatusInitiated: time.Nanosecond})
	w.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, got.Status)
}

func TestWorker_DoesNotExpireSessionActiveSinceListing(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	lc := lifecycle.NewService(repo, nil, nil, lifecycle.Config{ExpiryWindow: time.Hour}, nil)
	s, err := lc.Create(ctx, "", domain.Content{Questions: []domain.Question{
		{ID: "q1", Prompt: "Name?", AnswerType: domain.AnswerShortText},
	}}, domain.Configs{})
	require.NoError(t, err)
	_, err = lc.Initiate(ctx, s.ID, "", domain.Content{}, domain.Configs{})
	require.NoError(t, err)
	_, _, err = lc.BeginOrResume(ctx, s.ID)
	require.NoError(t, err)

	// The sweep's copy looks idle for ten minutes.
	snapshot, err := repo.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	snapshot[0].UpdatedAt = time.Now().Add(-10 * time.Minute)

	// The client answers before the sweep writes.
	require.NoError(t, lc.AppendLog(ctx, s.ID, domain.LogEntry{
		Actor: domain.ActorUser, Text: "Ada", Timestamp: time.Now(), Status: domain.LogAnswered, QuestionID: "q1",
	}))

	w := NewWorker(staticLister{sessions: snapshot}, lc, time.Minute, Timeouts{domain.StatusStarted: 5 * time.Minute})

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStarted, got.Status)
	assert.Len(t, got.Log, 1)
}

func TestWorker_ExpiresIdleStartedSession(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	lc := lifecycle.NewService(repo, nil, nil, lifecycle.Config{ExpiryWindow: time.Hour}, nil)
	s, err := lc.Create(ctx, "", domain.Content{Questions: []domain.Question{
		{ID: "q1", Prompt: "Name?", AnswerType: domain.AnswerShortText},
	}}, domain.Configs{})
	require.NoError(t, err)
	_, err = lc.Initiate(ctx, s.ID, "", domain.Content{}, domain.Configs{})
	require.NoError(t, err)
	_, _, err = lc.BeginOrResume(ctx, s.ID)
	require.NoError(t, err)

	snapshot, err := repo.ListNonTerminal(ctx)
	require.NoError(t, err)

	w := NewWorker(staticLister{sessions: snapshot}, lc, time.Minute, Timeouts{domain.StatusStarted: 5 * time.Minute})
	w.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	n, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
}

// Package lifecycle governs session status transitions and the creation-time expiry window.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/events"
	"github.com/ashureev/interviewd/internal/notify"
	"github.com/ashureev/interviewd/internal/store"
)

// DefaultExpiryWindow is how long a session may wait after creation before it must be started.
const DefaultExpiryWindow = 5 * time.Minute

// Dispatcher delivers completion notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, session *domain.Session) notify.Results
}

// Config configures a Service.
type Config struct {
	ExpiryWindow time.Duration
	// Supports reports whether a session kind is known. Nil accepts any kind.
	Supports func(kind string) bool
}

// Service owns every status transition of a session. Mutations of one session are
// serialized by a per-session lock; different sessions never contend.
type Service struct {
	repo       store.Repository
	dispatcher Dispatcher
	publisher  events.Publisher
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock

	mu       sync.RWMutex
	onExpire []func(sessionID string)
}

// NewService creates a lifecycle service. dispatcher and publisher may be nil.
func NewService(repo store.Repository, dispatcher Dispatcher, publisher events.Publisher, cfg Config, logger *slog.Logger) *Service {
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = DefaultExpiryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*sessionLock),
	}
}

// OnExpire registers fn to run after any session is moved to expired. fn may run
// while the session lock is held and must not call back into the Service.
func (s *Service) OnExpire(fn func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = append(s.onExpire, fn)
}

// sessionLock is a per-session mutex shared by every caller currently holding
// or waiting for it. The entry is dropped when refs reaches zero.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the session lock and returns its release func, which must be
// called exactly once.
func (s *Service) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) load(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return session, nil
}

// Get returns the stored session.
func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.load(ctx, id)
}

// Create stores a new session in status new.
func (s *Service) Create(ctx context.Context, kind string, content domain.Content, configs domain.Configs) (*domain.Session, error) {
	if err := s.checkKind(kind); err != nil {
		return nil, err
	}
	if len(content.Questions) > 0 {
		if err := content.Validate(); err != nil {
			return nil, err
		}
	}
	if err := configs.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    domain.StatusNew,
		Content:   content,
		Configs:   configs,
		Log:       domain.Log{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("Session created", "session_id", session.ID, "kind", kind)
	s.publish(ctx, events.SessionCreated, session, nil)
	return session, nil
}

// Initiate validates and merges content and configs into a new or initiated session
// and moves it to initiated.
func (s *Service) Initiate(ctx context.Context, id, kind string, content domain.Content, configs domain.Configs) (*domain.Session, error) {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case domain.StatusExpired:
		return nil, fmt.Errorf("%w: %s", domain.ErrExpired, id)
	case domain.StatusStarted, domain.StatusEnded:
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrInvalidState, id, session.Status)
	}

	if session.ExpiredAt(s.now(), s.cfg.ExpiryWindow) {
		return nil, s.expireLocked(ctx, session)
	}

	if kind != "" {
		if err := s.checkKind(kind); err != nil {
			return nil, err
		}
		session.Kind = kind
	}
	merged := session.Content.Merge(content)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	mergedConfigs := session.Configs.Merge(configs)
	if err := mergedConfigs.Validate(); err != nil {
		return nil, err
	}
	session.Content = merged
	session.Configs = mergedConfigs

	now := s.now()
	if session.Status == domain.StatusNew {
		if err := session.Transition(domain.StatusInitiated, now); err != nil {
			return nil, err
		}
	} else {
		session.UpdatedAt = now
	}

	if err := s.repo.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("persist initiated session: %w", err)
	}

	s.logger.Info("Session initiated", "session_id", id, "questions", len(merged.Questions))
	s.publish(ctx, events.SessionInitiated, session, map[string]any{"questions": len(merged.Questions)})
	return session, nil
}

// BeginOrResume moves an initiated session to started, or returns a started
// session unchanged so a client can reconnect. The second result reports whether
// the session was already started.
func (s *Service) BeginOrResume(ctx context.Context, id string) (*domain.Session, bool, error) {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return nil, false, err
	}

	switch session.Status {
	case domain.StatusStarted:
		return session, true, nil
	case domain.StatusExpired:
		return nil, false, fmt.Errorf("%w: %s", domain.ErrExpired, id)
	case domain.StatusEnded:
		return nil, false, fmt.Errorf("%w: session %s already ended", domain.ErrInvalidState, id)
	}

	if session.ExpiredAt(s.now(), s.cfg.ExpiryWindow) {
		return nil, false, s.expireLocked(ctx, session)
	}

	if session.Status == domain.StatusNew {
		return nil, false, fmt.Errorf("%w: session %s must be initiated first", domain.ErrInvalidState, id)
	}

	if err := session.Transition(domain.StatusStarted, s.now()); err != nil {
		return nil, false, err
	}
	if err := s.repo.Put(ctx, session); err != nil {
		return nil, false, fmt.Errorf("persist started session: %w", err)
	}

	s.logger.Info("Session started", "session_id", id)
	s.publish(ctx, events.SessionStarted, session, nil)
	return session, false, nil
}

// Complete records summary and ends a started session, then dispatches
// notifications. A session that is already terminal is returned as is and
// nothing is sent again.
func (s *Service) Complete(ctx context.Context, id string, summary *domain.Summary) (*domain.Session, error) {
	unlock := s.lock(id)

	session, err := s.load(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}
	if session.Status.IsTerminal() {
		unlock()
		s.logger.Debug("Complete on terminal session ignored", "session_id", id, "status", session.Status)
		return session, nil
	}

	session.Content.Summary = summary
	if err := session.Transition(domain.StatusEnded, s.now()); err != nil {
		unlock()
		return nil, err
	}
	if err := s.repo.Put(ctx, session); err != nil {
		unlock()
		return nil, fmt.Errorf("persist ended session: %w", err)
	}
	unlock()

	s.logger.Info("Session ended", "session_id", id)

	var data map[string]any
	if s.dispatcher != nil {
		results := s.dispatcher.Dispatch(ctx, session.Clone())
		data = map[string]any{"notifications": results.Attempts}
	}
	s.publish(ctx, events.SessionEnded, session, data)
	return session, nil
}

// Expire moves a session to expired only if it is still in observed. It reports
// whether the session was expired by this call.
func (s *Service) Expire(ctx context.Context, id string, observed domain.Status) (bool, error) {
	return s.ExpireIf(ctx, id, func(current *domain.Session) bool {
		return current.Status == observed
	})
}

// ExpireIf moves a non-terminal session to expired when stale, evaluated on the
// stored record under the session lock, still holds. It reports whether the
// session was expired by this call.
func (s *Service) ExpireIf(ctx context.Context, id string, stale func(current *domain.Session) bool) (bool, error) {
	unlock := s.lock(id)

	session, err := s.load(ctx, id)
	if err != nil {
		unlock()
		return false, err
	}
	if session.Status.IsTerminal() || !stale(session) {
		unlock()
		s.logger.Debug("Expire skipped, session moved on",
			"session_id", id, "status", session.Status, "updated_at", session.UpdatedAt)
		return false, nil
	}

	if err := session.Transition(domain.StatusExpired, s.now()); err != nil {
		unlock()
		return false, err
	}
	if err := s.repo.Put(ctx, session); err != nil {
		unlock()
		return false, fmt.Errorf("persist expired session: %w", err)
	}
	unlock()

	s.afterExpire(ctx, session)
	return true, nil
}

// expireLocked persists expiry for a session whose window has elapsed and returns
// the error to hand back to the caller. The session lock must be held.
func (s *Service) expireLocked(ctx context.Context, session *domain.Session) error {
	if err := session.Transition(domain.StatusExpired, s.now()); err != nil {
		return err
	}
	if err := s.repo.Put(ctx, session); err != nil {
		return fmt.Errorf("persist expired session: %w", err)
	}
	s.afterExpire(ctx, session)
	return fmt.Errorf("%w: %s", domain.ErrExpired, session.ID)
}

func (s *Service) afterExpire(ctx context.Context, session *domain.Session) {
	s.logger.Info("Session expired", "session_id", session.ID)
	s.publish(ctx, events.SessionExpired, session, nil)

	s.mu.RLock()
	callbacks := append([]func(string){}, s.onExpire...)
	s.mu.RUnlock()
	for _, fn := range callbacks {
		fn(session.ID)
	}
}

// AppendLog adds entries to the session's persisted log, coalescing repeats.
func (s *Service) AppendLog(ctx context.Context, id string, entries ...domain.LogEntry) error {
	unlock := s.lock(id)
	defer unlock()

	session, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		session.Log.Append(e)
	}
	session.UpdatedAt = s.now()

	if err := s.repo.Put(ctx, session); err != nil {
		return fmt.Errorf("persist log: %w", err)
	}
	return nil
}

func (s *Service) checkKind(kind string) error {
	if kind == "" || s.cfg.Supports == nil || s.cfg.Supports(kind) {
		return nil
	}
	return fmt.Errorf("%w: unknown session kind %q", domain.ErrInvalidContent, kind)
}

func (s *Service) publish(ctx context.Context, t events.Type, session *domain.Session, data map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), events.NewEvent(t, session, data)); err != nil {
		s.logger.Warn("Failed to publish lifecycle event", "session_id", session.ID, "type", t, "error", err)
	}
}

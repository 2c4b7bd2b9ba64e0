// Package notify delivers completion notifications by email and webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/interviewd/internal/domain"
)

// Mailer sends one email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// WebhookPoster posts one JSON payload.
type WebhookPoster interface {
	PostWebhook(ctx context.Context, url string, payload any) error
}

// Payload is the body delivered for a completed session.
type Payload struct {
	SessionID   string          `json:"session_id"`
	SessionType string          `json:"session_type"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Status      domain.Status   `json:"status"`
	Summary     *domain.Summary `json:"summary,omitempty"`
	Content     domain.Content  `json:"content"`
}

// NewPayload builds the notification body for session.
func NewPayload(session *domain.Session) Payload {
	return Payload{
		SessionID:   session.ID,
		SessionType: session.Kind,
		CreatedAt:   session.CreatedAt.UTC(),
		CompletedAt: session.UpdatedAt.UTC(),
		Status:      session.Status,
		Summary:     session.Content.Summary,
		Content:     session.Content,
	}
}

// Channel identifies a delivery mechanism.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

// Attempt is the outcome of delivering to one target.
type Attempt struct {
	Channel Channel `json:"channel"`
	Target  string  `json:"target"`
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
}

// Results collects every attempt made for one session.
type Results struct {
	Attempts []Attempt `json:"attempts"`
}

// Failed returns the number of unsuccessful attempts.
func (r Results) Failed() int {
	n := 0
	for _, a := range r.Attempts {
		if !a.OK {
			n++
		}
	}
	return n
}

// Dispatcher fans a completion out to every configured target.
type Dispatcher struct {
	mailer  Mailer
	webhook WebhookPoster
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. Either sender may be nil, in which case its
// targets are recorded as failed.
func NewDispatcher(mailer Mailer, webhook WebhookPoster, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{mailer: mailer, webhook: webhook, logger: logger}
}

// Dispatch delivers to every email recipient and the webhook independently. One
// failing target never stops the others, and failures are only logged and recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, session *domain.Session) Results {
	payload := NewPayload(session)

	var (
		mu      sync.Mutex
		results Results
	)
	record := func(a Attempt) {
		mu.Lock()
		results.Attempts = append(results.Attempts, a)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(4)

	for _, to := range session.Configs.Emails {
		g.Go(func() error {
			record(d.attempt(ChannelEmail, to, session.ID, func() error {
				if d.mailer == nil {
					return fmt.Errorf("%w: no mailer configured", domain.ErrNotification)
				}
				subject, body, err := renderEmail(payload)
				if err != nil {
					return err
				}
				return d.mailer.SendEmail(ctx, to, subject, body)
			}))
			return nil
		})
	}

	if url := session.Configs.WebhookURL; url != "" {
		g.Go(func() error {
			record(d.attempt(ChannelWebhook, url, session.ID, func() error {
				if d.webhook == nil {
					return fmt.Errorf("%w: no webhook client configured", domain.ErrNotification)
				}
				return d.webhook.PostWebhook(ctx, url, payload)
			}))
			return nil
		})
	}

	_ = g.Wait()

	if len(results.Attempts) == 0 {
		d.logger.Info("No notification targets configured", "session_id", session.ID)
	} else {
		d.logger.Info("Notifications dispatched",
			"session_id", session.ID,
			"attempts", len(results.Attempts),
			"failed", results.Failed())
	}
	return results
}

func (d *Dispatcher) attempt(ch Channel, target, sessionID string, send func() error) (a Attempt) {
	a = Attempt{Channel: ch, Target: target}
	defer func() {
		if r := recover(); r != nil {
			a.OK = false
			a.Error = fmt.Sprintf("panic: %v", r)
			d.logger.Error("Notification panicked", "session_id", sessionID, "channel", ch, "panic", r)
		}
	}()

	if err := send(); err != nil {
		a.Error = err.Error()
		d.logger.Warn("Notification failed",
			"session_id", sessionID,
			"channel", ch,
			"target", target,
			"error", err)
		return a
	}
	a.OK = true
	return a
}

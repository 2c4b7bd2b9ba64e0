package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent map[string]string
	fail map[string]bool
}

func (m *fakeMailer) SendEmail(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[to] {
		return errors.New("mailbox unavailable")
	}
	if m.sent == nil {
		m.sent = make(map[string]string)
	}
	m.sent[to] = subject
	return nil
}

func completedSession() *domain.Session {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Session{
		ID:     "s-1",
		Kind:   "questionnaire",
		Status: domain.StatusEnded,
		Content: domain.Content{
			Questions: []domain.Question{{ID: "q1", Prompt: "Name?", AnswerType: domain.AnswerShortText}},
			Summary: &domain.Summary{
				Responses:      []domain.Response{{QuestionID: "q1", Question: "Name?", Answer: "<b>John</b>"}},
				QuestionsAsked: 1,
				TotalQuestions: 1,
			},
		},
		CreatedAt: created,
		UpdatedAt: created.Add(3 * time.Minute),
	}
}

func TestDispatcher_FailuresAreIndependent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mailer := &fakeMailer{fail: map[string]bool{"bad@example.com": true}}
	d := NewDispatcher(mailer, NewWebhookClient(time.Second), nil)

	s := completedSession()
	s.Configs = domain.Configs{WebhookURL: srv.URL, Emails: []string{"bad@example.com", "good@example.com"}}

	res := d.Dispatch(context.Background(), s)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, 2, res.Failed())
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "Session s-1 completed", mailer.sent["good@example.com"])
}

func TestDispatcher_NoTargets(t *testing.T) {
	res := NewDispatcher(nil, nil, nil).Dispatch(context.Background(), completedSession())
	assert.Empty(t, res.Attempts)
}

func TestDispatcher_MissingSenderRecordsFailure(t *testing.T) {
	s := completedSession()
	s.Configs = domain.Configs{Emails: []string{"a@example.com"}, WebhookURL: "https://example.com/hook"}

	res := NewDispatcher(nil, nil, nil).Dispatch(context.Background(), s)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, 2, res.Failed())
}

func TestWebhookClient_PostsPayload(t *testing.T) {
	type capture struct {
		ua      string
		payload Payload
	}
	captured := make(chan capture, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c capture
		c.ua = r.Header.Get("User-Agent")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &c.payload)
		captured <- c
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhookClient(time.Second).PostWebhook(context.Background(), srv.URL, NewPayload(completedSession()))
	require.NoError(t, err)
	c := <-captured
	got := c.payload
	assert.Equal(t, userAgent, c.ua)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "questionnaire", got.SessionType)
	assert.Equal(t, 1, got.Summary.QuestionsAsked)
}

func TestWebhookClient_RejectsOtherStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookClient(time.Second).PostWebhook(context.Background(), srv.URL, map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotification)
}

func TestSMTPMailer_SendEmail(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "bot@example.com", Password: "pw"})

	var gotAddr, gotFrom string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotMsg = addr, from, msg
		return nil
	}

	_, body, err := renderEmail(NewPayload(completedSession()))
	require.NoError(t, err)
	require.NoError(t, m.SendEmail(context.Background(), "ops@example.com", "Session s-1 completed", body))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	msg := string(gotMsg)
	assert.Contains(t, msg, "To: ops@example.com\r\n")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.Contains(t, msg, "&lt;b&gt;John&lt;/b&gt;")
}

func TestSMTPMailer_Guards(t *testing.T) {
	assert.ErrorIs(t, NewSMTPMailer(SMTPConfig{}).SendEmail(context.Background(), "a@example.com", "s", "b"), domain.ErrNotification)

	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 25, From: "bot@example.com"})
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay denied") }
	err := m.SendEmail(context.Background(), "a@example.com", "s", "b")
	assert.ErrorIs(t, err, domain.ErrNotification)
	assert.True(t, strings.Contains(err.Error(), "relay denied"))

	err = m.SendEmail(context.Background(), "a@example.com\r\nBcc: x@example.com", "s", "b")
	assert.ErrorIs(t, err, domain.ErrNotification)
}

// Package domain contains core domain types for the interview service.
package domain

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// Status is the coarse lifecycle status of a session.
type Status string

const (
	StatusNew       Status = "new"
	StatusInitiated Status = "initiated"
	StatusStarted   Status = "started"
	StatusEnded     Status = "ended"
	StatusExpired   Status = "expired"
)

// transitions lists the statuses reachable from each non-terminal status.
var transitions = map[Status][]Status{
	StatusNew:       {StatusInitiated, StatusExpired},
	StatusInitiated: {StatusStarted, StatusExpired},
	StatusStarted:   {StatusEnded, StatusExpired},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusExpired
}

// CanTransition reports whether moving from s to next keeps the status moving forward.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInitiated, StatusStarted, StatusEnded, StatusExpired:
		return true
	}
	return false
}

// Session is the durable record of one interview.
type Session struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    Status    `json:"status"`
	Content   Content   `json:"content"`
	Configs   Configs   `json:"configs"`
	Log       Log       `json:"log"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition moves the session to next, refusing any move that is not forward.
func (s *Session) Transition(next Status, now time.Time) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}

// ExpiredAt reports whether the creation-time window has elapsed at now.
func (s *Session) ExpiredAt(now time.Time, window time.Duration) bool {
	return now.Sub(s.CreatedAt) > window
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.Content = s.Content.clone()
	c.Configs = s.Configs.clone()
	c.Log = append(Log(nil), s.Log...)
	return &c
}

// Content is the interview material: questions plus free-form presentation fields.
type Content struct {
	WelcomeMessage string         `json:"welcome_message,omitempty"`
	ClientName     string         `json:"client_name,omitempty"`
	Questions      []Question     `json:"questions,omitempty"`
	Summary        *Summary       `json:"summary,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

func (c Content) clone() Content {
	out := c
	out.Questions = make([]Question, len(c.Questions))
	for i, q := range c.Questions {
		out.Questions[i] = q
		out.Questions[i].Options = append([]string(nil), q.Options...)
	}
	if c.Summary != nil {
		sum := *c.Summary
		sum.Responses = append([]Response(nil), c.Summary.Responses...)
		out.Summary = &sum
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Merge overlays the non-empty fields of update onto c.
func (c Content) Merge(update Content) Content {
	out := c.clone()
	if update.WelcomeMessage != "" {
		out.WelcomeMessage = update.WelcomeMessage
	}
	if update.ClientName != "" {
		out.ClientName = update.ClientName
	}
	if len(update.Questions) > 0 {
		out.Questions = update.clone().Questions
	}
	for k, v := range update.Extra {
		if out.Extra == nil {
			out.Extra = make(map[string]any)
		}
		out.Extra[k] = v
	}
	return out
}

// Validate checks the question list is usable for an interview.
func (c Content) Validate() error {
	if len(c.Questions) == 0 {
		return fmt.Errorf("%w: question list is empty", ErrInvalidContent)
	}
	seen := make(map[string]struct{}, len(c.Questions))
	for i, q := range c.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidContent, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// AnswerType selects the input control used for a question.
type AnswerType string

const (
	AnswerShortText      AnswerType = "short_text"
	AnswerLongText       AnswerType = "long_text"
	AnswerMultipleChoice AnswerType = "multiple_choice"
	AnswerSingleChoice   AnswerType = "single_choice"
)

// IsChoice reports whether the type requires options.
func (t AnswerType) IsChoice() bool {
	return t == AnswerMultipleChoice || t == AnswerSingleChoice
}

// Question is one prompt in the ordered interview.
type Question struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	AnswerType AnswerType `json:"answerType"`
	Options    []string   `json:"options,omitempty"`
}

// Validate checks the question is complete and its options match its type.
func (q Question) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidContent)
	}
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Errorf("%w: question %q has no prompt", ErrInvalidContent, q.ID)
	}
	switch q.AnswerType {
	case AnswerShortText, AnswerLongText:
	case AnswerMultipleChoice, AnswerSingleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %q needs at least 2 options", ErrInvalidContent, q.ID)
		}
	default:
		return fmt.Errorf("%w: question %q has unknown answer type %q", ErrInvalidContent, q.ID, q.AnswerType)
	}
	return nil
}

// Response is one accepted answer.
type Response struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

// Summary is the result of a completed conversation.
type Summary struct {
	Responses      []Response `json:"responses"`
	QuestionsAsked int        `json:"questions_asked"`
	TotalQuestions int        `json:"total_questions"`
}

// Configs holds notification targets and UI hints.
type Configs struct {
	WebhookURL string         `json:"webhook,omitempty"`
	Emails     []string       `json:"emails,omitempty"`
	Avatar     bool           `json:"avatar,omitempty"`
	UI         map[string]any `json:"ui,omitempty"`
}

func (c Configs) clone() Configs {
	out := c
	out.Emails = append([]string(nil), c.Emails...)
	if c.UI != nil {
		out.UI = make(map[string]any, len(c.UI))
		for k, v := range c.UI {
			out.UI[k] = v
		}
	}
	return out
}

// Merge overlays the set fields of update onto c.
func (c Configs) Merge(update Configs) Configs {
	out := c.clone()
	if update.WebhookURL != "" {
		out.WebhookURL = update.WebhookURL
	}
	if len(update.Emails) > 0 {
		out.Emails = append([]string(nil), update.Emails...)
	}
	if update.Avatar {
		out.Avatar = true
	}
	for k, v := range update.UI {
		if out.UI == nil {
			out.UI = make(map[string]any)
		}
		out.UI[k] = v
	}
	return out
}

// Validate checks notification targets are well formed.
func (c Configs) Validate() error {
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: invalid webhook url %q", ErrInvalidContent, c.WebhookURL)
		}
	}
	for _, addr := range c.Emails {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: invalid email %q", ErrInvalidContent, addr)
		}
	}
	return nil
}

// Package conversation implements the per-session question/answer state machine.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/evaluator"
)

// Message is one outbound agent turn.
type Message struct {
	Content    string
	IsComplete bool
	// Question carries the input metadata for the question the client should answer next.
	Question *domain.Question
	Summary  *domain.Summary
}

// Recorder persists log entries for a session.
type Recorder interface {
	AppendLog(ctx context.Context, sessionID string, entries ...domain.LogEntry) error
}

// Engine drives one session's conversation.
type Engine interface {
	// Start returns the opening message. Calling it again returns the same message
	// without recording anything.
	Start(ctx context.Context) (Message, error)
	// Submit evaluates an answer to the pending question and returns the reply.
	Submit(ctx context.Context, answer string) (Message, error)
	// Started reports whether the opening message has been produced.
	Started() bool
	IsComplete() bool
	Summary() *domain.Summary
	// Pending returns the question awaiting an answer, or nil when complete.
	Pending() *domain.Question
	// History returns the conversation so far in order.
	History() []domain.LogEntry
}

// Interview is the Engine implementation shared by every kind; kinds differ only in texts.
type Interview struct {
	sessionID  string
	kind       string
	clientName string
	welcome    string
	texts      Texts
	questions  []domain.Question

	index              int
	responses          []domain.Response
	needsClarification bool
	complete           bool
	started            bool
	opening            Message
	history            domain.Log

	eval     evaluator.Evaluator
	recorder Recorder
	now      func() time.Time
}

var _ Engine = (*Interview)(nil)

// Kind returns the variant this engine speaks as.
func (e *Interview) Kind() string { return e.kind }

// Started reports whether the opening message has been produced.
func (e *Interview) Started() bool { return e.started }

// IsComplete reports whether every question has an accepted answer.
func (e *Interview) IsComplete() bool { return e.complete }

// NeedsClarification reports whether the last answer was rejected.
func (e *Interview) NeedsClarification() bool { return e.needsClarification }

// Index returns the position of the pending question.
func (e *Interview) Index() int { return e.index }

// Pending returns the question awaiting an answer.
func (e *Interview) Pending() *domain.Question {
	if e.complete || e.index >= len(e.questions) {
		return nil
	}
	q := e.questions[e.index]
	return &q
}

// History returns a copy of the conversation so far.
func (e *Interview) History() []domain.LogEntry {
	return append([]domain.LogEntry(nil), e.history...)
}

// Summary returns the result once complete, nil before.
func (e *Interview) Summary() *domain.Summary {
	if !e.complete {
		return nil
	}
	return &domain.Summary{
		Responses:      append([]domain.Response(nil), e.responses...),
		QuestionsAsked: len(e.responses),
		TotalQuestions: len(e.questions),
	}
}

// Start produces the welcome text followed by the first question.
func (e *Interview) Start(ctx context.Context) (Message, error) {
	if e.started {
		return e.opening, nil
	}

	q := e.Pending()
	welcome := e.welcome
	if welcome == "" {
		welcome = e.texts.Welcome
	}
	msg := Message{
		Content:  render(welcome, e.clientName, nil, "") + "\n\n" + q.Prompt,
		Question: q,
	}

	entry := domain.LogEntry{
		Actor:      domain.ActorAgent,
		Text:       msg.Content,
		Timestamp:  e.now(),
		Status:     domain.LogAnswered,
		QuestionID: q.ID,
	}
	if err := e.record(ctx, entry); err != nil {
		return Message{}, err
	}

	e.started = true
	e.opening = msg
	return msg, nil
}

// Submit evaluates answer against the pending question.
func (e *Interview) Submit(ctx context.Context, answer string) (Message, error) {
	if e.complete {
		return Message{
			Content:    render(e.texts.Finished, e.clientName, nil, ""),
			IsComplete: true,
			Summary:    e.Summary(),
		}, nil
	}

	q := e.questions[e.index]
	verdict, err := e.eval.Evaluate(ctx, q, answer)
	if err != nil {
		verdict = evaluator.Reject(evaluator.FallbackReason)
	}

	now := e.now()
	user := domain.LogEntry{Actor: domain.ActorUser, Text: answer, Timestamp: now, QuestionID: q.ID}

	var msg Message
	if verdict.Accepted {
		user.Status = domain.LogAnswered
		e.responses = append(e.responses, domain.Response{QuestionID: q.ID, Question: q.Prompt, Answer: answer})
		e.needsClarification = false
		e.index++

		if next := e.Pending(); next != nil {
			msg = Message{Content: render(e.texts.NextQuestion, e.clientName, next, ""), Question: next}
		} else {
			e.complete = true
			msg = Message{
				Content:    render(e.texts.Closing, e.clientName, nil, ""),
				IsComplete: true,
				Summary:    e.Summary(),
			}
		}
	} else {
		user.Status = domain.LogRetried
		e.needsClarification = true
		msg = Message{Content: render(e.texts.Clarify, e.clientName, &q, verdict.Reason), Question: &q}
	}

	agent := domain.LogEntry{Actor: domain.ActorAgent, Text: msg.Content, Timestamp: now, Status: domain.LogAnswered}
	if msg.Question != nil {
		agent.QuestionID = msg.Question.ID
	}
	if err := e.record(ctx, user, agent); err != nil {
		return msg, err
	}
	return msg, nil
}

func (e *Interview) record(ctx context.Context, entries ...domain.LogEntry) error {
	for _, entry := range entries {
		e.history.Append(entry)
	}
	if e.recorder == nil {
		return nil
	}
	if err := e.recorder.AppendLog(ctx, e.sessionID, entries...); err != nil {
		return fmt.Errorf("record conversation log: %w", err)
	}
	return nil
}

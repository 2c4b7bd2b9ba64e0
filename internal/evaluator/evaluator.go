// Package evaluator judges whether a submitted answer is acceptable for a question.
package evaluator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
)

// FallbackReason is the clarification shown when the judge itself fails.
const FallbackReason = "Sorry, I could not check that answer. Could you rephrase it?"

// Verdict is the tagged result of evaluating one answer.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Accept returns an accepting verdict.
func Accept() Verdict { return Verdict{Accepted: true} }

// Reject returns a rejecting verdict carrying reason.
func Reject(reason string) Verdict { return Verdict{Reason: reason} }

// Evaluator judges an answer against a question.
type Evaluator interface {
	Evaluate(ctx context.Context, q domain.Question, answer string) (Verdict, error)
}

// Guarded bounds an Evaluator with a timeout and turns its failures into a
// rejection with FallbackReason, so a broken judge never ends a conversation.
type Guarded struct {
	inner   Evaluator
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuarded wraps inner. A non-positive timeout disables the deadline.
func NewGuarded(inner Evaluator, timeout time.Duration, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: inner, timeout: timeout, logger: logger}
}

// Evaluate never returns an error. The call is detached from ctx cancellation so a
// client disconnect does not abort a judgement already in flight.
func (g *Guarded) Evaluate(ctx context.Context, q domain.Question, answer string) (Verdict, error) {
	callCtx := context.WithoutCancel(ctx)
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
		defer cancel()
	}

	v, err := g.inner.Evaluate(callCtx, q, answer)
	if err != nil {
		g.logger.Warn("answer evaluation failed", "question_id", q.ID, "error", err)
		return Reject(FallbackReason), nil
	}
	if !v.Accepted && v.Reason == "" {
		v.Reason = FallbackReason
	}
	return v, nil
}

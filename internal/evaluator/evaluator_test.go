package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
)

type evaluatorFunc func(ctx context.Context, q domain.Question, answer string) (Verdict, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, q domain.Question, answer string) (Verdict, error) {
	return f(ctx, q, answer)
}

func TestHeuristic_Evaluate(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()

	short := domain.Question{ID: "q1", Prompt: "Age?", AnswerType: domain.AnswerShortText}
	long := domain.Question{ID: "q2", Prompt: "Describe", AnswerType: domain.AnswerLongText}
	single := domain.Question{ID: "q3", Prompt: "Pick", AnswerType: domain.AnswerSingleChoice, Options: []string{"Red", "Blue"}}
	multi := domain.Question{ID: "q4", Prompt: "Pick many", AnswerType: domain.AnswerMultipleChoice, Options: []string{"Go", "Rust", "Zig"}}

	tests := []struct {
		name   string
		q      domain.Question
		answer string
		accept bool
	}{
		{"short text accepted", short, "25", true},
		{"blank rejected", short, "   ", false},
		{"long text too short", long, "meh", false},
		{"long text accepted", long, "I have built several services.", true},
		{"single choice case insensitive", single, "blue", true},
		{"single choice unknown", single, "green", false},
		{"multiple choice subset", multi, "go, zig", true},
		{"multiple choice unknown member", multi, "go, java", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := h.Evaluate(ctx, tt.q, tt.answer)
			require.NoError(t, err)
			assert.Equal(t, tt.accept, v.Accepted)
			if !tt.accept {
				assert.NotEmpty(t, v.Reason)
			}
		})
	}
}

func TestGuarded_FailureBecomesRejection(t *testing.T) {
	inner := evaluatorFunc(func(context.Context, domain.Question, string) (Verdict, error) {
		return Verdict{}, domain.ErrEvaluator
	})
	g := NewGuarded(inner, time.Second, nil)

	v, err := g.Evaluate(context.Background(), domain.Question{ID: "q1"}, "x")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, FallbackReason, v.Reason)
}

func TestGuarded_Timeout(t *testing.T) {
	inner := evaluatorFunc(func(ctx context.Context, _ domain.Question, _ string) (Verdict, error) {
		<-ctx.Done()
		return Verdict{}, ctx.Err()
	})
	g := NewGuarded(inner, 20*time.Millisecond, nil)

	start := time.Now()
	v, err := g.Evaluate(context.Background(), domain.Question{ID: "q1"}, "x")
	require.NoError(t, err)
	assert.Equal(t, FallbackReason, v.Reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuarded_IgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := evaluatorFunc(func(ctx context.Context, _ domain.Question, _ string) (Verdict, error) {
		if ctx.Err() != nil {
			return Verdict{}, errors.New("cancelled")
		}
		return Accept(), nil
	})
	v, err := NewGuarded(inner, time.Second, nil).Evaluate(ctx, domain.Question{ID: "q1"}, "x")
	require.NoError(t, err)
	assert.True(t, v.Accepted)
}

func TestGuarded_FillsEmptyReason(t *testing.T) {
	inner := evaluatorFunc(func(context.Context, domain.Question, string) (Verdict, error) {
		return Verdict{}, nil
	})
	v, _ := NewGuarded(inner, 0, nil).Evaluate(context.Background(), domain.Question{}, "x")
	assert.Equal(t, FallbackReason, v.Reason)
}

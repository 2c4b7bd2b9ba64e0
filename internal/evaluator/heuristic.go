package evaluator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/interviewd/internal/domain"
)

const (
	reasonEmpty    = "Please provide an answer."
	reasonDetailed = "Please provide a more detailed response."
)

// Heuristic is a local rule-based judge used when no remote evaluator is configured.
type Heuristic struct {
	// LongTextMin is the minimum rune count for long_text answers.
	LongTextMin int
}

// NewHeuristic returns a Heuristic with default thresholds.
func NewHeuristic() *Heuristic {
	return &Heuristic{LongTextMin: 10}
}

// Evaluate applies the answer type's rules to answer.
func (h *Heuristic) Evaluate(_ context.Context, q domain.Question, answer string) (Verdict, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Reject(reasonEmpty), nil
	}

	switch q.AnswerType {
	case domain.AnswerShortText:
		return Accept(), nil
	case domain.AnswerLongText:
		if utf8.RuneCountInString(answer) < h.LongTextMin {
			return Reject(reasonDetailed), nil
		}
		return Accept(), nil
	case domain.AnswerSingleChoice:
		if _, ok := matchOption(q.Options, answer); !ok {
			return Reject(fmt.Sprintf("Please choose one of: %s.", strings.Join(q.Options, ", "))), nil
		}
		return Accept(), nil
	case domain.AnswerMultipleChoice:
		for _, part := range strings.Split(answer, ",") {
			if _, ok := matchOption(q.Options, strings.TrimSpace(part)); !ok {
				return Reject(fmt.Sprintf("Please choose from: %s.", strings.Join(q.Options, ", "))), nil
			}
		}
		return Accept(), nil
	default:
		return Verdict{}, fmt.Errorf("%w: unknown answer type %q", domain.ErrInvalidContent, q.AnswerType)
	}
}

func matchOption(options []string, answer string) (string, bool) {
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return opt, true
		}
	}
	return "", false
}

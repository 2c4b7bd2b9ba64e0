package conversation

import (
	"fmt"
	"time"

	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/evaluator"
)

// Factory builds engines for sessions, choosing texts by session kind.
type Factory struct {
	catalog  Catalog
	eval     evaluator.Evaluator
	recorder Recorder
	now      func() time.Time
}

// NewFactory creates a Factory. A nil catalog means the builtin one.
func NewFactory(catalog Catalog, eval evaluator.Evaluator, recorder Recorder) *Factory {
	if catalog == nil {
		catalog = BuiltinCatalog()
	}
	return &Factory{catalog: catalog, eval: eval, recorder: recorder, now: time.Now}
}

// Supports reports whether kind names a known variant. The empty kind maps to DefaultKind.
func (f *Factory) Supports(kind string) bool {
	if kind == "" {
		kind = DefaultKind
	}
	_, ok := f.catalog[kind]
	return ok
}

// New builds a fresh engine positioned at the first question.
func (f *Factory) New(session *domain.Session) (*Interview, error) {
	kind := session.Kind
	if kind == "" {
		kind = DefaultKind
	}
	texts, ok := f.catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown session kind %q", domain.ErrInvalidContent, session.Kind)
	}
	if len(session.Content.Questions) == 0 {
		return nil, fmt.Errorf("%w: session %s has no questions", domain.ErrInvalidContent, session.ID)
	}

	return &Interview{
		sessionID:  session.ID,
		kind:       kind,
		clientName: session.Content.ClientName,
		welcome:    session.Content.WelcomeMessage,
		texts:      texts,
		questions:  append([]domain.Question(nil), session.Content.Questions...),
		eval:       f.eval,
		recorder:   f.recorder,
		now:        f.now,
	}, nil
}

// Resume rebuilds an engine from a session's persisted log. Accepted answers
// advance the cursor in order; the history is taken verbatim.
func (f *Factory) Resume(session *domain.Session) (*Interview, error) {
	e, err := f.New(session)
	if err != nil {
		return nil, err
	}

	e.history = append(domain.Log(nil), session.Log...)
	for _, entry := range session.Log {
		if entry.Actor == domain.ActorAgent {
			if !e.started {
				first := e.questions[0]
				e.started = true
				e.opening = Message{Content: entry.Text, Question: &first}
			}
			continue
		}
		if e.index >= len(e.questions) || entry.QuestionID != e.questions[e.index].ID {
			continue
		}
		switch entry.Status {
		case domain.LogAnswered:
			q := e.questions[e.index]
			e.responses = append(e.responses, domain.Response{QuestionID: q.ID, Question: q.Prompt, Answer: entry.Text})
			e.needsClarification = false
			e.index++
		case domain.LogRetried:
			e.needsClarification = true
		}
	}
	if e.index >= len(e.questions) {
		e.complete = true
	}
	return e, nil
}

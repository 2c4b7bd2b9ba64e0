package conversation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/interviewd/internal/domain"
)

// Kinds of conversation the service can run.
const (
	KindQuestionnaire = "questionnaire"
	KindHRInterview   = "hr_interview"
)

// DefaultKind is used when a session does not name one.
const DefaultKind = KindQuestionnaire

// Texts are the fixed phrases a variant speaks. Placeholders {client_name},
// {question} and {reason} are substituted when rendering.
type Texts struct {
	Welcome      string `yaml:"welcome"`
	NextQuestion string `yaml:"next_question"`
	Clarify      string `yaml:"clarify"`
	Closing      string `yaml:"closing"`
	Finished     string `yaml:"finished"`
}

func (t Texts) overlay(o Texts) Texts {
	if o.Welcome != "" {
		t.Welcome = o.Welcome
	}
	if o.NextQuestion != "" {
		t.NextQuestion = o.NextQuestion
	}
	if o.Clarify != "" {
		t.Clarify = o.Clarify
	}
	if o.Closing != "" {
		t.Closing = o.Closing
	}
	if o.Finished != "" {
		t.Finished = o.Finished
	}
	return t
}

// Catalog maps each known kind to its texts.
type Catalog map[string]Texts

// Supports reports whether kind is in the catalog.
func (c Catalog) Supports(kind string) bool {
	_, ok := c[kind]
	return ok
}

// BuiltinCatalog returns the default texts for every kind.
func BuiltinCatalog() Catalog {
	return Catalog{
		KindQuestionnaire: {
			Welcome:      "Hello! Thank you for taking a few minutes to answer some questions for {client_name}.",
			NextQuestion: "Thank you. {question}",
			Clarify:      "{reason} {question}",
			Closing:      "Thank you for completing the questionnaire. Your responses have been recorded.",
			Finished:     "This questionnaire is already complete. Thank you!",
		},
		KindHRInterview: {
			Welcome:      "Hi, and welcome to your interview with {client_name}. I will ask you a few questions, one at a time.",
			NextQuestion: "Got it. {question}",
			Clarify:      "{reason} Let's try that again: {question}",
			Closing:      "That's all the questions I have. Thank you for your time, we will be in touch soon.",
			Finished:     "This interview has already finished. Thank you!",
		},
	}
}

type catalogFile struct {
	Variants map[string]Texts `yaml:"variants"`
}

// LoadCatalog reads text overrides from a YAML file and layers them over the
// builtin catalog. An empty path returns the builtin catalog. Overrides may only
// name existing kinds.
func LoadCatalog(path string) (Catalog, error) {
	catalog := BuiltinCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	for kind, texts := range file.Variants {
		base, ok := catalog[kind]
		if !ok {
			return nil, fmt.Errorf("%w: catalog names unknown kind %q", domain.ErrInvalidContent, kind)
		}
		catalog[kind] = base.overlay(texts)
	}
	return catalog, nil
}

func render(tmpl string, clientName string, q *domain.Question, reason string) string {
	if clientName == "" {
		clientName = "us"
	}
	question := ""
	if q != nil {
		question = q.Prompt
	}
	r := strings.NewReplacer("{client_name}", clientName, "{question}", question, "{reason}", reason)
	return strings.TrimSpace(r.Replace(tmpl))
}

package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/interviewd/internal/domain"
)

func TestLoadCatalog_Builtin(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c, 2)
	assert.NotEmpty(t, c[KindHRInterview].Welcome)
}

func TestLoadCatalog_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
variants:
  hr_interview:
    welcome: "Welcome to {client_name} careers."
    closing: "We will call you."
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to {client_name} careers.", c[KindHRInterview].Welcome)
	assert.Equal(t, "We will call you.", c[KindHRInterview].Closing)
	assert.Equal(t, BuiltinCatalog()[KindHRInterview].Clarify, c[KindHRInterview].Clarify)
	assert.Equal(t, BuiltinCatalog()[KindQuestionnaire], c[KindQuestionnaire])
}

func TestLoadCatalog_UnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("variants:\n  tarot:\n    welcome: hi\n"), 0o600))

	_, err := LoadCatalog(path)
	assert.ErrorIs(t, err, domain.ErrInvalidContent)
}

func TestRender(t *testing.T) {
	q := &domain.Question{Prompt: "Why?"}
	assert.Equal(t, "Too short Let's try that again: Why?",
		render("{reason} Let's try that again: {question}", "", q, "Too short"))
	assert.Equal(t, "Hello us", render("Hello {client_name}", "", nil, ""))
}

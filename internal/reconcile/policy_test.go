package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/corpaction-cli/internal/model"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.Defaults.DateWindowDays)
	assert.Equal(t, 0, p.Rank(model.ConflictDate, "SGX"))
	assert.Equal(t, 0, p.Rank(model.ConflictAmount, "bloomberg"), "case-insensitive")
	assert.Equal(t, 4, p.Rank(model.ConflictAmount, "Reuters"), "unknown sources rank last")
	assert.Equal(t, p.Defaults.Sources, p.Chain(model.ConflictIdentifier))
}

func TestLoadPolicy(t *testing.T) {
	data := `
reconcile:
  defaults:
    sources: [Custodian, Bloomberg]
  fields:
    amount:
      sources: [Bloomberg]
    date: {}
`
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Defaults.DateWindowDays, "window defaults")
	assert.Equal(t, []string{"Bloomberg"}, p.Chain(model.ConflictAmount))
	assert.Equal(t, []string{"Custodian", "Bloomberg"}, p.Chain(model.ConflictDate), "empty chain inherits defaults")
	assert.Equal(t, 1, p.Rank(model.ConflictEventType, "Bloomberg"))
}

func TestLoadPolicy_Errors(t *testing.T) {
	_, err := LoadPolicy("/nonexistent/policy.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconcile: [unclosed"), 0o644))
	_, err = LoadPolicy(path)
	assert.Error(t, err)

	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.NotEmpty(t, p.Defaults.Sources)
}

package popup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPatternsCoverMinimumSet(t *testing.T) {
	patterns := DefaultPatterns()
	names := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		names[p.Name] = true
	}
	for _, want := range []string{"cart-removal-cancel", "notification-subscription-decline", "cookie-consent-accept", "modal-close-x"} {
		assert.True(t, names[want], "missing built-in pattern %q", want)
	}
}

func TestLoadPatternsFileMissingFileReturnsBuiltins(t *testing.T) {
	patterns, err := LoadPatternsFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPatterns(), patterns)
}

func TestLoadPatternsFileAppendsExtras(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	content := []byte(`
- name: custom-survey-dismiss
  selector: "[data-testid=\"survey-close\"]"
  priority: 50
  skipIfReorderModal: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	patterns, err := LoadPatternsFile(path)
	require.NoError(t, err)
	assert.Len(t, patterns, len(DefaultPatterns())+1)
	assert.Equal(t, "custom-survey-dismiss", patterns[len(patterns)-1].Name)
}

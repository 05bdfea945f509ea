package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParams(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryLoads(t *testing.T) {
	path := writeParams(t, `
strategies:
  scalp:
    fast_period: 5
    slow_period: 13
  revert:
    rsi_period: 7
`)
	r, err := NewRegistry(path)
	require.NoError(t, err)

	p := r.Params("scalp")
	require.NotNil(t, p)
	assert.EqualValues(t, 5, p["fast_period"])

	assert.Nil(t, r.Params("momentum"))
	assert.EqualValues(t, 1, r.Snapshot().Version)
}

func TestRegistryMissingFile(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, r.Params("scalp"))
}

func TestRegistryRejectsInvalidShape(t *testing.T) {
	path := writeParams(t, `
strategies:
  scalp:
    fast_period: "not a number"
`)
	_, err := NewRegistry(path)
	assert.Error(t, err)
}

func TestRegistryRejectsUnknownTopLevel(t *testing.T) {
	path := writeParams(t, `
tactics:
  scalp: {}
`)
	_, err := NewRegistry(path)
	assert.Error(t, err)
}

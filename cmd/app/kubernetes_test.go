package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetermineKubeconfigPath(t *testing.T) {
	assert.Equal(t, "/explicit/config", determineKubeconfigPath("/explicit/config"))

	t.Setenv("KUBECONFIG", "/from/env")
	assert.Equal(t, "/from/env", determineKubeconfigPath(""))
}

func TestShouldUseInClusterConfig(t *testing.T) {
	assert.True(t, shouldUseInClusterConfig(""))
	assert.True(t, shouldUseInClusterConfig(filepath.Join(t.TempDir(), "missing")))

	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte("apiVersion: v1\n"), 0o600))
	assert.False(t, shouldUseInClusterConfig(path))
}

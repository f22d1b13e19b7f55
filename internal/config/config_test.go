package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9222", c.Browser.DevToolsURL)
	assert.Equal(t, "X-TotalFetchedSize", c.Recorder.TransferSizeHeader)
	assert.False(t, c.Recorder.HostedEnvironment)
}

func TestLoadOverridesOnlyPresentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netgraph.yaml")
	data := "recorder:\n  hostedEnvironment: true\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Recorder.HostedEnvironment)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "netgraph_", c.Sqlite.Prefix)
	assert.Equal(t, "X-UncompressedSize", c.Recorder.ResourceSizeHeader)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)

	l.Info("会话已附加", "session", "S1", "count", 3)
	l.With("run", "r-1").Warn("丢弃条目", "method", "Network.dataReceived")
	l.Err(errors.New("boom"), "插桩失败")

	out := lines(&buf)
	require.Len(t, out, 3)
	assert.Equal(t, "info", gjson.Get(out[0], "level").String())
	assert.Equal(t, "S1", gjson.Get(out[0], "session").String())
	assert.Equal(t, int64(3), gjson.Get(out[0], "count").Int())
	assert.Equal(t, "会话已附加", gjson.Get(out[0], "message").String())

	assert.Equal(t, "r-1", gjson.Get(out[1], "run").String())
	assert.Equal(t, "Network.dataReceived", gjson.Get(out[1], "method").String())

	assert.Equal(t, "error", gjson.Get(out[2], "level").String())
	assert.Equal(t, "boom", gjson.Get(out[2], "error").String())
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.WarnLevel)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	assert.Equal(t, []string{"shown"}, []string{gjson.Get(lines(&buf)[0], "message").String()})
	assert.Len(t, lines(&buf), 1)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Options{Writers: []string{"syslog"}})
	assert.Error(t, err)

	_, err = New(Options{Writers: []string{"file"}})
	assert.Error(t, err)
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netgraph.log")
	l, err := New(Options{Level: "debug", Writers: []string{"file"}, File: path})
	require.NoError(t, err)
	l.Info("写入文件")
	require.NoError(t, l.Close())
	assert.FileExists(t, path)
}

func TestNopIsSilent(t *testing.T) {
	l := NewNop()
	l.Info("x")
	l.Err(errors.New("x"), "x")
	assert.NotNil(t, l.With("k", "v"))
}

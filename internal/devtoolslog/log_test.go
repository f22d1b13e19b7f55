package devtoolslog

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"cdpnetgraph/pkg/model"
)

func TestParseRejectsNonArray(t *testing.T) {
	for _, in := range []string{`{"method":"x"}`, `"str"`, `not json`, ``, `42`} {
		_, err := Parse([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidLog, in)
	}
}

func TestParseSkipsMalformedElements(t *testing.T) {
	l, err := Parse([]byte(`[
		{"method":"Network.requestWillBeSent","params":{"requestId":"1"},"sessionId":"S1","targetType":"iframe"},
		42,
		{"params":{}},
		{"method":7},
		{"method":"Page.frameNavigated"}
	]`))
	require.NoError(t, err)
	require.Len(t, l, 2)

	assert.Equal(t, "Network.requestWillBeSent", l[0].Method)
	assert.Equal(t, model.SessionID("S1"), l[0].SessionID)
	assert.Equal(t, model.TargetIframe, l[0].TargetType)
	assert.JSONEq(t, `{"requestId":"1"}`, string(l[0].Params))

	assert.Equal(t, "Page.frameNavigated", l[1].Method)
	assert.JSONEq(t, `{}`, string(l[1].Params))
}

func TestWriteThenParsePreservesEntries(t *testing.T) {
	in := Log{
		{Method: "Network.requestWillBeSent", Params: json.RawMessage(`{"requestId":"1","timestamp":1.5}`)},
		{Method: "Network.loadingFinished", Params: json.RawMessage(`{"requestId":"1"}`), SessionID: "S9", TargetType: model.TargetWorker},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	// 省略空的 sessionId/targetType
	first := gjson.Get(buf.String(), "0")
	assert.False(t, first.Get("sessionId").Exists())
	assert.False(t, first.Get("targetType").Exists())

	out, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[1].SessionID, out[1].SessionID)
	assert.Equal(t, in[1].TargetType, out[1].TargetType)
	assert.JSONEq(t, string(in[0].Params), string(out[0].Params))
}

func TestWriteEmptyLog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	l, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, l)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.devtoolslog.json")
	require.NoError(t, WriteFile(path, Log{{Method: "Network.dataReceived", Params: json.RawMessage(`{}`)}}))
	l, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, l, 1)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestCaptureIsSafeForConcurrentUse(t *testing.T) {
	c := NewCapture()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Handle(model.ProtocolEvent{Method: "Network.dataReceived", SessionID: "S"})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, c.Len())

	snap := c.Log()
	c.Handle(model.ProtocolEvent{Method: "Page.loadEventFired"})
	assert.Len(t, snap, 400)
	assert.JSONEq(t, `{}`, string(snap[0].Params))
}

func TestRedactRemovesHeadersCaseInsensitively(t *testing.T) {
	in := Log{
		{Method: "Network.requestWillBeSent", Params: json.RawMessage(
			`{"requestId":"1","request":{"url":"https://a/","headers":{"Cookie":"a=1","Accept":"*/*"}}}`)},
		{Method: "Network.responseReceived", Params: json.RawMessage(
			`{"requestId":"1","response":{"status":200,"headers":{"set-cookie":"b=2","Content-Type":"text/html"}}}`)},
		{Method: "Network.responseReceivedExtraInfo", Params: json.RawMessage(
			`{"requestId":"1","headers":{"Set-Cookie":"c=3","x.dotted":"keep"}}`)},
		{Method: "Page.frameNavigated", Params: json.RawMessage(`{"headers":{"cookie":"untouched"}}`)},
	}
	out := Redact(in, []string{"cookie", "SET-COOKIE", "x.dotted"})

	assert.False(t, gjson.GetBytes(out[0].Params, "request.headers.Cookie").Exists())
	assert.Equal(t, "*/*", gjson.GetBytes(out[0].Params, "request.headers.Accept").String())
	assert.False(t, gjson.GetBytes(out[1].Params, "response.headers.set-cookie").Exists())
	assert.Equal(t, "text/html", gjson.GetBytes(out[1].Params, "response.headers.Content-Type").String())
	assert.False(t, gjson.GetBytes(out[2].Params, "headers.Set-Cookie").Exists())
	assert.False(t, gjson.GetBytes(out[2].Params, `headers.x\.dotted`).Exists())
	assert.Equal(t, "untouched", gjson.GetBytes(out[3].Params, "headers.cookie").String())

	// 原日志保持不变
	assert.Equal(t, "a=1", gjson.GetBytes(in[0].Params, "request.headers.Cookie").String())
}

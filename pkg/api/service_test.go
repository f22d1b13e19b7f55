package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/internal/service"
	"cdpnetgraph/internal/storage"
)

const sample = `[
{"method":"Network.requestWillBeSent","params":{"requestId":"1","frameId":"F","type":"Document","timestamp":2,"request":{"url":"https://a.test/","method":"GET"},"initiator":{"type":"other"}}},
{"method":"Network.responseReceived","params":{"requestId":"1","timestamp":2.1,"response":{"status":200,"headers":{}}}},
{"method":"Network.requestWillBeSent","params":{"requestId":"2","frameId":"F","type":"Stylesheet","timestamp":2.2,"request":{"url":"https://a.test/s.css","method":"GET"},"initiator":{"type":"parser","url":"https://a.test/"}}}
]`

func TestServiceReplayAndStoredRuns(t *testing.T) {
	st, err := storage.Open(filepath.Join(t.TempDir(), "netgraph.sqlite3"), "netgraph_", nil)
	require.NoError(t, err)
	defer st.Close()

	svc := NewService(Options{Store: st})
	defer svc.Close()

	l, err := devtoolslog.Parse([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()

	res, err := svc.Replay(ctx, l, "sample.json", true)
	require.NoError(t, err)
	require.Len(t, res.Requests, 2)
	assert.Equal(t, "1", res.Requests[1].InitiatorRequest.RequestID)

	runs, err := svc.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, "sample.json", runs[0].Label)

	loaded, err := svc.LoadRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, loaded.Requests, 2)
}

func TestUnknownRecording(t *testing.T) {
	svc := NewService(Options{})
	defer svc.Close()

	_, err := svc.Sessions("missing")
	assert.ErrorIs(t, err, service.ErrRecordingNotFound)
	_, err = svc.ListRuns(context.Background(), 1)
	assert.ErrorIs(t, err, service.ErrNoStore)
}

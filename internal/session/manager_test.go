package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpnetgraph/internal/cdpconn/cdptest"
	"cdpnetgraph/pkg/model"
)

func TestRegistryListsByStartTime(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()
	m.Add(&Recording{ID: "b", StartedAt: now.Add(time.Second)})
	m.Add(&Recording{ID: "a", StartedAt: now})

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, model.RecordingID("a"), list[0].ID)
	assert.Equal(t, model.RecordingID("b"), list[1].ID)

	r, ok := m.Remove("a")
	require.True(t, ok)
	assert.Equal(t, model.RecordingID("a"), r.ID)
	_, ok = m.Get("a")
	assert.False(t, ok)
	_, ok = m.Remove("a")
	assert.False(t, ok)
}

func TestRecordingCapturesUntilStopped(t *testing.T) {
	b := cdptest.New()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := Start(ctx, Options{DevToolsURL: b.URL()})
	require.NoError(t, err)

	assert.Equal(t, 1, b.Count("Target.setAutoAttach", cdptest.RootSession))
	assert.Equal(t, 1, b.Count("Runtime.runIfWaitingForDebugger", cdptest.RootSession))

	require.NoError(t, b.Emit(cdptest.RootSession, "Network.requestWillBeSent", map[string]any{
		"requestId": "1", "frameId": cdptest.MainFrame, "type": "Document", "timestamp": 1.0,
		"request": map[string]any{"url": "https://a.test/", "method": "GET"}, "initiator": map[string]any{"type": "other"},
	}))
	require.Eventually(t, func() bool { return r.Entries() == 1 }, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed")
	}

	l := r.Log()
	require.Len(t, l, 1)
	assert.Equal(t, model.SessionID(cdptest.RootSession), l[0].SessionID)
	assert.Equal(t, model.TargetPage, l[0].TargetType)

	records, err := r.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://a.test/", records[0].URL)
}

func TestStartFailsOnRootError(t *testing.T) {
	b := cdptest.New()
	defer b.Close()
	b.Fail("Page.enable", -32000, "boom")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Start(ctx, Options{DevToolsURL: b.URL()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	// 根会话出错后仍然恢复了目标执行
	assert.Equal(t, 1, b.Count("Runtime.runIfWaitingForDebugger", cdptest.RootSession))
}

package recorder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/pkg/traffic"
)

// assertAcyclic 沿 InitiatorRequest 前进不会回到起点，且每一步都严格早于上一步（重定向除外）
func assertAcyclic(t *testing.T, records []*traffic.NetworkRequest) {
	t.Helper()
	for _, rec := range records {
		seen := map[*traffic.NetworkRequest]bool{rec: true}
		for cur := rec; cur.InitiatorRequest != nil; cur = cur.InitiatorRequest {
			next := cur.InitiatorRequest
			require.False(t, seen[next], "cycle through %s", rec.RequestID)
			seen[next] = true
			if cur.RedirectSource == next {
				assert.LessOrEqual(t, next.NetworkRequestTime, cur.NetworkRequestTime)
			} else {
				assert.Less(t, next.NetworkRequestTime, cur.NetworkRequestTime)
			}
		}
	}
}

func TestGraphIsAcyclicForAdversarialTimestamps(t *testing.T) {
	const n = 30
	url := func(i int) string { return fmt.Sprintf("https://x.test/r%d.js", (i+n)%n) }

	var l devtoolslog.Log
	for i := 0; i < n; i++ {
		id := fmt.Sprint(i)
		// 大量相同时间戳，且每个请求都把前后的请求列为候选
		ts := float64(i % 3)
		extra := scriptStack(url(i+1), url(i+7), url(i-1), url(i))
		extra["initiator"].(obj)["url"] = url(i + 13)
		l = append(l, sent(id, url(i), ts, extra))
		l = append(l, sent(id, url(i), ts-1, nil))
		if i%5 == 0 {
			l = append(l, redirectTo(id, url(i+2), ts-5))
		}
		l = append(l, respond(id, ts, nil), finish(id, ts, 10))
	}
	// 时间戳乱序：倒序追加一批更早的请求
	for i := n - 1; i >= 0; i-- {
		id := fmt.Sprintf("late-%d", i)
		l = append(l, sent(id, url(i+3), float64(i)*0.01, obj{"initiator": obj{"type": "script", "url": url(i + 4)}}))
	}

	records := mustRecords(t, l, Options{})
	assert.Len(t, records, n+n/5+n)
	assertAcyclic(t, records)
}

func TestCycleCheckRejectsHandBuiltCycle(t *testing.T) {
	a := &traffic.NetworkRequest{RequestID: "a"}
	b := &traffic.NetworkRequest{RequestID: "b", InitiatorRequest: a}
	c := &traffic.NetworkRequest{RequestID: "c", RedirectSource: b}
	a.InitiatorRequest = c
	err := checkAcyclic([]*traffic.NetworkRequest{a, b, c})
	assert.True(t, errors.Is(err, ErrInitiatorCycle))

	a.InitiatorRequest = nil
	assert.NoError(t, checkAcyclic([]*traffic.NetworkRequest{a, b, c}))
}

// navigationLog 一个文档加 75 个子资源，每个请求 7 条网络事件，再加 23 条页面/运行时事件
func navigationLog() devtoolslog.Log {
	doc := "https://site.test/"
	var l devtoolslog.Log
	request := func(id, url, typ string, start float64, extra obj) {
		l = append(l,
			sent(id, url, start, merge(obj{"type": typ, "frameId": "MAIN"}, extra)),
			entry("Network.requestWillBeSentExtraInfo", obj{"requestId": id, "headers": obj{"Accept": "*/*"}}),
			respond(id, start+0.02, obj{"url": url}),
			entry("Network.responseReceivedExtraInfo", obj{"requestId": id, "statusCode": 200, "headers": obj{"Server": "test"}}),
			entry("Network.dataReceived", obj{"requestId": id, "timestamp": start + 0.03, "dataLength": 1000, "encodedDataLength": 400}),
			entry("Network.dataReceived", obj{"requestId": id, "timestamp": start + 0.04, "dataLength": 500, "encodedDataLength": 200}),
			finish(id, start+0.05, 650),
		)
	}

	l = append(l, entry("Page.frameStartedLoading", obj{"frameId": "MAIN"}))
	request("doc", doc, "Document", 1.0, nil)
	l = append(l, entry("Page.frameNavigated", obj{"frame": obj{"id": "MAIN", "url": doc}}))
	for i := 0; i < 75; i++ {
		request(fmt.Sprintf("sub-%d", i), fmt.Sprintf("https://site.test/asset-%d.js", i), "Script", 1.1+float64(i)*0.01, parser(doc))
	}
	for i := 0; len(l) < 555; i++ {
		switch i % 3 {
		case 0:
			l = append(l, entry("Runtime.executionContextCreated", obj{"context": obj{"id": i}}))
		case 1:
			l = append(l, entry("Page.lifecycleEvent", obj{"frameId": "MAIN", "name": "load", "timestamp": 3.0}))
		default:
			l = append(l, entry("Runtime.consoleAPICalled", obj{"type": "log", "args": []obj{}}))
		}
	}
	return l
}

func TestNavigationLogYieldsOneRecordPerRequest(t *testing.T) {
	l := navigationLog()
	require.Len(t, l, 555)

	records := mustRecords(t, l, Options{NavigationMode: true})
	require.Len(t, records, 76)

	doc := records[0]
	assert.Equal(t, "doc", doc.RequestID)
	assert.True(t, *doc.IsMainFrame)
	for _, rec := range records[1:] {
		assert.Same(t, doc, rec.InitiatorRequest, rec.RequestID)
		assert.True(t, rec.Finished)
		assert.Equal(t, int64(650), rec.TransferSize)
		assert.Equal(t, int64(1500), rec.ResourceSize)
		assert.Equal(t, "test", rec.ResponseHeaders.Get("server"))
	}
	assertAcyclic(t, records)
}

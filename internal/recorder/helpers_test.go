package recorder

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/pkg/traffic"
)

type obj = map[string]any

func entry(method string, params obj) devtoolslog.Entry {
	b, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}
	return devtoolslog.Entry{Method: method, Params: b}
}

func merge(base, extra obj) obj {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// sent 构造 requestWillBeSent，默认帧 F、类型 Script、发起者 other
func sent(id, url string, ts float64, extra obj) devtoolslog.Entry {
	return entry("Network.requestWillBeSent", merge(obj{
		"requestId": id,
		"timestamp": ts,
		"frameId":   "F",
		"type":      "Script",
		"request":   obj{"url": url, "method": "GET", "initialPriority": "High"},
		"initiator": obj{"type": "other"},
	}, extra))
}

func redirectTo(id, url string, ts float64) devtoolslog.Entry {
	return sent(id, url, ts, obj{
		"type":             "Document",
		"redirectResponse": obj{"status": 302, "protocol": "http/1.1", "headers": obj{"Location": url}},
	})
}

func respond(id string, ts float64, resp obj) devtoolslog.Entry {
	return entry("Network.responseReceived", obj{
		"requestId": id,
		"timestamp": ts,
		"response": merge(obj{
			"status":   200,
			"protocol": "h2",
			"mimeType": "text/plain",
			"headers":  obj{},
		}, resp),
	})
}

func finish(id string, ts float64, encoded int64) devtoolslog.Entry {
	return entry("Network.loadingFinished", obj{"requestId": id, "timestamp": ts, "encodedDataLength": encoded})
}

func fail(id string, ts float64) devtoolslog.Entry {
	return entry("Network.loadingFailed", obj{"requestId": id, "timestamp": ts, "errorText": "net::ERR_FAILED"})
}

func parser(url string) obj {
	return obj{"initiator": obj{"type": "parser", "url": url}}
}

func scriptStack(urls ...string) obj {
	frames := make([]obj, 0, len(urls))
	for i, u := range urls {
		frames = append(frames, obj{"functionName": fmt.Sprintf("f%d", i), "scriptId": fmt.Sprint(i), "url": u, "lineNumber": i, "columnNumber": 0})
	}
	return obj{"initiator": obj{"type": "script", "stack": obj{"callFrames": frames}}}
}

// complete 一次完整的请求：发出、响应头、结束
func complete(id, url string, start float64, extra obj) devtoolslog.Log {
	return devtoolslog.Log{
		sent(id, url, start, extra),
		respond(id, start+0.05, nil),
		finish(id, start+0.1, 100),
	}
}

func concat(parts ...devtoolslog.Log) devtoolslog.Log {
	var out devtoolslog.Log
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func byID(t *testing.T, records []*traffic.NetworkRequest) map[string]*traffic.NetworkRequest {
	t.Helper()
	out := make(map[string]*traffic.NetworkRequest, len(records))
	for _, r := range records {
		_, dup := out[r.RequestID]
		require.False(t, dup, "duplicate record %s", r.RequestID)
		out[r.RequestID] = r
	}
	return out
}

func mustRecords(t *testing.T, l devtoolslog.Log, opts Options) []*traffic.NetworkRequest {
	t.Helper()
	records, err := RecordsFromLog(l, opts)
	require.NoError(t, err)
	return records
}

// Package cdptest 提供一个最小的 DevTools 浏览器替身，用于测试扁平化会话连接。
//
// 它实现 /json/version、/json/list 与浏览器级 websocket，按会话记录收到的命令，
// 并在 Target.setAutoAttach 时为预先登记的子目标发送 Target.attachedToTarget。
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// RootSession 根页面附加后得到的会话 ID
const (
	RootSession = "ROOT"
	RootTarget  = "PAGE-1"
	MainFrame   = "MAIN-FRAME"
)

// Call 浏览器收到的一条命令
type Call struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

// Target 一个可被自动附加的目标
type Target struct {
	SessionID string
	TargetID  string
	Type      string
	URL       string
}

type failure struct {
	code    int
	message string
}

// Browser 浏览器替身
type Browser struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	calls    []Call
	targets  map[string]Target
	children map[string][]Target
	attached map[string]bool
	failures map[string]failure
	ws       *websocket.Conn
	writeMu  sync.Mutex

	// OnNavigate 在 Page.navigate 的响应写出之后调用，可用 Emit 发送页面加载事件
	OnNavigate func(b *Browser, url string)
}

// New 启动替身
func New() *Browser {
	b := &Browser{
		targets:  map[string]Target{RootSession: {SessionID: RootSession, TargetID: RootTarget, Type: "page", URL: "about:blank"}},
		children: make(map[string][]Target),
		attached: make(map[string]bool),
		failures: make(map[string]failure),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", b.handleVersion)
	mux.HandleFunc("/json/list", b.handleList)
	mux.HandleFunc("/json", b.handleList)
	mux.HandleFunc("/devtools/browser/fake", b.handleWS)
	b.srv = httptest.NewServer(mux)
	return b
}

// URL DevTools HTTP 端点
func (b *Browser) URL() string { return b.srv.URL }

// WebSocketURL 浏览器级 websocket 地址
func (b *Browser) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/devtools/browser/fake"
}

// Close 关闭替身
func (b *Browser) Close() {
	b.mu.Lock()
	ws := b.ws
	b.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
	b.srv.Close()
}

// AddChild 登记一个子目标，parent 会话开启自动附加时上报
func (b *Browser) AddChild(parent string, t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[t.SessionID] = t
	b.children[parent] = append(b.children[parent], t)
}

// Fail 让指定方法返回协议错误
func (b *Browser) Fail(method string, code int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method] = failure{code: code, message: message}
}

// Calls 收到的全部命令
func (b *Browser) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Count 统计某会话上某方法的调用次数，sessionID 为 "*" 时不区分会话
func (b *Browser) Count(method, sessionID string) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Method == method && (sessionID == "*" || c.SessionID == sessionID) {
			n++
		}
	}
	return n
}

// Emit 在指定会话上发送事件
func (b *Browser) Emit(sessionID, method string, params any) error {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	return b.write(msg)
}

func (b *Browser) write(v any) error {
	b.mu.Lock()
	ws := b.ws
	b.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("cdptest: no client connected")
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return ws.WriteJSON(v)
}

func (b *Browser) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"Browser":              "FakeChrome/1.0",
		"Protocol-Version":     "1.3",
		"webSocketDebuggerUrl": b.WebSocketURL(),
	})
}

func (b *Browser) handleList(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode([]map[string]string{{
		"id":                   RootTarget,
		"type":                 "page",
		"title":                "blank",
		"url":                  "about:blank",
		"webSocketDebuggerUrl": "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/devtools/page/" + RootTarget,
	}})
}

func (b *Browser) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.ws = ws
	b.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		b.handleCommand(data)
	}
}

func (b *Browser) handleCommand(data []byte) {
	msg := gjson.ParseBytes(data)
	call := Call{
		Method:    msg.Get("method").String(),
		SessionID: msg.Get("sessionId").String(),
		Params:    json.RawMessage(msg.Get("params").Raw),
	}
	id := msg.Get("id").Int()

	b.mu.Lock()
	b.calls = append(b.calls, call)
	f, failed := b.failures[call.Method]
	b.mu.Unlock()

	reply := map[string]any{"id": id}
	if call.SessionID != "" {
		reply["sessionId"] = call.SessionID
	}
	if failed {
		reply["error"] = map[string]any{"code": f.code, "message": f.message}
		_ = b.write(reply)
		return
	}
	reply["result"] = b.result(call)
	_ = b.write(reply)

	switch call.Method {
	case "Target.setAutoAttach":
		b.autoAttach(call.SessionID)
	case "Page.navigate":
		if b.OnNavigate != nil {
			b.OnNavigate(b, gjson.GetBytes(call.Params, "url").String())
		}
	}
}

func (b *Browser) result(call Call) any {
	switch call.Method {
	case "Target.attachToTarget":
		return map[string]any{"sessionId": RootSession}
	case "Page.getFrameTree":
		return map[string]any{"frameTree": map[string]any{"frame": map[string]any{
			"id": MainFrame, "loaderId": "L1", "url": "about:blank", "securityOrigin": "://", "mimeType": "text/html",
		}}}
	case "Target.getTargetInfo":
		b.mu.Lock()
		t, ok := b.targets[call.SessionID]
		b.mu.Unlock()
		if !ok {
			t = Target{TargetID: "UNKNOWN", Type: "other"}
		}
		return map[string]any{"targetInfo": targetInfo(t)}
	case "Page.navigate":
		return map[string]any{"frameId": MainFrame, "loaderId": "L2"}
	default:
		return map[string]any{}
	}
}

func (b *Browser) autoAttach(parent string) {
	b.mu.Lock()
	var pending []Target
	for _, t := range b.children[parent] {
		if !b.attached[t.SessionID] {
			b.attached[t.SessionID] = true
			pending = append(pending, t)
		}
	}
	b.mu.Unlock()

	for _, t := range pending {
		_ = b.Emit(parent, "Target.attachedToTarget", map[string]any{
			"sessionId":          t.SessionID,
			"targetInfo":         targetInfo(t),
			"waitingForDebugger": true,
		})
	}
}

// Detach 上报子会话分离
func (b *Browser) Detach(parent, child string) error {
	b.mu.Lock()
	t := b.targets[child]
	b.mu.Unlock()
	return b.Emit(parent, "Target.detachedFromTarget", map[string]any{"sessionId": child, "targetId": t.TargetID})
}

func targetInfo(t Target) map[string]any {
	return map[string]any{
		"targetId":        t.TargetID,
		"type":            t.Type,
		"title":           "",
		"url":             t.URL,
		"attached":        true,
		"canAccessOpener": false,
	}
}

// Package cdpconn 实现基于浏览器级 websocket 的扁平化（flatten）CDP 会话连接。
//
// 所有会话共用一条 websocket；读循环按到达顺序同步分发事件，
// 因此各会话的事件在全局上保持有序。
package cdpconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
	"github.com/tidwall/gjson"

	"cdpnetgraph/internal/logger"
	"cdpnetgraph/pkg/model"
)

// ErrConnClosed 连接已关闭
var ErrConnClosed = errors.New("cdpconn: connection closed")

type request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    any             `json:"params,omitempty"`
	SessionID model.SessionID `json:"sessionId,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

// Conn 浏览器级连接
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan response
	sessions map[model.SessionID]*Session
	browser  *Session

	done     chan struct{}
	closeErr error
	once     sync.Once
	log      logger.Logger
}

// Dial 通过 DevTools HTTP 端点发现浏览器 websocket 地址并建立连接
func Dial(ctx context.Context, devtoolsURL string, l logger.Logger) (*Conn, error) {
	dt := devtool.New(devtoolsURL)
	v, err := dt.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("query devtools version: %w", err)
	}
	if v.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("devtools endpoint %s exposes no browser websocket", devtoolsURL)
	}
	return DialWebSocket(ctx, v.WebSocketDebuggerURL, l)
}

// DialWebSocket 直接连接浏览器 websocket 地址
func DialWebSocket(ctx context.Context, wsURL string, l logger.Logger) (*Conn, error) {
	if l == nil {
		l = logger.NewNop()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	c := &Conn{
		ws:       ws,
		pending:  make(map[int64]chan response),
		sessions: make(map[model.SessionID]*Session),
		done:     make(chan struct{}),
		log:      l,
	}
	c.browser = newSession(c, "")
	go c.readLoop()
	l.Info("已连接浏览器调试端点", "url", wsURL)
	return c, nil
}

// Browser 浏览器级会话（sessionId 为空）
func (c *Conn) Browser() *Session { return c.browser }

// AttachPage 找到第一个 page 目标并以 flatten 模式附加，返回根会话
func (c *Conn) AttachPage(ctx context.Context, devtoolsURL string) (*Session, error) {
	dt := devtool.New(devtoolsURL)
	t, err := dt.Get(ctx, devtool.Page)
	if err != nil {
		return nil, fmt.Errorf("find page target: %w", err)
	}
	return c.AttachTarget(ctx, model.TargetID(t.ID))
}

// AttachTarget 以 flatten 模式附加到指定目标
func (c *Conn) AttachTarget(ctx context.Context, id model.TargetID) (*Session, error) {
	args := target.NewAttachToTargetArgs(target.ID(id)).SetFlatten(true)
	raw, err := c.browser.Send(ctx, "Target.attachToTarget", args)
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", id, err)
	}
	var reply target.AttachToTargetReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode attachToTarget reply: %w", err)
	}
	c.log.Debug("已附加目标", "target", string(id), "session", string(reply.SessionID))
	return c.session(model.SessionID(reply.SessionID)), nil
}

// session 获取或创建会话对象
func (c *Conn) session(id model.SessionID) *Session {
	if id == "" {
		return c.browser
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		s = newSession(c, id)
		c.sessions[id] = s
	}
	return s
}

func (c *Conn) lookup(id model.SessionID) (*Session, bool) {
	if id == "" {
		return c.browser, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *Conn) drop(id model.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

func (c *Conn) send(ctx context.Context, sessionID model.SessionID, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closeErr != nil {
		c.mu.Unlock()
		return nil, c.closeErr
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.ws.WriteJSON(request{ID: id, Method: method, Params: params, SessionID: sessionID})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnClosed
	}
}

// readLoop 读取并分发消息，直到连接关闭
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	msg := gjson.ParseBytes(data)
	if id := msg.Get("id"); id.Exists() {
		c.resolve(id.Int(), msg)
		return
	}

	method := msg.Get("method").String()
	if method == "" {
		c.log.Warn("忽略无法识别的消息", "size", len(data))
		return
	}
	sid := model.SessionID(msg.Get("sessionId").String())
	s, ok := c.lookup(sid)
	if !ok {
		c.log.Debug("丢弃未知会话的事件", "session", string(sid), "method", method)
		return
	}
	params := json.RawMessage(msg.Get("params").Raw)
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	switch method {
	case "Target.attachedToTarget":
		var ev target.AttachedToTargetReply
		if err := json.Unmarshal(params, &ev); err != nil {
			c.log.Err(err, "解析 attachedToTarget 失败")
			return
		}
		// 子会话必须先登记，后续带该 sessionId 的事件才能被路由
		child := c.session(model.SessionID(ev.SessionID))
		s.publish(model.ProtocolEvent{Method: method, Params: params, SessionID: sid})
		s.attached.Publish(child)
	case "Target.detachedFromTarget":
		childID := model.SessionID(gjson.GetBytes(params, "sessionId").String())
		s.publish(model.ProtocolEvent{Method: method, Params: params, SessionID: sid})
		s.detached.Publish(childID)
		c.drop(childID)
	default:
		s.publish(model.ProtocolEvent{Method: method, Params: params, SessionID: sid})
	}
}

func (c *Conn) resolve(id int64, msg gjson.Result) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	if e := msg.Get("error"); e.Exists() {
		ch <- response{err: &rpcc.ResponseError{
			Code:    e.Get("code").Int(),
			Message: e.Get("message").String(),
			Data:    e.Get("data").String(),
		}}
		return
	}
	result := json.RawMessage(msg.Get("result").Raw)
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	ch <- response{result: result}
}

func (c *Conn) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		if err == nil {
			err = ErrConnClosed
		}
		c.closeErr = fmt.Errorf("%w: %v", ErrConnClosed, err)
		c.mu.Unlock()
		close(c.done)
		c.log.Info("调试连接已关闭", "reason", err.Error())
	})
}

// Done 连接关闭时关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close 关闭底层 websocket
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.shutdown(ErrConnClosed)
	return err
}

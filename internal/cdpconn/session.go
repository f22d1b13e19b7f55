package cdpconn

import (
	"context"
	"encoding/json"

	"cdpnetgraph/internal/bus"
	"cdpnetgraph/internal/target"
	"cdpnetgraph/pkg/model"
)

// Session 共享同一连接的一个扁平化会话，实现 target.Session
type Session struct {
	conn     *Conn
	id       model.SessionID
	events   bus.Bus[model.ProtocolEvent]
	attached bus.Bus[target.Session]
	detached bus.Bus[model.SessionID]
}

var _ target.Session = (*Session)(nil)

func newSession(c *Conn, id model.SessionID) *Session {
	return &Session{conn: c, id: id}
}

func (s *Session) ID() model.SessionID { return s.id }

// Send 发送命令并等待响应；协议错误以 *rpcc.ResponseError 返回
func (s *Session) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.conn.send(ctx, s.id, method, params)
}

// Subscribe 订阅本会话的全部事件
func (s *Session) Subscribe(fn func(model.ProtocolEvent)) bus.Unsubscription {
	return s.events.Subscribe(fn)
}

// OnSessionAttached 订阅经由本会话自动附加的子会话
func (s *Session) OnSessionAttached(fn func(target.Session)) bus.Unsubscription {
	return s.attached.Subscribe(fn)
}

// OnSessionDetached 订阅子会话的分离通知
func (s *Session) OnSessionDetached(fn func(model.SessionID)) bus.Unsubscription {
	return s.detached.Subscribe(fn)
}

func (s *Session) publish(ev model.ProtocolEvent) { s.events.Publish(ev) }

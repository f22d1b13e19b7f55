package model

import "encoding/json"

type SessionID string
type TargetID string
type FrameID string

// RecordingID 一次进行中的录制
type RecordingID string

// TargetType 可调试目标的类型
type TargetType string

const (
	TargetPage          TargetType = "page"
	TargetIframe        TargetType = "iframe"
	TargetWorker        TargetType = "worker"
	TargetServiceWorker TargetType = "service_worker"
	TargetSharedWorker  TargetType = "shared_worker"
	TargetBrowser       TargetType = "browser"
	TargetOther         TargetType = "other"
)

// IsFrame 是否为页面/iframe 这类带文档的目标
func (t TargetType) IsFrame() bool { return t == TargetPage || t == TargetIframe }

// IsWorker 是否为专用 worker
func (t TargetType) IsWorker() bool { return t == TargetWorker }

// Supported 是否需要插桩（page/iframe/worker）
func (t TargetType) Supported() bool { return t.IsFrame() || t.IsWorker() }

// Normalize 将未知类型归为 other，保留已知类型
func (t TargetType) Normalize() TargetType {
	switch t {
	case TargetPage, TargetIframe, TargetWorker, TargetServiceWorker, TargetSharedWorker:
		return t
	default:
		return TargetOther
	}
}

// TargetInfo 浏览器报告的可调试目标
type TargetInfo struct {
	ID    TargetID   `json:"id"`
	Type  TargetType `json:"type"`
	URL   string     `json:"url"`
	Title string     `json:"title,omitempty"`
}

// SessionInfo 会话树中的一个节点
type SessionInfo struct {
	ID         SessionID  `json:"id"`
	ParentID   SessionID  `json:"parentSessionId,omitempty"`
	TargetID   TargetID   `json:"targetId"`
	TargetType TargetType `json:"targetType"`
	TargetURL  string     `json:"targetUrl,omitempty"`
}

// IsRoot 根会话没有父节点
func (s SessionInfo) IsRoot() bool { return s.ParentID == "" }

// ProtocolEvent 带来源标记的协议事件，创建后不可修改
type ProtocolEvent struct {
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
	SessionID  SessionID       `json:"sessionId,omitempty"`
	TargetType TargetType      `json:"targetType,omitempty"`
}

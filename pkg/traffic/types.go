package traffic

import (
	"encoding/json"
	"strings"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Lookup 获取指定 Header，并返回是否存在
func (h Header) Lookup(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[strings.ToLower(key)]
	return v, ok
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// ResourceType 资源类型，与 DevTools 的 Network.ResourceType 取值一致
type ResourceType string

const (
	ResourceDocument           ResourceType = "Document"
	ResourceStylesheet         ResourceType = "Stylesheet"
	ResourceImage              ResourceType = "Image"
	ResourceMedia              ResourceType = "Media"
	ResourceFont               ResourceType = "Font"
	ResourceScript             ResourceType = "Script"
	ResourceTextTrack          ResourceType = "TextTrack"
	ResourceXHR                ResourceType = "XHR"
	ResourceFetch              ResourceType = "Fetch"
	ResourcePrefetch           ResourceType = "Prefetch"
	ResourceEventSource        ResourceType = "EventSource"
	ResourceWebSocket          ResourceType = "WebSocket"
	ResourceManifest           ResourceType = "Manifest"
	ResourceSignedExchange     ResourceType = "SignedExchange"
	ResourcePing               ResourceType = "Ping"
	ResourceCSPViolationReport ResourceType = "CSPViolationReport"
	ResourcePreflight          ResourceType = "Preflight"
	ResourceOther              ResourceType = "Other"
)

var knownResourceTypes = map[ResourceType]struct{}{
	ResourceDocument: {}, ResourceStylesheet: {}, ResourceImage: {}, ResourceMedia: {},
	ResourceFont: {}, ResourceScript: {}, ResourceTextTrack: {}, ResourceXHR: {},
	ResourceFetch: {}, ResourcePrefetch: {}, ResourceEventSource: {}, ResourceWebSocket: {},
	ResourceManifest: {}, ResourceSignedExchange: {}, ResourcePing: {},
	ResourceCSPViolationReport: {}, ResourcePreflight: {}, ResourceOther: {},
}

// ParseResourceType 未知取值返回空串
func ParseResourceType(s string) ResourceType {
	if _, ok := knownResourceTypes[ResourceType(s)]; ok {
		return ResourceType(s)
	}
	return ""
}

// CallFrame 调用栈中的一帧
type CallFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId,omitempty"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// StackTrace 同步调用栈，Parent 指向异步延续的上一段栈
type StackTrace struct {
	Description string      `json:"description,omitempty"`
	CallFrames  []CallFrame `json:"callFrames"`
	Parent      *StackTrace `json:"parent,omitempty"`
}

// URLs 按出现顺序返回整条栈（含异步父栈）引用到的去重 URL
func (s *StackTrace) URLs() []string {
	var out []string
	seen := make(map[string]struct{})
	for st := s; st != nil; st = st.Parent {
		for _, f := range st.CallFrames {
			if f.URL == "" {
				continue
			}
			if _, ok := seen[f.URL]; ok {
				continue
			}
			seen[f.URL] = struct{}{}
			out = append(out, f.URL)
		}
	}
	return out
}

// Initiator 请求的原始发起者描述
type Initiator struct {
	Type       string      `json:"type"`
	URL        string      `json:"url,omitempty"`
	LineNumber *float64    `json:"lineNumber,omitempty"`
	Stack      *StackTrace `json:"stack,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`
}

// HostedStatistics 托管环境通过自定义头部报告的耗时拆分（毫秒）
type HostedStatistics struct {
	TCPMs      float64 `json:"tcpMs"`
	SSLMs      float64 `json:"sslMs"`
	RequestMs  float64 `json:"requestMs"`
	ResponseMs float64 `json:"responseMs"`
}

// NetworkRequest 一次 HTTP(S) 事务中的一段（重定向的每一跳各是一条记录）。
// 时间字段单位为秒，以整份日志中最早的 NetworkRequestTime 为零点。
type NetworkRequest struct {
	RequestID   string       `json:"requestId"`
	URL         string       `json:"url"`
	DocumentURL string       `json:"documentURL,omitempty"`
	Method      string       `json:"requestMethod,omitempty"`
	Protocol    string       `json:"protocol,omitempty"`
	IsSecure    bool         `json:"isSecure"`
	Resource    ResourceType `json:"resourceType,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
	Priority    string       `json:"priority,omitempty"`
	StatusCode  int          `json:"statusCode"`

	TransferSize int64 `json:"transferSize"`
	ResourceSize int64 `json:"resourceSize"`

	ConnectionID     string `json:"connectionId,omitempty"`
	ConnectionReused bool   `json:"connectionReused"`

	FrameID           string `json:"frameId,omitempty"`
	SessionID         string `json:"sessionId,omitempty"`
	SessionTargetType string `json:"sessionTargetType,omitempty"`
	IsMainFrame       *bool  `json:"isMainFrame,omitempty"`

	RendererStartTime      float64  `json:"rendererStartTime"`
	NetworkRequestTime     float64  `json:"networkRequestTime"`
	ResponseHeadersEndTime *float64 `json:"responseHeadersEndTime,omitempty"`
	NetworkEndTime         *float64 `json:"networkEndTime,omitempty"`

	Failed                   bool   `json:"failed"`
	Finished                 bool   `json:"finished"`
	LocalizedFailDescription string `json:"localizedFailDescription,omitempty"`
	BlockedReason            string `json:"blockedReason,omitempty"`

	IsLinkPreload           bool `json:"isLinkPreload"`
	FromDiskCache           bool `json:"fromDiskCache"`
	FromMemoryCache         bool `json:"fromMemoryCache"`
	FromPrefetchCache       bool `json:"fromPrefetchCache"`
	FetchedViaServiceWorker bool `json:"fetchedViaServiceWorker"`

	ResponseHeaders  Header            `json:"responseHeaders,omitempty"`
	Initiator        Initiator         `json:"initiator"`
	HostedStatistics *HostedStatistics `json:"hostedStatistics,omitempty"`

	RedirectSource      *NetworkRequest   `json:"-"`
	RedirectDestination *NetworkRequest   `json:"-"`
	Redirects           []*NetworkRequest `json:"-"`
	InitiatorRequest    *NetworkRequest   `json:"-"`
}

// ResponseHeadersEnd 返回响应头结束时间及其是否有效
func (r *NetworkRequest) ResponseHeadersEnd() (float64, bool) {
	if r.ResponseHeadersEndTime == nil {
		return 0, false
	}
	return *r.ResponseHeadersEndTime, true
}

// NetworkEnd 返回请求结束时间及其是否有效
func (r *NetworkRequest) NetworkEnd() (float64, bool) {
	if r.NetworkEndTime == nil {
		return 0, false
	}
	return *r.NetworkEndTime, true
}

// RedirectTerminal 沿 RedirectDestination 前进到重定向链的最后一跳
func (r *NetworkRequest) RedirectTerminal() *NetworkRequest {
	cur := r
	for cur.RedirectDestination != nil {
		cur = cur.RedirectDestination
	}
	return cur
}

func idOf(r *NetworkRequest) string {
	if r == nil {
		return ""
	}
	return r.RequestID
}

// MarshalJSON 关系字段按 requestId 输出，避免循环引用
func (r *NetworkRequest) MarshalJSON() ([]byte, error) {
	type plain NetworkRequest
	redirects := make([]string, 0, len(r.Redirects))
	for _, rd := range r.Redirects {
		redirects = append(redirects, rd.RequestID)
	}
	out := struct {
		*plain
		RedirectSource      string   `json:"redirectSource,omitempty"`
		RedirectDestination string   `json:"redirectDestination,omitempty"`
		Redirects           []string `json:"redirects,omitempty"`
		InitiatorRequest    string   `json:"initiatorRequest,omitempty"`
	}{
		plain:               (*plain)(r),
		RedirectSource:      idOf(r.RedirectSource),
		RedirectDestination: idOf(r.RedirectDestination),
		Redirects:           redirects,
		InitiatorRequest:    idOf(r.InitiatorRequest),
	}
	return json.Marshal(out)
}

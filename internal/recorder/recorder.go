// Package recorder 把协议事件序列重建为有序的网络请求图：
// 重定向链、发起者关系以及帧/会话归属。
//
// Recorder 在事件到达时只做累积，所有跨请求的关系都在 Records 中
// 基于累积结果的副本计算，因此同一输入可以反复求值且结果一致。
package recorder

import (
	"errors"
	"math"
	"sync"

	"github.com/tidwall/gjson"

	cdpadapter "cdpnetgraph/internal/adapter/cdp"
	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/internal/logger"
	"cdpnetgraph/internal/metrics"
	"cdpnetgraph/pkg/model"
	"cdpnetgraph/pkg/traffic"
)

// ErrInitiatorCycle 发起者/重定向关系出现环，属于内部逻辑错误
var ErrInitiatorCycle = errors.New("recorder: initiator graph contains a cycle")

const (
	DefaultTransferSizeHeader = "X-TotalFetchedSize"
	DefaultResourceSizeHeader = "X-UncompressedSize"
)

// Options 记录器配置
type Options struct {
	// HostedEnvironment 托管环境不上报标准大小字段，改从自定义响应头读取
	HostedEnvironment  bool
	TransferSizeHeader string
	ResourceSizeHeader string
	// NavigationMode 为导航类日志标记主框架请求
	NavigationMode bool

	Logger  logger.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.TransferSizeHeader == "" {
		o.TransferSizeHeader = DefaultTransferSizeHeader
	}
	if o.ResourceSizeHeader == "" {
		o.ResourceSizeHeader = DefaultResourceSizeHeader
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// Recorder 流式网络记录器，可并发调用
type Recorder struct {
	opts Options

	mu      sync.Mutex
	records []*traffic.NetworkRequest
	// requestId -> 该请求最新的一跳
	live          map[string]*traffic.NetworkRequest
	mainFrame     string
	firstDocFrame string
}

// New 创建记录器
func New(opts Options) *Recorder {
	return &Recorder{
		opts: opts.withDefaults(),
		live: make(map[string]*traffic.NetworkRequest),
	}
}

// RecordsFromLog 对一份完整日志求值，调用之间不共享状态
func RecordsFromLog(l devtoolslog.Log, opts Options) ([]*traffic.NetworkRequest, error) {
	r := New(opts)
	for _, e := range l {
		r.Dispatch(e)
	}
	return r.Records()
}

// RecordsFromJSON 解析 JSON 日志并求值；输入不是条目数组时返回 devtoolslog.ErrInvalidLog
func RecordsFromJSON(data []byte, opts Options) ([]*traffic.NetworkRequest, error) {
	l, err := devtoolslog.Parse(data)
	if err != nil {
		return nil, err
	}
	return RecordsFromLog(l, opts)
}

// Handle 以统一事件流订阅者的形式接收事件
func (r *Recorder) Handle(ev model.ProtocolEvent) {
	r.Dispatch(devtoolslog.FromProtocolEvent(ev))
}

// Dispatch 处理一条日志条目；格式错误的条目被静默丢弃
func (r *Recorder) Dispatch(e devtoolslog.Entry) {
	r.mu.Lock()
	ok := r.apply(e)
	r.mu.Unlock()
	if !ok {
		r.opts.Metrics.EntryDropped(e.Method)
	}
}

// Len 已创建的记录数（含重定向的每一跳）
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Records 计算当前累积结果的最终请求图，按首次出现顺序返回。
// 尚未结束的请求同样返回，Finished 为 false。
func (r *Recorder) Records() ([]*traffic.NetworkRequest, error) {
	r.mu.Lock()
	out := cloneAll(r.records)
	mainFrame := r.mainFrame
	if mainFrame == "" {
		mainFrame = r.firstDocFrame
	}
	r.mu.Unlock()

	if err := finalize(out, mainFrame, r.opts); err != nil {
		r.opts.Logger.Err(err, "网络请求图校验失败", "records", len(out))
		return nil, err
	}
	r.opts.Metrics.RequestsRecorded(len(out))
	r.opts.Logger.Debug("网络请求图已生成", "records", len(out), "mainFrame", mainFrame)
	return out, nil
}

func (r *Recorder) apply(e devtoolslog.Entry) bool {
	if len(e.Params) == 0 || !gjson.ValidBytes(e.Params) {
		return false
	}
	p := gjson.ParseBytes(e.Params)
	if !p.IsObject() {
		return false
	}

	switch e.Method {
	case "Network.requestWillBeSent":
		return r.onRequestWillBeSent(e, p)
	case "Network.requestServedFromCache":
		return r.with(e, p, func(rec *traffic.NetworkRequest) { rec.FromMemoryCache = true })
	case "Network.responseReceived":
		return r.with(e, p, func(rec *traffic.NetworkRequest) { r.onResponseReceived(rec, p) })
	case "Network.responseReceivedExtraInfo":
		return r.with(e, p, func(rec *traffic.NetworkRequest) { onResponseExtraInfo(rec, p) })
	case "Network.dataReceived":
		return r.with(e, p, func(rec *traffic.NetworkRequest) { onDataReceived(rec, p) })
	case "Network.loadingFinished":
		return r.with(e, p, func(rec *traffic.NetworkRequest) { onLoadingFinished(rec, p) })
	case "Network.loadingFailed":
		return r.with(e, p, func(rec *traffic.NetworkRequest) { onLoadingFailed(rec, p) })
	case "Network.resourceChangedPriority":
		return r.with(e, p, func(rec *traffic.NetworkRequest) {
			if v := p.Get("newPriority").String(); v != "" {
				rec.Priority = v
			}
		})
	case "Page.frameNavigated":
		r.onFrameNavigated(e, p)
	}
	return true
}

// with 找到 requestId 当前所处的那一跳并执行 fn；未知 requestId 视为格式错误
func (r *Recorder) with(e devtoolslog.Entry, p gjson.Result, fn func(*traffic.NetworkRequest)) bool {
	rec, ok := r.live[p.Get("requestId").String()]
	if !ok {
		return false
	}
	rec = rec.RedirectTerminal()
	if rec.SessionID == "" && e.SessionID != "" {
		rec.SessionID = string(e.SessionID)
		rec.SessionTargetType = targetTypeOf(e)
	}
	fn(rec)
	return true
}

func (r *Recorder) onRequestWillBeSent(e devtoolslog.Entry, p gjson.Result) bool {
	id := p.Get("requestId").String()
	ts, ok := number(p.Get("timestamp"))
	reqURL := p.Get("request.url").String()
	if id == "" || !ok || !cdpadapter.ValidURL(reqURL) {
		return false
	}

	prev, seen := r.live[id]
	if !seen {
		rec := r.newRecord(e, p, id, ts)
		r.live[id] = rec
		r.records = append(r.records, rec)
		return true
	}

	redirect := p.Get("redirectResponse")
	if !redirect.IsObject() {
		// 同一 requestId 的重复通知
		return true
	}
	prev = prev.RedirectTerminal()
	applyResponse(prev, redirect, ts, "")
	prev.Resource = ""
	prev.Finished = true
	prev.NetworkEndTime = ptr(ts)
	clampHeadersEnd(prev)

	next := r.newRecord(e, p, prev.RequestID+":redirect", ts)
	next.RedirectSource = prev
	prev.RedirectDestination = next
	r.live[id] = next
	r.records = append(r.records, next)
	return true
}

func (r *Recorder) newRecord(e devtoolslog.Entry, p gjson.Result, id string, ts float64) *traffic.NetworkRequest {
	reqURL := p.Get("request.url").String()
	rec := &traffic.NetworkRequest{
		RequestID:          id,
		URL:                reqURL,
		DocumentURL:        p.Get("documentURL").String(),
		Method:             p.Get("request.method").String(),
		IsSecure:           cdpadapter.IsSecureScheme(reqURL),
		Resource:           traffic.ParseResourceType(p.Get("type").String()),
		Priority:           p.Get("request.initialPriority").String(),
		FrameID:            p.Get("frameId").String(),
		SessionID:          string(e.SessionID),
		SessionTargetType:  targetTypeOf(e),
		Initiator:          cdpadapter.ToInitiator(p.Get("initiator")),
		RendererStartTime:  ts,
		NetworkRequestTime: ts,
	}
	rec.IsLinkPreload = rec.Initiator.Type == "preload" || p.Get("request.isLinkPreload").Bool()

	if r.firstDocFrame == "" && rec.Resource == traffic.ResourceDocument && rec.FrameID != "" {
		r.firstDocFrame = rec.FrameID
	}
	return rec
}

func (r *Recorder) onResponseReceived(rec *traffic.NetworkRequest, p gjson.Result) {
	ts, ok := number(p.Get("timestamp"))
	if !ok {
		ts = rec.NetworkRequestTime
	}
	applyResponse(rec, p.Get("response"), ts, p.Get("type").String())
	if rec.FrameID == "" {
		rec.FrameID = p.Get("frameId").String()
	}
}

func (r *Recorder) onFrameNavigated(e devtoolslog.Entry, p gjson.Result) {
	if r.mainFrame != "" {
		return
	}
	if e.TargetType != "" && e.TargetType != model.TargetPage {
		return
	}
	if p.Get("frame.parentId").String() != "" {
		return
	}
	r.mainFrame = p.Get("frame.id").String()
}

// applyResponse 把响应信息写入某一跳
func applyResponse(rec *traffic.NetworkRequest, resp gjson.Result, ts float64, resourceType string) {
	if !resp.IsObject() {
		return
	}
	if u := resp.Get("url").String(); cdpadapter.ValidURL(u) {
		rec.URL = u
	}
	rec.Protocol = resp.Get("protocol").String()
	rec.StatusCode = int(resp.Get("status").Int())
	rec.MimeType = resp.Get("mimeType").String()
	rec.FromDiskCache = resp.Get("fromDiskCache").Bool()
	rec.FromPrefetchCache = resp.Get("fromPrefetchCache").Bool()
	rec.FetchedViaServiceWorker = resp.Get("fromServiceWorker").Bool()
	rec.ConnectionID = resp.Get("connectionId").String()
	rec.ConnectionReused = resp.Get("connectionReused").Bool()
	rec.ResponseHeaders = cdpadapter.ToHeader(resp.Get("headers"))
	if rt := traffic.ParseResourceType(resourceType); rt != "" {
		rec.Resource = rt
	}
	rec.ResponseHeadersEndTime = ptr(ts)
	applyResourceTiming(rec, resp.Get("timing"))
}

func onResponseExtraInfo(rec *traffic.NetworkRequest, p gjson.Result) {
	extra := cdpadapter.ToHeader(p.Get("headers"))
	if len(extra) > 0 && rec.ResponseHeaders == nil {
		rec.ResponseHeaders = make(traffic.Header, len(extra))
	}
	for k, v := range extra {
		if _, ok := rec.ResponseHeaders.Lookup(k); !ok {
			rec.ResponseHeaders.Set(k, v)
		}
	}
	if rec.StatusCode == 0 {
		rec.StatusCode = int(p.Get("statusCode").Int())
	}
}

func onDataReceived(rec *traffic.NetworkRequest, p gjson.Result) {
	rec.ResourceSize += p.Get("dataLength").Int()
	if enc := p.Get("encodedDataLength"); enc.Exists() && enc.Int() != -1 {
		rec.TransferSize += enc.Int()
	}
}

func onLoadingFinished(rec *traffic.NetworkRequest, p gjson.Result) {
	if rec.Finished {
		return
	}
	rec.Finished = true
	if ts, ok := number(p.Get("timestamp")); ok {
		rec.NetworkEndTime = ptr(ts)
	}
	if enc := p.Get("encodedDataLength"); enc.Exists() && enc.Float() >= 0 {
		rec.TransferSize = int64(enc.Float())
	}
	clampHeadersEnd(rec)
}

func onLoadingFailed(rec *traffic.NetworkRequest, p gjson.Result) {
	if rec.Finished {
		return
	}
	rec.Finished = true
	rec.Failed = true
	if ts, ok := number(p.Get("timestamp")); ok {
		rec.NetworkEndTime = ptr(ts)
	}
	if rt := traffic.ParseResourceType(p.Get("type").String()); rt != "" {
		rec.Resource = rt
	}
	rec.LocalizedFailDescription = p.Get("errorText").String()
	rec.BlockedReason = p.Get("blockedReason").String()
	clampHeadersEnd(rec)
}

// targetTypeOf 没有会话标记的条目来自根页面
func targetTypeOf(e devtoolslog.Entry) string {
	if e.TargetType != "" {
		return string(e.TargetType)
	}
	if e.SessionID == "" {
		return string(model.TargetPage)
	}
	return ""
}

func number(v gjson.Result) (float64, bool) {
	if v.Type != gjson.Number {
		return 0, false
	}
	f := v.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func ptr(f float64) *float64 { return &f }

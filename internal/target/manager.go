// Package target 维护从根调试会话可达的全部目标的附加关系，
// 并把所有会话的协议事件以统一、带来源标记的事件流发布出去。
package target

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	cdptarget "github.com/mafredri/cdp/protocol/target"
	"github.com/tidwall/gjson"

	"cdpnetgraph/internal/bus"
	"cdpnetgraph/internal/logger"
	"cdpnetgraph/internal/metrics"
	"cdpnetgraph/pkg/model"
)

// Config 配置选项
type Config struct {
	Root    Session
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// node 会话树中的一个节点
type node struct {
	info     model.SessionInfo
	session  Session
	children map[model.SessionID]struct{}
	unsubs   []bus.Unsubscription
}

// Manager 协议会话树
type Manager struct {
	root    Session
	log     logger.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	enabled     bool
	generation  uint64
	ctx         context.Context
	mainFrameID model.FrameID
	nodes       map[model.SessionID]*node
	targets     map[model.TargetID]model.SessionID
	rootUnsubs  []bus.Unsubscription

	events   bus.Bus[model.ProtocolEvent]
	inflight sync.WaitGroup
}

// New 创建会话树
func New(cfg Config) *Manager {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		root:    cfg.Root,
		log:     l,
		metrics: cfg.Metrics,
		nodes:   make(map[model.SessionID]*node),
		targets: make(map[model.TargetID]model.SessionID),
	}
}

// Subscribe 订阅统一协议事件流
func (m *Manager) Subscribe(fn func(model.ProtocolEvent)) bus.Unsubscription {
	return m.events.Subscribe(fn)
}

// Enable 附加根会话并开启自动附加，可重复调用。
// 根会话上的非竞态、非"不支持"错误在恢复目标执行之后返回。
func (m *Manager) Enable(ctx context.Context) error {
	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		return nil
	}
	m.enabled = true
	m.generation++
	gen := m.generation
	// 子目标的附加发生在 Enable 返回之后，不能随调用方的 ctx 一起取消
	m.ctx = context.WithoutCancel(ctx)
	m.mainFrameID = ""
	m.nodes = make(map[model.SessionID]*node)
	m.targets = make(map[model.TargetID]model.SessionID)
	m.rootUnsubs = append(m.rootUnsubs[:0],
		m.root.Subscribe(func(ev model.ProtocolEvent) { m.onRootEvent(ev, gen) }),
	)
	m.mu.Unlock()

	m.log.Info("启用会话树", "root", string(m.root.ID()))
	if err := m.attach(ctx, m.root, "", true, gen); err != nil {
		m.log.Err(err, "根会话插桩失败")
		// 回到未启用状态，再次 Enable 时重新插桩
		m.mu.Lock()
		current := m.enabled && m.generation == gen
		m.mu.Unlock()
		if current {
			m.Disable()
		}
		return err
	}
	return nil
}

// Disable 移除所有会话上的监听，可重复调用。
// 正在进行的附加流程会完成其协议调用，但不再转发事件。
func (m *Manager) Disable() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	m.generation++
	nodes := m.nodes
	rootUnsubs := m.rootUnsubs
	m.nodes = make(map[model.SessionID]*node)
	m.targets = make(map[model.TargetID]model.SessionID)
	m.rootUnsubs = nil
	m.mainFrameID = ""
	m.mu.Unlock()

	for _, u := range rootUnsubs {
		u()
	}
	for _, n := range nodes {
		for _, u := range n.unsubs {
			u()
		}
	}
	m.metrics.SetSessions(0)
	m.log.Info("已禁用会话树", "sessions", len(nodes))
}

// Wait 等待所有在途的附加流程结束
func (m *Manager) Wait() { m.inflight.Wait() }

// MainFrameID 根页面主框架 ID
func (m *Manager) MainFrameID() model.FrameID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mainFrameID
}

// Sessions 返回会话树快照，父节点排在子节点之前
func (m *Manager) Sessions() []model.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SessionInfo
	var walk func(id model.SessionID)
	visited := make(map[model.SessionID]struct{}, len(m.nodes))
	walk = func(id model.SessionID) {
		n, ok := m.nodes[id]
		if !ok {
			return
		}
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}
		out = append(out, n.info)
		kids := make([]string, 0, len(n.children))
		for k := range n.children {
			kids = append(kids, string(k))
		}
		sort.Strings(kids)
		for _, k := range kids {
			walk(model.SessionID(k))
		}
	}
	walk(m.root.ID())
	return out
}

// Session 按 ID 查询已跟踪的会话
func (m *Manager) Session(id model.SessionID) (model.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return model.SessionInfo{}, false
	}
	return n.info, true
}

// attach 对一个会话执行完整的附加流程；无论成功、部分失败还是跳过，
// 最后都会发送 Runtime.runIfWaitingForDebugger。
func (m *Manager) attach(ctx context.Context, s Session, parent model.SessionID, isRoot bool, gen uint64) (err error) {
	defer func() {
		if _, rerr := s.Send(ctx, "Runtime.runIfWaitingForDebugger", nil); rerr != nil {
			m.metrics.ResumeFailed()
			m.log.Debug("恢复目标执行失败", "session", string(s.ID()), "error", rerr.Error())
		}
	}()

	outcome, err := m.instrument(ctx, s, parent, isRoot, gen)
	if err != nil {
		if IsTargetClosed(err) {
			m.metrics.AttachOutcome(metrics.AttachRaceLost)
			m.log.Debug("目标在附加过程中关闭", "session", string(s.ID()), "error", err.Error())
			return nil
		}
		m.metrics.AttachOutcome(metrics.AttachFailed)
		return err
	}
	m.metrics.AttachOutcome(outcome)
	return nil
}

func (m *Manager) instrument(ctx context.Context, s Session, parent model.SessionID, isRoot bool, gen uint64) (string, error) {
	if isRoot {
		raw, err := s.Send(ctx, "Page.getFrameTree", nil)
		if err != nil {
			return "", fmt.Errorf("Page.getFrameTree: %w", err)
		}
		m.setMainFrame(model.FrameID(gjson.GetBytes(raw, "frameTree.frame.id").String()), gen)
	}

	raw, err := s.Send(ctx, "Target.getTargetInfo", nil)
	if err != nil {
		return "", fmt.Errorf("Target.getTargetInfo: %w", err)
	}
	var reply cdptarget.GetTargetInfoReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("decode Target.getTargetInfo: %w", err)
	}
	info := model.SessionInfo{
		ID:         s.ID(),
		ParentID:   parent,
		TargetID:   model.TargetID(reply.TargetInfo.TargetID),
		TargetType: model.TargetType(reply.TargetInfo.Type),
		TargetURL:  reply.TargetInfo.URL,
	}

	outcome := m.track(s, info, gen)
	if outcome != metrics.AttachInstrumented {
		m.log.Debug("跳过目标插桩", "session", string(info.ID), "target", string(info.TargetID),
			"type", string(info.TargetType), "outcome", outcome)
		return outcome, nil
	}

	l := m.log.With("session", string(info.ID), "type", string(info.TargetType))
	if info.TargetType.IsFrame() {
		if _, err := s.Send(ctx, "Page.enable", nil); err != nil {
			return "", fmt.Errorf("Page.enable: %w", err)
		}
		if _, err := s.Send(ctx, "Runtime.enable", nil); err != nil {
			return "", fmt.Errorf("Runtime.enable: %w", err)
		}
	}
	if _, err := s.Send(ctx, "Network.enable", nil); err != nil {
		if !IsUnsupported(err) {
			return "", fmt.Errorf("Network.enable: %w", err)
		}
		m.metrics.UnsupportedDomain("Network.enable", string(info.TargetType))
		l.Warn("目标不支持 Network 域，保持未插桩", "error", err.Error())
	}
	if err := m.setAutoAttach(ctx, s); err != nil {
		if !IsUnsupported(err) {
			return "", err
		}
		m.metrics.UnsupportedDomain("Target.setAutoAttach", string(info.TargetType))
		l.Warn("目标不支持自动附加", "error", err.Error())
	}
	l.Info("目标插桩完成", "target", string(info.TargetID), "url", info.TargetURL)
	return metrics.AttachInstrumented, nil
}

// track 把会话登记进会话树，并在恢复执行之前挂好转发监听。
// 返回 AttachInstrumented 表示需要继续插桩。
func (m *Manager) track(s Session, info model.SessionInfo, gen uint64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled || m.generation != gen {
		return metrics.AttachDisabled
	}
	if _, seen := m.targets[info.TargetID]; seen {
		return metrics.AttachDuplicate
	}
	info.TargetType = info.TargetType.Normalize()
	n := &node{info: info, session: s, children: make(map[model.SessionID]struct{})}
	m.targets[info.TargetID] = info.ID
	m.nodes[info.ID] = n
	if p, ok := m.nodes[info.ParentID]; ok && info.ParentID != info.ID {
		p.children[info.ID] = struct{}{}
	}
	m.metrics.SetSessions(len(m.nodes))

	if !info.TargetType.Supported() {
		return metrics.AttachUnsupported
	}
	n.unsubs = append(n.unsubs,
		s.Subscribe(func(ev model.ProtocolEvent) { m.forward(n, ev) }),
		s.OnSessionAttached(func(child Session) { m.onSessionAttached(child, info.ID, gen) }),
		s.OnSessionDetached(func(id model.SessionID) { m.onSessionDetached(id) }),
	)
	return metrics.AttachInstrumented
}

// forward 给事件打上来源标记后发布到统一事件流
func (m *Manager) forward(n *node, ev model.ProtocolEvent) {
	out := model.ProtocolEvent{
		Method:     ev.Method,
		Params:     ev.Params,
		SessionID:  n.info.ID,
		TargetType: n.info.TargetType,
	}
	m.metrics.ProtocolEvent(string(out.TargetType))
	m.events.Publish(out)
}

// onSessionAttached 在传输层读循环中被调用，附加流程需另起 goroutine，
// 否则 Send 会等待同一读循环而死锁。
func (m *Manager) onSessionAttached(child Session, parent model.SessionID, gen uint64) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		if err := m.attach(ctx, child, parent, false, gen); err != nil {
			m.log.Err(err, "子目标插桩失败", "session", string(child.ID()), "parent", string(parent))
		}
	}()
}

// onSessionDetached 移除分离的会话及其所有后代
func (m *Manager) onSessionDetached(id model.SessionID) {
	m.mu.Lock()
	var unsubs []bus.Unsubscription
	var remove func(id model.SessionID)
	remove = func(id model.SessionID) {
		n, ok := m.nodes[id]
		if !ok {
			return
		}
		delete(m.nodes, id)
		if cur, ok := m.targets[n.info.TargetID]; ok && cur == id {
			delete(m.targets, n.info.TargetID)
		}
		if p, ok := m.nodes[n.info.ParentID]; ok {
			delete(p.children, id)
		}
		unsubs = append(unsubs, n.unsubs...)
		for kid := range n.children {
			remove(kid)
		}
	}
	remove(id)
	count := len(m.nodes)
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if len(unsubs) > 0 {
		m.metrics.SetSessions(count)
		m.log.Debug("会话已分离", "session", string(id))
	}
}

// onRootEvent 顶层导航后重新下发自动附加，以发现新文档派生的进程外 iframe
func (m *Manager) onRootEvent(ev model.ProtocolEvent, gen uint64) {
	if ev.Method != "Page.frameNavigated" {
		return
	}
	if gjson.GetBytes(ev.Params, "frame.parentId").String() != "" {
		return
	}
	m.mu.Lock()
	active := m.enabled && m.generation == gen
	ctx := m.ctx
	m.mu.Unlock()
	if !active {
		return
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		if err := m.setAutoAttach(ctx, m.root); err != nil && !IsTargetClosed(err) {
			m.log.Err(err, "主框架导航后重新开启自动附加失败")
		}
	}()
}

func (m *Manager) setAutoAttach(ctx context.Context, s Session) error {
	args := cdptarget.NewSetAutoAttachArgs(true, true).SetFlatten(true)
	if _, err := s.Send(ctx, "Target.setAutoAttach", args); err != nil {
		return fmt.Errorf("Target.setAutoAttach: %w", err)
	}
	return nil
}

func (m *Manager) setMainFrame(id model.FrameID, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation == gen {
		m.mainFrameID = id
	}
}

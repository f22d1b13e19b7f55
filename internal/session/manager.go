package session

import (
	"sort"
	"sync"

	"cdpnetgraph/internal/logger"
	"cdpnetgraph/pkg/model"
)

// Manager 进行中的录制登记表
type Manager struct {
	mu         sync.RWMutex
	recordings map[model.RecordingID]*Recording
	log        logger.Logger
}

// NewManager 创建登记表
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		recordings: make(map[model.RecordingID]*Recording),
		log:        l,
	}
}

// Add 登记录制
func (m *Manager) Add(r *Recording) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings[r.ID] = r
	m.log.Info("登记录制", "recording", string(r.ID), "devtools", r.DevToolsURL)
}

// Get 查询录制
func (m *Manager) Get(id model.RecordingID) (*Recording, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recordings[id]
	return r, ok
}

// Remove 注销并返回录制，不存在时返回 false
func (m *Manager) Remove(id model.RecordingID) (*Recording, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recordings[id]
	if ok {
		delete(m.recordings, id)
		m.log.Info("注销录制", "recording", string(id))
	}
	return r, ok
}

// List 按开始时间返回所有进行中的录制
func (m *Manager) List() []*Recording {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Recording, 0, len(m.recordings))
	for _, r := range m.recordings {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

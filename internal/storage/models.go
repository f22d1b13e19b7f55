package storage

import (
	"encoding/json"
	"time"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/pkg/model"
	"cdpnetgraph/pkg/traffic"
)

// Run 一次录制或回放
type Run struct {
	ID                string `gorm:"primaryKey;size:36"`
	Source            string `gorm:"size:16"` // live / replay
	Label             string // 页面地址或日志文件
	HostedEnvironment bool
	NavigationMode    bool
	EntryCount        int
	RequestCount      int
	StartedAt         time.Time
	FinishedAt        time.Time
	CreatedAt         time.Time `gorm:"index"`
}

// LogEntry 原始日志条目，按 Seq 保序
type LogEntry struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"size:36;index:idx_entry_run_seq,priority:1"`
	Seq        int    `gorm:"index:idx_entry_run_seq,priority:2"`
	Method     string `gorm:"size:128"`
	SessionID  string `gorm:"size:64"`
	TargetType string `gorm:"size:32"`
	Params     string `gorm:"type:text"`
}

// Request 最终请求记录，Data 保存完整 JSON，其余列便于查询
type Request struct {
	ID                  uint   `gorm:"primaryKey"`
	RunID               string `gorm:"size:36;index:idx_request_run_seq,priority:1"`
	Seq                 int    `gorm:"index:idx_request_run_seq,priority:2"`
	RequestID           string `gorm:"size:128;index"`
	URL                 string `gorm:"type:text"`
	ResourceType        string `gorm:"size:32"`
	StatusCode          int
	TransferSize        int64
	ResourceSize        int64
	Failed              bool
	Finished            bool
	FrameID             string `gorm:"size:64"`
	SessionID           string `gorm:"size:64"`
	InitiatorRequest    string `gorm:"size:128"`
	RedirectSource      string `gorm:"size:128"`
	RedirectDestination string `gorm:"size:128"`
	NetworkRequestTime  float64
	NetworkEndTime      *float64
	Data                string `gorm:"type:text"`
}

func toLogEntry(runID string, seq int, e devtoolslog.Entry) LogEntry {
	return LogEntry{
		RunID:      runID,
		Seq:        seq,
		Method:     e.Method,
		SessionID:  string(e.SessionID),
		TargetType: string(e.TargetType),
		Params:     string(e.Params),
	}
}

func (e LogEntry) toEntry() devtoolslog.Entry {
	params := json.RawMessage(e.Params)
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return devtoolslog.Entry{
		Method:     e.Method,
		Params:     params,
		SessionID:  model.SessionID(e.SessionID),
		TargetType: model.TargetType(e.TargetType),
	}
}

func toRequest(runID string, seq int, r *traffic.NetworkRequest) (Request, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return Request{}, err
	}
	id := func(x *traffic.NetworkRequest) string {
		if x == nil {
			return ""
		}
		return x.RequestID
	}
	return Request{
		RunID:               runID,
		Seq:                 seq,
		RequestID:           r.RequestID,
		URL:                 r.URL,
		ResourceType:        string(r.Resource),
		StatusCode:          r.StatusCode,
		TransferSize:        r.TransferSize,
		ResourceSize:        r.ResourceSize,
		Failed:              r.Failed,
		Finished:            r.Finished,
		FrameID:             r.FrameID,
		SessionID:           r.SessionID,
		InitiatorRequest:    id(r.InitiatorRequest),
		RedirectSource:      id(r.RedirectSource),
		RedirectDestination: id(r.RedirectDestination),
		NetworkRequestTime:  r.NetworkRequestTime,
		NetworkEndTime:      r.NetworkEndTime,
		Data:                string(data),
	}, nil
}

package api

import (
	"context"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/internal/service"
	"cdpnetgraph/internal/storage"
	"cdpnetgraph/pkg/model"
)

type (
	Options = service.Options
	Result  = service.Result
	Run     = storage.Run
	Log     = devtoolslog.Log
)

// Service 服务接口
type Service interface {
	// Targets 列出浏览器的可调试目标
	Targets(ctx context.Context, devtoolsURL string) ([]model.TargetInfo, error)

	// StartRecording 开始录制，devtoolsURL 为空时使用配置中的地址
	StartRecording(ctx context.Context, devtoolsURL string) (model.RecordingID, error)

	// Navigate 在录制的根页面上导航
	Navigate(ctx context.Context, id model.RecordingID, url string) error

	// Sessions 录制中的会话树
	Sessions(id model.RecordingID) ([]model.SessionInfo, error)

	// Wait 等待浏览器断开或 ctx 结束
	Wait(ctx context.Context, id model.RecordingID) error

	// StopRecording 停止录制并返回请求图
	StopRecording(ctx context.Context, id model.RecordingID, persist bool) (*Result, error)

	// Replay 对已有日志求值
	Replay(ctx context.Context, l Log, label string, persist bool) (*Result, error)

	// LoadRun 读取已保存的运行
	LoadRun(ctx context.Context, runID string) (*Result, error)

	// ListRuns 列出已保存的运行
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Close 停止所有录制
	Close()
}

var _ Service = (*service.Service)(nil)

// NewService 创建并返回服务接口实现
func NewService(opts Options) Service {
	return service.New(opts)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mafredri/cdp/devtool"

	"cdpnetgraph/internal/config"
	"cdpnetgraph/internal/ctxkeys"
	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/internal/logger"
	"cdpnetgraph/internal/metrics"
	"cdpnetgraph/internal/recorder"
	"cdpnetgraph/internal/session"
	"cdpnetgraph/internal/storage"
	"cdpnetgraph/pkg/model"
	"cdpnetgraph/pkg/traffic"
)

var (
	ErrRecordingNotFound = errors.New("recording not found")
	ErrNoStore           = errors.New("storage is not configured")
)

// Options 服务依赖，Store 可为空（不持久化）
type Options struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics
	Store   *storage.Store
}

// Result 一次录制或回放的结果
type Result struct {
	RunID    string                    `json:"runId,omitempty"`
	Log      devtoolslog.Log           `json:"-"`
	Requests []*traffic.NetworkRequest `json:"requests"`
	Sessions []model.SessionInfo       `json:"sessions,omitempty"`
}

// Service 录制、回放与已保存运行的统一入口
type Service struct {
	cfg        *config.Config
	log        logger.Logger
	metrics    *metrics.Metrics
	store      *storage.Store
	recordings *session.Manager
}

// New 创建服务
func New(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		cfg:        cfg,
		log:        l,
		metrics:    opts.Metrics,
		store:      opts.Store,
		recordings: session.NewManager(l),
	}
}

func (s *Service) recorderOptions() recorder.Options {
	rc := s.cfg.Recorder
	return recorder.Options{
		HostedEnvironment:  rc.HostedEnvironment,
		NavigationMode:     rc.NavigationMode,
		TransferSizeHeader: rc.TransferSizeHeader,
		ResourceSizeHeader: rc.ResourceSizeHeader,
		Logger:             s.log,
		Metrics:            s.metrics,
	}
}

func (s *Service) devtoolsURL(u string) string {
	if u == "" {
		return s.cfg.Browser.DevToolsURL
	}
	return u
}

// Targets 列出浏览器当前的可调试目标
func (s *Service) Targets(ctx context.Context, devtoolsURL string) ([]model.TargetInfo, error) {
	list, err := devtool.New(s.devtoolsURL(devtoolsURL)).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]model.TargetInfo, 0, len(list))
	for _, t := range list {
		out = append(out, model.TargetInfo{
			ID:    model.TargetID(t.ID),
			Type:  model.TargetType(t.Type),
			URL:   t.URL,
			Title: t.Title,
		})
	}
	return out, nil
}

// StartRecording 连接浏览器并开始录制
func (s *Service) StartRecording(ctx context.Context, devtoolsURL string) (model.RecordingID, error) {
	r, err := session.Start(ctx, session.Options{
		DevToolsURL: s.devtoolsURL(devtoolsURL),
		Recorder:    s.recorderOptions(),
		Logger:      s.log,
		Metrics:     s.metrics,
	})
	if err != nil {
		return "", err
	}
	s.recordings.Add(r)
	return r.ID, nil
}

func (s *Service) recording(id model.RecordingID) (*session.Recording, error) {
	r, ok := s.recordings.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	return r, nil
}

// Navigate 在录制的根页面上导航
func (s *Service) Navigate(ctx context.Context, id model.RecordingID, url string) error {
	r, err := s.recording(id)
	if err != nil {
		return err
	}
	return r.Navigate(ctx, url)
}

// Sessions 录制中的会话树快照
func (s *Service) Sessions(id model.RecordingID) ([]model.SessionInfo, error) {
	r, err := s.recording(id)
	if err != nil {
		return nil, err
	}
	return r.Sessions(), nil
}

// Wait 等待录制的浏览器连接断开或 ctx 结束
func (s *Service) Wait(ctx context.Context, id model.RecordingID) error {
	r, err := s.recording(id)
	if err != nil {
		return err
	}
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopRecording 停止录制并生成请求图；persist 为 true 时写入存储
func (s *Service) StopRecording(ctx context.Context, id model.RecordingID, persist bool) (*Result, error) {
	r, ok := s.recordings.Remove(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordingNotFound, id)
	}
	sessions := r.Sessions()
	r.Stop()

	records, err := r.Records()
	if err != nil {
		return nil, err
	}
	res := &Result{Log: r.Log(), Requests: records, Sessions: sessions}
	if !persist {
		return res, nil
	}
	ctx = ctxkeys.WithTraceID(ctx, string(id))
	res.RunID, err = s.save(ctx, storage.Run{Source: "live", Label: r.DevToolsURL, StartedAt: r.StartedAt}, res)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Replay 对一份日志求值；persist 为 true 时写入存储
func (s *Service) Replay(ctx context.Context, l devtoolslog.Log, label string, persist bool) (*Result, error) {
	started := time.Now()
	records, err := recorder.RecordsFromLog(l, s.recorderOptions())
	if err != nil {
		return nil, err
	}
	res := &Result{Log: l, Requests: records}
	s.log.Debug("日志回放完成", "label", label, "entries", len(l), "requests", len(records))
	if !persist {
		return res, nil
	}
	ctx = ctxkeys.WithTraceID(ctx, "")
	res.RunID, err = s.save(ctx, storage.Run{Source: "replay", Label: label, StartedAt: started}, res)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// LoadRun 读取已保存运行的原始日志并重新求值
func (s *Service) LoadRun(ctx context.Context, runID string) (*Result, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	l, err := s.store.LoadLog(ctx, runID)
	if err != nil {
		return nil, err
	}
	records, err := recorder.RecordsFromLog(l, s.recorderOptions())
	if err != nil {
		return nil, err
	}
	return &Result{RunID: runID, Log: l, Requests: records}, nil
}

// ListRuns 列出已保存的运行
func (s *Service) ListRuns(ctx context.Context, limit int) ([]storage.Run, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListRuns(ctx, limit)
}

// Close 停止所有进行中的录制
func (s *Service) Close() {
	for _, r := range s.recordings.List() {
		if _, ok := s.recordings.Remove(r.ID); ok {
			r.Stop()
		}
	}
}

// save 持久化前按配置删除敏感头部
func (s *Service) save(ctx context.Context, run storage.Run, res *Result) (string, error) {
	if s.store == nil {
		return "", ErrNoStore
	}
	redact := s.cfg.Capture.RedactHeaders
	res.Log = devtoolslog.Redact(res.Log, redact)
	for _, rec := range res.Requests {
		for _, name := range redact {
			rec.ResponseHeaders.Del(name)
		}
	}
	run.HostedEnvironment = s.cfg.Recorder.HostedEnvironment
	run.NavigationMode = s.cfg.Recorder.NavigationMode
	return s.store.SaveRun(ctx, run, res.Log, res.Requests)
}

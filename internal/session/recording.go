// Package session 管理进行中的录制：一条浏览器连接、其上的会话树，
// 以及订阅统一事件流的日志采集器和网络记录器。
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mafredri/cdp/protocol/page"

	"cdpnetgraph/internal/bus"
	"cdpnetgraph/internal/cdpconn"
	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/internal/logger"
	"cdpnetgraph/internal/metrics"
	"cdpnetgraph/internal/recorder"
	"cdpnetgraph/internal/target"
	"cdpnetgraph/pkg/model"
	"cdpnetgraph/pkg/traffic"
)

// Recording 一次录制
type Recording struct {
	ID          model.RecordingID
	DevToolsURL string
	StartedAt   time.Time

	conn     *cdpconn.Conn
	root     *cdpconn.Session
	tree     *target.Manager
	capture  *devtoolslog.Capture
	recorder *recorder.Recorder
	unsubs   []bus.Unsubscription
	stopOnce sync.Once
	log      logger.Logger
}

// Options 录制参数
type Options struct {
	DevToolsURL string
	Recorder    recorder.Options
	Logger      logger.Logger
	Metrics     *metrics.Metrics
}

// Start 连接浏览器、附加第一个页面并启用会话树。
// 会话树启用失败时释放连接并返回错误。
func Start(ctx context.Context, opts Options) (*Recording, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	id := model.RecordingID(uuid.NewString())
	l = l.With("recording", string(id))

	conn, err := cdpconn.Dial(ctx, opts.DevToolsURL, l)
	if err != nil {
		return nil, err
	}
	root, err := conn.AttachPage(ctx, opts.DevToolsURL)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	recOpts := opts.Recorder
	if recOpts.Logger == nil {
		recOpts.Logger = l
	}
	if recOpts.Metrics == nil {
		recOpts.Metrics = opts.Metrics
	}
	r := &Recording{
		ID:          id,
		DevToolsURL: opts.DevToolsURL,
		StartedAt:   time.Now(),
		conn:        conn,
		root:        root,
		tree:        target.New(target.Config{Root: root, Logger: l, Metrics: opts.Metrics}),
		capture:     devtoolslog.NewCapture(),
		recorder:    recorder.New(recOpts),
		log:         l,
	}
	// 先订阅再启用，根会话插桩期间的事件同样被采集
	r.unsubs = append(r.unsubs,
		r.tree.Subscribe(r.capture.Handle),
		r.tree.Subscribe(r.recorder.Handle),
	)
	if err := r.tree.Enable(ctx); err != nil {
		r.Stop()
		return nil, fmt.Errorf("enable session tree: %w", err)
	}
	l.Info("录制已开始", "devtools", opts.DevToolsURL)
	return r, nil
}

// Navigate 在根页面上导航
func (r *Recording) Navigate(ctx context.Context, url string) error {
	if _, err := r.root.Send(ctx, "Page.navigate", page.NewNavigateArgs(url)); err != nil {
		return fmt.Errorf("Page.navigate %s: %w", url, err)
	}
	r.log.Info("已发起导航", "url", url)
	return nil
}

// Sessions 会话树快照
func (r *Recording) Sessions() []model.SessionInfo { return r.tree.Sessions() }

// Done 浏览器连接断开时关闭
func (r *Recording) Done() <-chan struct{} { return r.conn.Done() }

// Entries 已采集的事件数
func (r *Recording) Entries() int { return r.capture.Len() }

// Stop 停止会话树并断开连接，可重复调用
func (r *Recording) Stop() {
	r.stopOnce.Do(func() {
		r.tree.Disable()
		r.tree.Wait()
		for _, u := range r.unsubs {
			u()
		}
		if err := r.conn.Close(); err != nil {
			r.log.Debug("关闭调试连接", "error", err.Error())
		}
		r.log.Info("录制已停止", "entries", r.capture.Len())
	})
}

// Log 已采集的日志
func (r *Recording) Log() devtoolslog.Log { return r.capture.Log() }

// Records 当前的网络请求图
func (r *Recording) Records() ([]*traffic.NetworkRequest, error) { return r.recorder.Records() }

// Package storage 使用 sqlite 持久化录制结果：运行元数据、原始日志与最终请求。
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"cdpnetgraph/internal/devtoolslog"
	"cdpnetgraph/internal/logger"
	"cdpnetgraph/pkg/traffic"
)

// ErrRunNotFound 指定的运行不存在
var ErrRunNotFound = errors.New("storage: run not found")

const batchSize = 200

// Store 录制结果仓库
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开（必要时创建）数据库并迁移表结构，表名统一加 prefix 前缀
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&Run{}, &LogEntry{}, &Request{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Debug("存储已就绪", "dsn", dsn, "prefix", prefix)
	return &Store{db: db, log: l}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 在一个事务中保存运行、原始日志与请求，返回运行 ID
func (s *Store) SaveRun(ctx context.Context, run Run, l devtoolslog.Log, records []*traffic.NetworkRequest) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	run.EntryCount = len(l)
	run.RequestCount = len(records)

	entries := make([]LogEntry, 0, len(l))
	for i, e := range l {
		entries = append(entries, toLogEntry(run.ID, i, e))
	}
	rows := make([]Request, 0, len(records))
	for i, r := range records {
		row, err := toRequest(run.ID, i, r)
		if err != nil {
			return "", fmt.Errorf("encode request %s: %w", r.RequestID, err)
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if len(entries) > 0 {
			if err := tx.CreateInBatches(entries, batchSize).Error; err != nil {
				return fmt.Errorf("insert log entries: %w", err)
			}
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
				return fmt.Errorf("insert requests: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log.Info("运行已保存", "run", run.ID, "entries", run.EntryCount, "requests", run.RequestCount)
	return run.ID, nil
}

// GetRun 查询运行元数据
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run %s: %w", id, err)
	}
	return run, nil
}

// LoadLog 按原始顺序读取某次运行的日志
func (s *Store) LoadLog(ctx context.Context, runID string) (devtoolslog.Log, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var entries []LogEntry
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}
	out := make(devtoolslog.Log, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.toEntry())
	}
	return out, nil
}

// ListRuns 最近的运行在前；limit <= 0 表示不限制
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Requests 按首次出现顺序读取某次运行的请求
func (s *Store) Requests(ctx context.Context, runID string) ([]Request, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var rows []Request
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	return rows, nil
}

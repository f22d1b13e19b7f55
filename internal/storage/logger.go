package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cdpnetgraph/internal/ctxkeys"
	"cdpnetgraph/internal/logger"
)

// 慢查询阈值
const slowQuery = 500 * time.Millisecond

// GormLogger 把 GORM 日志桥接到项目日志接口，并带上上下文中的追踪 ID
type GormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
}

// NewGormLogger 默认只输出警告及以上
func NewGormLogger(l logger.Logger) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &GormLogger{log: l, level: gormlogger.Warn}
}

// LogMode 设置日志级别
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *g
	next.level = level
	return &next
}

func (g *GormLogger) with(ctx context.Context, kv []any) []any {
	return append([]any{"traceId", ctxkeys.TraceID(ctx)}, kv...)
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.log.Info(msg, g.with(ctx, []any{"data", data})...)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(msg, g.with(ctx, []any{"data", data})...)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.log.Error(msg, g.with(ctx, []any{"data", data})...)
	}
}

// Trace 输出 SQL 执行情况；记录不存在不算错误
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := g.with(ctx, []any{"sql", sql, "rows", rows, "timeMs", float64(elapsed.Microseconds()) / 1e3})

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		g.log.Err(err, "SQL执行错误", fields...)
	case elapsed > slowQuery && g.level >= gormlogger.Warn:
		g.log.Warn("慢SQL查询", append(fields, "threshold", slowQuery.String())...)
	case g.level >= gormlogger.Info:
		g.log.Debug("SQL执行", fields...)
	}
}

package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"clientsim/internal/ctxkeys"
	"clientsim/internal/logger"
)

// slowQueryThreshold 超过该耗时的 SQL 记为慢查询
const slowQueryThreshold = 500 * time.Millisecond

// GormLogger 把 gorm 日志转到应用 Logger，附带连接的链路 ID
type GormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
}

// NewGormLogger 默认只输出告警与错误
func NewGormLogger(l logger.Logger) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &GormLogger{log: l, level: gormlogger.Warn}
}

// LogMode 设置日志级别
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) fields(ctx context.Context, kv []any) []any {
	if id := ctxkeys.TraceID(ctx); id != "" {
		return append([]any{"traceId", id}, kv...)
	}
	return kv
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.log.Info(msg, g.fields(ctx, []any{"data", data})...)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(msg, g.fields(ctx, []any{"data", data})...)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.log.Error(msg, g.fields(ctx, []any{"data", data})...)
	}
}

// Trace 记录 SQL 执行情况，未找到记录不算错误
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	kv := g.fields(ctx, []any{"sql", sql, "rows", rows, "elapsed", elapsed})

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		g.log.Err(err, "SQL 执行失败", kv...)
	case elapsed > slowQueryThreshold && g.level >= gormlogger.Warn:
		g.log.Warn("慢 SQL", kv...)
	case g.level >= gormlogger.Info:
		g.log.Debug("SQL", kv...)
	}
}

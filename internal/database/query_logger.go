package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charlesng35/tabletop/pkg/logger"
)

const defaultSlowQuery = 250 * time.Millisecond

// queryLogger routes gorm diagnostics into the module logger. Only failures and
// slow statements are reported by default; row lookups that miss are expected.
type queryLogger struct {
	level     gormlogger.LogLevel
	slowQuery time.Duration
}

func newQueryLogger(slowQuery time.Duration) gormlogger.Interface {
	if slowQuery <= 0 {
		slowQuery = defaultSlowQuery
	}
	return &queryLogger{level: gormlogger.Warn, slowQuery: slowQuery}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *queryLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		logger.WithModule("database").Info(fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		logger.WithModule("database").Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		logger.WithModule("database").Error(fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		statement, rows := fc()
		logger.WithModule("database").Error("query failed",
			zap.String("sql", statement),
			zap.Int64("rows", rows),
			zap.Duration("took", elapsed),
			zap.Error(err),
		)
	case elapsed > l.slowQuery && l.level >= gormlogger.Warn:
		statement, rows := fc()
		logger.WithModule("database").Warn("slow query",
			zap.String("sql", statement),
			zap.Int64("rows", rows),
			zap.Duration("took", elapsed),
		)
	case l.level >= gormlogger.Info:
		statement, rows := fc()
		logger.WithModule("database").Debug("query",
			zap.String("sql", statement),
			zap.Int64("rows", rows),
			zap.Duration("took", elapsed),
		)
	}
}

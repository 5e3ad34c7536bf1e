package gormsqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// queryLogger routes gorm output into zerolog. Failed statements log at error,
// statements slower than slow at warn, and everything else at trace.
type queryLogger struct {
	log  zerolog.Logger
	slow time.Duration
}

func newQueryLogger(log zerolog.Logger, slow time.Duration) *queryLogger {
	return &queryLogger{log: log.With().Str("component", "sqlite").Logger(), slow: slow}
}

// LogMode is a no-op; zerolog's level decides what is written.
func (l *queryLogger) LogMode(logger.LogLevel) logger.Interface { return l }

func (l *queryLogger) Info(_ context.Context, msg string, args ...any) {
	l.log.Info().Msg(fmt.Sprintf(msg, args...))
}

func (l *queryLogger) Warn(_ context.Context, msg string, args ...any) {
	l.log.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (l *queryLogger) Error(_ context.Context, msg string, args ...any) {
	l.log.Error().Msg(fmt.Sprintf(msg, args...))
}

func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	var ev *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		ev = l.log.Error().Err(err)
	case l.slow > 0 && elapsed > l.slow:
		ev = l.log.Warn().Bool("slow", true)
	default:
		ev = l.log.Trace()
	}
	if !ev.Enabled() {
		return
	}
	query, rows := fc()
	ev.Str("sql", query).Int64("rows", rows).Dur("elapsed", elapsed).Msg("query")
}

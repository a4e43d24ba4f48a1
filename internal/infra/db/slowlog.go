package db

import (
	"context"
	"strings"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const maxLoggedSQL = 512

type queryStartKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

// SlowQueryLogger is a pgx.QueryTracer that warns about statements slower
// than threshold. Arguments are never logged since they carry message text.
type SlowQueryLogger struct {
	logger    *zap.Logger
	threshold time.Duration
	now       func() time.Time
}

func NewSlowQueryLogger(logger *zap.Logger, threshold time.Duration) *SlowQueryLogger {
	return &SlowQueryLogger{
		logger:    logger.Named("sql"),
		threshold: threshold,
		now:       time.Now,
	}
}

func (s *SlowQueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: s.now()})
}

func (s *SlowQueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}

	duration := s.now().Sub(start.at)
	if duration <= s.threshold {
		return
	}

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.String("sql", compactSQL(start.sql)),
		zap.String("command", data.CommandTag.String()),
	}
	if id := logging.GetRequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if data.Err != nil {
		fields = append(fields, zap.Error(data.Err))
	}
	s.logger.Warn("slow query detected", fields...)
}

// compactSQL folds whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	out := strings.Join(strings.Fields(sql), " ")
	if len(out) > maxLoggedSQL {
		out = out[:maxLoggedSQL] + "..."
	}
	return out
}

// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog，所有日志都带上 service 字段。
func Init(serviceName, level string, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zlog.Logger = zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()
}

// WithTrace 把带 trace_id 的 logger 存入 context，供下游 Ctx 取用。
func WithTrace(ctx context.Context) context.Context {
	l := zlog.With().Logger()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With().Str("trace_id", sc.TraceID().String()).Logger()
	}
	return l.WithContext(ctx)
}

// Ctx 返回 context 中的 logger；没有时回退到全局 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l != zerolog.DefaultContextLogger && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &zlog.Logger
}

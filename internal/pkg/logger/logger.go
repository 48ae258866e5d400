// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是全局的 zerolog 实例，由 Init 在服务启动时配置。
// 业务代码统一通过 Ctx(ctx) 获取带链路信息的 logger，不要直接使用标准库 log。
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 根据服务名和日志级别初始化全局 Logger。
// level 为空或不合法时回退到 info。
func Init(serviceName, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	Logger = zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回一个绑定了当前 trace/span 信息的 logger。
// 如果 ctx 中没有有效的 span，则返回全局 Logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	span := trace.SpanContextFromContext(ctx)
	if !span.IsValid() {
		return &Logger
	}

	l := Logger.With().
		Str("trace_id", span.TraceID().String()).
		Str("span_id", span.SpanID().String()).
		Logger()
	return &l
}

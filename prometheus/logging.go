package prometheus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

// defaultLogWriter is the destination for all log handlers. Overridable in
// tests.
var defaultLogWriter io.Writer = os.Stdout

// botTokenPattern matches Discord bot tokens (base64 ID, timestamp, HMAC,
// dot-separated). Anything matching it is scrubbed before a log record is
// emitted, so a token leaking into an error string never reaches the log.
var botTokenPattern = regexp.MustCompile(
	`[a-zA-Z0-9]{24,}\.[\w-]{6}\.[\w-]{27,38}`,
)

const tokenMask = "[redacted]"

func maskTokens(s string) string {
	return botTokenPattern.ReplaceAllString(s, tokenMask)
}

// maskingHandler wraps a slog.Handler and scrubs bot tokens from record
// messages and string attribute values.
type maskingHandler struct {
	handler slog.Handler
}

func newMaskingHandler(h slog.Handler) *maskingHandler {
	return &maskingHandler{handler: h}
}

func (m *maskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return m.handler.Enabled(ctx, level)
}

func (m *maskingHandler) Handle(ctx context.Context, r slog.Record) error {
	masked := slog.NewRecord(r.Time, r.Level, maskTokens(r.Message), r.PC)
	r.Attrs(
		func(a slog.Attr) bool {
			masked.AddAttrs(maskAttr(a))
			return true
		},
	)
	return m.handler.Handle(ctx, masked)
}

func (m *maskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	maskedAttrs := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		maskedAttrs = append(maskedAttrs, maskAttr(a))
	}
	return &maskingHandler{handler: m.handler.WithAttrs(maskedAttrs)}
}

func (m *maskingHandler) WithGroup(name string) slog.Handler {
	return &maskingHandler{handler: m.handler.WithGroup(name)}
}

func maskAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, maskTokens(v.String()))
	case slog.KindGroup:
		group := v.Group()
		maskedGroup := make([]any, 0, len(group))
		for _, ga := range group {
			maskedGroup = append(maskedGroup, maskAttr(ga))
		}
		return slog.Group(a.Key, maskedGroup...)
	default:
		return a
	}
}

// newLogHandler returns the standard handler stack: tint for human-readable
// structured output, wrapped so bot tokens never make it into a record.
func newLogHandler(level slog.Leveler) slog.Handler {
	return newMaskingHandler(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		),
	)
}

func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

type gormStructuredLogger struct {
	logger        *slog.Logger
	handler       slog.Handler
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger: slog.New(handler).With(
			loggerNameKey,
			"gorm",
		), SlowThreshold: slowThreshold,
	}
}

func (g gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return gormStructuredLogger{
		logger: slog.New(g.handler).With(
			loggerNameKey,
			"gorm",
		),
	}
}

func (g gormStructuredLogger) Info(
	ctx context.Context,
	s string,
	i ...any,
) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Warn(
	ctx context.Context,
	s string,
	i ...any,
) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Error(
	ctx context.Context,
	s string,
	i ...any,
) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()
	rows := any(rowsAffected)
	if rowsAffected == -1 {
		rows = "-"
	}
	if g.SlowThreshold != 0 && elapsed > g.SlowThreshold {
		g.logger.Warn(
			"slow sql",
			"elapsed", elapsed.Seconds()*1e3,
			"threshold", g.SlowThreshold,
			"rows", rows,
			"sql", s,
			tint.Err(err),
		)
		return
	}
	g.logger.DebugContext(
		ctx,
		"sql completed",
		"elapsed", time.Duration(float64(elapsed.Nanoseconds())/1e6),
		"threshold", g.SlowThreshold,
		"rows", rows,
		"sql", s,
		tint.Err(err),
	)
}

package prometheus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeBotToken = "MTE2NzY3NTQ0NTQ4NzQ5NzIzNg." +
	"GZf9Ok.yeah_this_is_not_a_real_token_12345"

func TestMaskTokens(t *testing.T) {
	t.Parallel()

	masked := maskTokens("connecting with token " + fakeBotToken)
	assert.Equal(t, "connecting with token "+tokenMask, masked)

	// anything that doesn't look like a token passes through
	assert.Equal(t, "plain message", maskTokens("plain message"))
	assert.Equal(
		t,
		"Bot abc.def.ghi",
		maskTokens("Bot abc.def.ghi"),
	)
}

func TestMaskingHandlerScrubsRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := newMaskingHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}),
	)
	log := slog.New(handler)

	log.Info(
		"session failed: "+fakeBotToken,
		"token", fakeBotToken,
		slog.Group("discord", "auth", "Bot "+fakeBotToken),
	)

	out := buf.String()
	assert.NotContains(t, out, fakeBotToken)
	assert.Contains(t, out, tokenMask)
}

func TestMaskingHandlerWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := newMaskingHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}),
	).WithAttrs([]slog.Attr{slog.String("token", fakeBotToken)})

	require.NoError(
		t,
		handler.Handle(
			context.Background(),
			slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0),
		),
	)
	assert.NotContains(t, buf.String(), fakeBotToken)
	assert.Contains(t, buf.String(), tokenMask)
}

func TestMaskingHandlerPreservesNonStringAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(
		newMaskingHandler(
			slog.NewTextHandler(&buf, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}),
		),
	)
	log.Info("count", "n", 42, "enabled", true)

	assert.Contains(t, buf.String(), "n=42")
	assert.Contains(t, buf.String(), "enabled=true")
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := slog.NewTextHandler(
		&buf, &slog.HandlerOptions{Level: slog.LevelDebug},
	)
	logFunc := discordgoLoggerFunc(context.Background(), handler)

	logFunc(0, 0, "heartbeat\nlatency: %dms", 42)

	out := buf.String()
	assert.Contains(t, out, "heartbeatlatency: 42ms")
	assert.Contains(t, out, "level=ERROR")
}

func TestNewLogHandlerScrubsTokens(t *testing.T) {
	var buf bytes.Buffer
	orig := defaultLogWriter
	defaultLogWriter = &buf
	t.Cleanup(func() { defaultLogWriter = orig })

	level := &slog.LevelVar{}
	level.Set(slog.LevelDebug)
	log := slog.New(newLogHandler(level))
	log.Warn("token leaked: " + fakeBotToken)

	assert.NotContains(t, buf.String(), fakeBotToken)
	assert.True(
		t,
		strings.Contains(buf.String(), tokenMask),
		"expected masked output, got: %s",
		buf.String(),
	)
}

func TestNewLogHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	orig := defaultLogWriter
	defaultLogWriter = &buf
	t.Cleanup(func() { defaultLogWriter = orig })

	level := &slog.LevelVar{}
	level.Set(slog.LevelWarn)
	log := slog.New(newLogHandler(level))

	log.Info("too quiet")
	assert.Empty(t, buf.String())

	log.Warn("loud enough")
	assert.Contains(t, buf.String(), "loud enough")
}

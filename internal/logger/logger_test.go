package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log := New()
	require.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	require.Contains(t, buf.String(), "test message")
}

func TestNewWithOptions_Level(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithOptions(buf, Options{Level: "warn", Format: "json"})

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestNewWithOptions_UnknownLevelFallsBackToInfo(t *testing.T) {
	log := NewWithOptions(&bytes.Buffer{}, Options{Level: "loud"})
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewWithOptions_Console(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithOptions(buf, Options{Level: "debug", Format: "console"})

	log.Debug().Str("owner_id", "u1").Msg("console line")

	require.Contains(t, buf.String(), "console line")
	require.NotContains(t, buf.String(), `"message"`)
}

func TestWithContext(t *testing.T) {
	ctx := WithContext(context.Background(), New())
	require.NotNil(t, ctx.Value(LoggerKey))
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	retrieved := FromContext(ctx)
	retrieved.Info().Msg("test")

	require.NotZero(t, buf.Len())
}

func TestFromContext_DefaultLogger(t *testing.T) {
	// Should return a default logger when none is in context
	log := FromContext(context.Background())
	require.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

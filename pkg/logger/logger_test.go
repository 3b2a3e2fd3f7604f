package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBracketEncoderFormat(t *testing.T) {
	enc := NewBracketEncoder(zap.NewProductionEncoderConfig())

	entry := zapcore.Entry{
		Time:    time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Level:   zapcore.WarnLevel,
		Message: "rtp send failed",
		Caller:  zapcore.NewEntryCaller(0, "siplink/pkg/logic/bridge/bridge.go", 42, true),
	}
	fields := []zapcore.Field{
		zap.String("codec", "PCMU"),
		zap.Int("port", 4000),
		zap.Bool("silence", false),
		zap.Error(errors.New("connection refused")),
	}

	buf, err := enc.EncodeEntry(entry, fields)
	require.NoError(t, err)
	line := buf.String()

	assert.Contains(t, line, "[2026-03-14T09:26:53.000+0000]")
	assert.Contains(t, line, "[WARN]")
	assert.Contains(t, line, "bridge/bridge.go:42")
	assert.Contains(t, line, " rtp send failed")
	assert.Contains(t, line, "codec=PCMU")
	assert.Contains(t, line, "port=4000")
	assert.Contains(t, line, "silence=false")
	assert.Contains(t, line, "error=connection refused")
}

func TestBracketEncoderCloneIsIndependent(t *testing.T) {
	enc := NewBracketEncoder(zap.NewProductionEncoderConfig())
	clone := enc.Clone()
	require.NotNil(t, clone)

	buf, err := clone.EncodeEntry(zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Message: "codec negotiated",
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "[INFO]")
}

func TestNewNopDiscardsEverything(t *testing.T) {
	log := NewNop()
	require.NotNil(t, log)

	// Must be safe at any level without configuration.
	log.Debug("dropped")
	log.Error("dropped", zap.String("k", "v"))
	assert.NotPanics(t, func() { log.Sync() })
}

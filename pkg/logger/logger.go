package logger

import (
	"os"
	"siplink/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// BracketEncoder renders entries as [time][LEVEL][caller] message.
type BracketEncoder struct {
	zapcore.Encoder
	pool buffer.Pool
}

// DefaultLogConfig returns the default rotation configuration.
func DefaultLogConfig() config.LogConfig {
	return config.LogConfig{
		Level:      "info",
		File:       "logs/siplink.log",
		MaxSize:    100, // 100 MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func NewBracketEncoder(config zapcore.EncoderConfig) zapcore.Encoder {
	return &BracketEncoder{
		Encoder: zapcore.NewJSONEncoder(config),
		pool:    buffer.NewPool(),
	}
}

func (e *BracketEncoder) Clone() zapcore.Encoder {
	return &BracketEncoder{
		Encoder: e.Encoder.Clone(),
		pool:    e.pool,
	}
}

func (e *BracketEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := e.pool.Get()

	buf.AppendString("[")
	buf.AppendString(entry.Time.Format("2006-01-02T15:04:05.000-0700"))
	buf.AppendString("]")

	buf.AppendString("[")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString("]")

	buf.AppendString("[")
	buf.AppendString(entry.Caller.TrimmedPath())
	buf.AppendString("]")

	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	for i := range fields {
		buf.AppendString(" ")
		buf.AppendString(fields[i].Key)
		buf.AppendString("=")
		enc := zapcore.NewMapObjectEncoder()
		fields[i].AddTo(enc)
		if v, ok := enc.Fields[fields[i].Key]; ok {
			appendValue(buf, v)
		}
	}

	buf.AppendString("\n")

	return buf, nil
}

func appendValue(buf *buffer.Buffer, v interface{}) {
	switch val := v.(type) {
	case string:
		buf.AppendString(val)
	case error:
		buf.AppendString(val.Error())
	case bool:
		buf.AppendBool(val)
	case int:
		buf.AppendInt(int64(val))
	case int64:
		buf.AppendInt(val)
	case uint64:
		buf.AppendUint(val)
	case float64:
		buf.AppendFloat(val, 64)
	default:
		buf.AppendString("?")
	}
}

// New builds a logger from the given config. Callers hold and inject the
// returned handle; there is no package-level logger instance.
func New(cfg *config.LogConfig) *zap.Logger {
	if cfg == nil {
		defaultConfig := DefaultLogConfig()
		cfg = &defaultConfig
	}

	level := zap.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zap.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var core zapcore.Core

	if cfg.File == "" {
		core = zapcore.NewCore(
			NewBracketEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			zap.NewAtomicLevelAt(level),
		)
	} else {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}

		stdoutCore := zapcore.NewCore(
			NewBracketEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			zap.NewAtomicLevelAt(level),
		)

		fileCore := zapcore.NewCore(
			NewBracketEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			zap.NewAtomicLevelAt(level),
		)

		core = zapcore.NewTee(stdoutCore, fileCore)
	}

	return zap.New(core, zap.AddCaller())
}

// NewNop returns a no-op logger for tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

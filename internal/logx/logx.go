// Package logx is the supervisor's single process-wide log sink.
//
// It wraps go.uber.org/zap with a custom encoder so every line takes the
// shape "{timestamp} - {level} - {message}", independent of zap's usual
// JSON or console layouts, and rotates the underlying file with
// lumberjack so a long-lived supervisor never grows the log without
// bound.
package logx

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultPath is where the supervisor appends its log, per spec.
const DefaultPath = "/tmp/taskmaster.log"

// New builds the process-wide logger writing to path. Callers should Sync
// it before process exit to flush buffered lines.
func New(path string) (*zap.Logger, error) {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	core := zapcore.NewCore(newLineEncoder(), zapcore.AddSync(writer), zapcore.InfoLevel)
	return zap.New(core), nil
}

// newLineEncoder builds a console encoder whose field order and separator
// render "timestamp - LEVEL - message", the format the operator-facing log
// file has always used, instead of zap's default tab-separated layout.
func newLineEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		TimeKey:          "ts",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " - ",
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(l.CapitalString())
		},
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05,000"))
		},
	}
	return zapcore.NewConsoleEncoder(cfg)
}

package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how the process logger is built.
type Options struct {
	Level string
	JSON  bool
	// File enables a rotated file sink next to stdout when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a zap logger and returns a flush func for shutdown.
func New(opt Options) (*zap.Logger, func()) {
	var lvl zapcore.Level
	if err := lvl.Set(opt.Level); err != nil {
		lvl = zapcore.InfoLevel
	}

	var enc zapcore.Encoder
	if opt.JSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), lvl)}
	if opt.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opt.File,
			MaxSize:    atLeast(opt.MaxSizeMB, 100),
			MaxBackups: atLeast(opt.MaxBackups, 5),
			MaxAge:     atLeast(opt.MaxAgeDays, 14),
			Compress:   true,
		}
		// lumberjack has no Sync; zapcore.AddSync supplies a no-op.
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotator), lvl))
	}

	opts := []zap.Option{zap.AddCaller()}
	if !opt.JSON {
		opts = append(opts, zap.Development())
	}
	l := zap.New(zapcore.NewTee(cores...), opts...)
	return l, func() { _ = l.Sync() }
}

func atLeast(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

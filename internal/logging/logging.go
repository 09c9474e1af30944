// Package logging builds the process-wide structured logger.
package logging

import (
	"os"

	"github.com/icrc-indexer/indexer/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New builds a zap.Logger from the [log] section of the loaded configuration.
// Console and file sinks get independent levels; the file sink rotates via
// lumberjack according to MaxSizeMB/MaxFiles.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	consoleLevel := cfg.ConsoleLevel
	if consoleLevel == "" {
		consoleLevel = cfg.Level
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), parseLevel(consoleLevel)),
	}

	if cfg.FileEnabled && cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxOr(cfg.MaxSizeMB, 100),
			MaxBackups: maxOr(cfg.MaxFiles, 5),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), parseLevel(cfg.Level)))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}


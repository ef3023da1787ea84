package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/FACorreiaa/haru-planner/config"
)

// New builds the application logger. Development mode logs in colour through
// tint; anything else writes JSON. When cfg.File is set, JSON records are also
// written to a rotated file.
func New(cfg config.LogConfig, mode string) *slog.Logger {
	return slog.New(NewHandler(os.Stdout, cfg, mode))
}

func NewHandler(stdout io.Writer, cfg config.LogConfig, mode string) slog.Handler {
	level := ParseLevel(cfg.Level)

	var console slog.Handler
	if (mode == "development" || mode == "") && cfg.Format != "json" {
		console = tint.NewHandler(stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		})
	} else {
		console = slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: level})
	}

	if cfg.File == "" {
		return console
	}
	file := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}, &slog.HandlerOptions{Level: level})
	return fanout{console, file}
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

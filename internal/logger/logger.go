// Package logger builds the job's zap logger: every level goes to a daily
// file under the log directory, INFO and above are mirrored to stderr.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const dateLayout = "2006-01-02"

// Options configures New.
type Options struct {
	Dir   string
	Level string // level written to the file; the console is always INFO+
	Now   func() time.Time
}

// New opens today's log file and returns a logger writing to it and to stderr.
// The returned func syncs and closes the file.
func New(opts Options) (*zap.Logger, func(), error) {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("New(): failed to create log directory: %w", err)
	}

	path := LogFilePath(opts.Dir, now())
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("New(): failed to open log file: %w", err)
	}

	fileLevel := ParseLevel(opts.Level)

	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig("2006-01-02 15:04:05"))
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig("15:04:05"))

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(file), fileLevel),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	)
	log := zap.New(core)

	log.Info("logging initialized", zap.String("file", path))
	log.Debug("debug messages are written to the log file", zap.String("file", path))

	closeFn := func() {
		_ = log.Sync()
		_ = file.Close()
	}
	return log, closeFn, nil
}

func encoderConfig(timeLayout string) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " - "
	return cfg
}

// ParseLevel converts "debug", "info", "warn" or "error". Unknown values mean DEBUG.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

// LogFilePath returns the daily log file for t.
func LogFilePath(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format(dateLayout)+".log")
}

// CleanOldLogs removes daily log files dated before now minus days.
// Files whose name is not a date are kept.
func CleanOldLogs(dir string, days int, now time.Time) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	cutoff := now.AddDate(0, 0, -days)
	var removed []string
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".log")
		fileDate, err := time.ParseInLocation(dateLayout, name, now.Location())
		if err != nil {
			continue
		}
		if !fileDate.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("CleanOldLogs(): failed to remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jpegsweep/internal/config"
)

const logFile = "jpegsweep.log"

// New creates a console logger at info level
func New() *zap.SugaredLogger {
	logger, _ := NewWithConfig(nil, false)
	return logger
}

// NewWithConfig creates a logger writing to stderr and, when cfg.Logging.Dir is set,
// to a rotated JSON log file in that directory. The returned close func flushes the
// logger and closes the log file; the logger must not be used after calling it.
func NewWithConfig(cfg *config.Config, verbose bool) (*zap.SugaredLogger, func()) {
	level := zapcore.InfoLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	var (
		f       *os.File
		fileErr error
	)
	if cfg != nil && cfg.Logging.Dir != "" {
		f, fileErr = openLogFile(cfg.Logging.Dir, cfg.Logging.RotationDays)
		if fileErr == nil {
			fileCfg := zap.NewProductionEncoderConfig()
			fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), level))
		}
	}

	logger := zap.New(zapcore.NewTee(cores...)).Sugar()
	if fileErr != nil {
		logger.Warnw("file logging disabled", "dir", cfg.Logging.Dir, "error", fileErr)
	}

	closeFn := func() {
		_ = logger.Sync() // stderr may not support fsync
		if f != nil {
			_ = f.Close()
		}
	}
	return logger, closeFn
}

// NewNop returns a logger that discards everything
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func openLogFile(dir string, rotationDays int) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	filePath := filepath.Join(dir, logFile)
	if rotationDays <= 0 {
		rotationDays = 30
	}
	rotateLogsIfNeeded(filePath, rotationDays)

	return os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// rotateLogsIfNeeded renames the log file once it is older than rotationDays
func rotateLogsIfNeeded(logPath string, rotationDays int) {
	info, err := os.Stat(logPath)
	if err != nil {
		return
	}

	cutoffTime := time.Now().AddDate(0, 0, -rotationDays)
	if info.ModTime().Before(cutoffTime) {
		timestamp := info.ModTime().Format("20060102-150405")
		rotatedPath := logPath + "." + timestamp

		if err := os.Rename(logPath, rotatedPath); err != nil {
			return
		}

		cleanupOldLogs(logPath, rotationDays)
	}
}

// cleanupOldLogs removes rotated log files older than rotationDays
func cleanupOldLogs(logPath string, rotationDays int) {
	logDir := filepath.Dir(logPath)
	baseName := filepath.Base(logPath)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	cutoffTime := time.Now().AddDate(0, 0, -rotationDays)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, baseName+".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffTime) {
			_ = os.Remove(filepath.Join(logDir, name))
		}
	}
}

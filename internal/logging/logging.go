// Package logging builds the process logger. Console output stays terse for
// interactive use while a structured JSON copy is appended to
// .matchflow/logs/matchflow.log so failures can be inspected after a batch
// session ends.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFileName is the append-only run log inside the workspace logs dir.
const LogFileName = "matchflow.log"

// New returns a logger that tees console output (stderr) with a JSON file
// sink under logsDir. When verbose is set the console shows debug lines; the
// file always records them. The returned closer syncs and releases the file.
func New(logsDir string, verbose bool) (*zap.Logger, func(), error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logsDir, LogFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open log file: %w", err)
	}

	consoleLevel := zapcore.InfoLevel
	if verbose {
		consoleLevel = zapcore.DebugLevel
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), consoleLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(file), zapcore.DebugLevel),
	)

	logger := zap.New(core)
	closer := func() {
		_ = logger.Sync()
		_ = file.Close()
	}
	return logger, closer, nil
}

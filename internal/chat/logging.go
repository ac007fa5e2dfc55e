package chat

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a structured logger writing to a file under dir, so
// log lines never fight the TUI for the terminal.
func NewLogger(dir string, debug bool) (*zap.Logger, error) {
	if dir == "" {
		dir = DefaultDataRoot()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logPath := filepath.Join(dir, "irie.log")
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{logPath}
	return cfg.Build()
}

// Package observability holds the process-wide CLI logger.
//
// Logs go to stderr so stdout stays reserved for JSONL records.
package observability

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

var (
	mu sync.Mutex

	// CLILogger is the logger used by CLI commands. It is a no-op until
	// Init or InitCLILogger runs.
	CLILogger = zap.NewNop()
)

// Init builds CLILogger for the given level and profile and returns it.
func Init(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(profile) {
	case "", ProfileStructured:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	Set(logger)
	return logger, nil
}

// InitCLILogger installs a console logger named name. verbose enables debug output.
// It never fails; a logger that cannot be built leaves CLILogger unchanged.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := Init(level, ProfileConsole)
	if err != nil {
		return
	}
	Set(logger.Named(name))
}

// Set replaces CLILogger. A nil logger installs a no-op logger.
func Set(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mu.Lock()
	CLILogger = logger
	mu.Unlock()
}

// Sync flushes CLILogger. Errors from syncing a terminal are ignored.
func Sync() {
	mu.Lock()
	logger := CLILogger
	mu.Unlock()
	_ = logger.Sync()
}

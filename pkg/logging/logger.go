// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Service is attached to every entry as "service" when set.
	Service string

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Service: "savings-batch",
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DurationFieldUnit = time.Millisecond

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// ParseLevel converts a level name to a zerolog.Level.
// "warning" is accepted as an alias of "warn".
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRun returns a logger annotated with a job run ID and tenant.
func WithRun(logger zerolog.Logger, runID, tenantID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Str("tenant", tenantID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-account processing trace (page, account number)
//   - Pool admission waits and worker lifecycle
//   - Settings resolution (override vs default)
//
// Info: Normal operation events
//   - Job run start/finish with page and account totals
//   - Scheduler start/stop
//
// Warn: Warning conditions that don't prevent operation
//   - Rejected pool submissions
//   - Fetch retries
//   - Run skipped because another node holds the run lock
//
// Error: Error conditions requiring attention
//   - Per-account operation failures
//   - Failure text dropped from the job report
//   - Aborted runs (fetch or admission failure)
//   - Configuration errors
//
// Context Fields:
//   - run_id: Job run identifier
//   - tenant: Tenant identifier
//   - page: Zero-based page index
//   - total_pages: Live page count reported by the store
//   - account_id: Savings account identifier
//   - worker_id: Pool worker index
//   - duration: Elapsed time

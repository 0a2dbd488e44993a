// Package logger provides a global, Sugared Zap logger with optional
// OpenTelemetry integration. It supports configuring log level via functional
// options, emits JSON logs to stdout, can mirror them into a size-rotated
// file, and automatically adds an OTEL bridge core when a telemetry provider
// is available.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabapcia/coinconn/internal/pkg/telemetry"

	"github.com/jrick/logrotate/rotator"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/gabapcia/coinconn"

var (
	// logger is the global SugaredLogger instance. It discards everything until Init runs.
	logger = zap.NewNop().Sugar()

	// initOnce ensures the logger is only configured a single time.
	initOnce sync.Once

	// fileRotator is the rotating file sink, if one was configured.
	fileRotator *rotator.Rotator
)

// config holds configuration options for the logger.
type config struct {
	level       string // the minimum log level (debug, info, warn, error, panic, fatal)
	file        string // optional path of a rotated log file
	thresholdKB int64  // size in KB after which the log file is rolled
	maxRolls    int    // number of rolled files kept
}

// Option configures the logger before initialization.
type Option func(*config)

// WithLevel sets the minimum log level for the global logger.
// Example levels: "debug", "info", "warn", "error", "panic", "fatal".
func WithLevel(l string) Option {
	return func(c *config) {
		c.level = l
	}
}

// WithFile mirrors every entry into path, rolling the file once it grows past
// thresholdKB and keeping at most maxRolls old files.
func WithFile(path string, thresholdKB int64, maxRolls int) Option {
	return func(c *config) {
		c.file = path
		c.thresholdKB = thresholdKB
		c.maxRolls = maxRolls
	}
}

// newFileCore opens the rotator for cfg.file and returns a JSON core writing to it.
func newFileCore(cfg config, level zapcore.Level) (zapcore.Core, *rotator.Rotator, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.file), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	r, err := rotator.New(cfg.file, cfg.thresholdKB, false, cfg.maxRolls)
	if err != nil {
		return nil, nil, fmt.Errorf("create log rotator: %w", err)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(r),
		level,
	)

	return core, r, nil
}

// Init configures the global logger. By default, it logs JSON to stdout at
// the "info" level. If an OpenTelemetry LoggerProvider is registered via
// telemetry.LoggerProvider(), this adds an OTEL bridge core to forward logs to
// the telemetry backend. Calling Init multiple times has no effect after the
// first successful initialization.
//
// Returns an error if parsing the log level or opening the log file fails.
func Init(opts ...Option) error {
	cfg := config{
		level:       "info",
		thresholdKB: 10 * 1024,
		maxRolls:    3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	level, err := zapcore.ParseLevel(cfg.level)
	if err != nil {
		return err
	}

	initOnce.Do(func() {
		cores := []zapcore.Core{
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				level,
			),
		}

		if cfg.file != "" {
			var core zapcore.Core
			core, fileRotator, err = newFileCore(cfg, level)
			if err != nil {
				return
			}
			cores = append(cores, core)
		}

		if lp := telemetry.LoggerProvider(); lp != nil {
			cores = append(cores, otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(lp)))
		}

		logger = zap.New(zapcore.NewTee(cores...)).Sugar()
	})

	return err
}

// Sync flushes any buffered log entries and closes the rotated file, if any.
// It should be called on application shutdown.
func Sync() error {
	err := logger.Sync()
	if fileRotator != nil {
		if closeErr := fileRotator.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// Debug logs a debug-level message with optional key/value context.
func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	logger.Debugw(msg, keysAndValues...)
}

// Info logs an info-level message with optional key/value context.
func Info(ctx context.Context, msg string, keysAndValues ...any) {
	logger.Infow(msg, keysAndValues...)
}

// Warn logs a warn-level message with optional key/value context.
func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	logger.Warnw(msg, keysAndValues...)
}

// Error logs an error-level message with optional key/value context.
func Error(ctx context.Context, msg string, keysAndValues ...any) {
	logger.Errorw(msg, keysAndValues...)
}

// Fatal logs a fatal-level message (and then exits) with optional key/value context.
func Fatal(ctx context.Context, msg string, keysAndValues ...any) {
	logger.Fatalw(msg, keysAndValues...)
}

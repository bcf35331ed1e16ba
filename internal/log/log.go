// Package log provides structured, colored logging for the ledger node.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/rs/zerolog"
)

// Default rotation settings for Init.
const (
	DefaultMaxSizeKB = 10 * 1024
	DefaultMaxRolls  = 3
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the system.
var (
	Chain     zerolog.Logger
	P2P       zerolog.Logger
	RPC       zerolog.Logger
	Consensus zerolog.Logger
	Miner     zerolog.Logger
	Node      zerolog.Logger
	Storage   zerolog.Logger
)

var (
	fileMu   sync.Mutex
	fileSink io.WriteCloser
)

func init() {
	// Default to colored console output
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init initializes the logger with the default rotation settings.
// See InitRotating.
func Init(level string, jsonOutput bool, file string) error {
	return InitRotating(level, jsonOutput, file, DefaultMaxSizeKB, DefaultMaxRolls)
}

// InitRotating initializes the logger. When file is non-empty, logs are
// written to both the console (colored or JSON depending on jsonOutput) and
// the file (always JSON). The file is rotated once it exceeds maxSizeKB,
// keeping maxRolls old files.
func InitRotating(level string, jsonOutput bool, file string, maxSizeKB int64, maxRolls int) error {
	var consoleWriter io.Writer
	if jsonOutput {
		consoleWriter = os.Stdout
	} else {
		consoleWriter = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	fileMu.Lock()
	defer fileMu.Unlock()

	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}

	if file == "" {
		Logger = newLogger(consoleWriter, level)
		initComponentLoggers()
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	if maxSizeKB <= 0 {
		maxSizeKB = DefaultMaxSizeKB
	}
	r, err := rotator.New(file, maxSizeKB, false, maxRolls)
	if err != nil {
		return fmt.Errorf("creating log rotator: %w", err)
	}
	fileSink = r

	// File writer: always JSON (no ANSI codes, structured for parsing).
	multi := zerolog.MultiLevelWriter(consoleWriter, r)
	Logger = newLogger(multi, level)
	initComponentLoggers()
	return nil
}

// Close flushes and closes the rotating log file, if any. Console logging
// continues.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if fileSink == nil {
		return nil
	}
	err := fileSink.Close()
	fileSink = nil
	Logger = NewConsoleLogger(os.Stdout, Logger.GetLevel().String())
	initComponentLoggers()
	return err
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    false,
	}
	return newLogger(output, level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// initComponentLoggers initializes loggers for each component.
func initComponentLoggers() {
	Chain = WithComponent("chain")
	P2P = WithComponent("p2p")
	RPC = WithComponent("rpc")
	Consensus = WithComponent("consensus")
	Miner = WithComponent("miner")
	Node = WithComponent("node")
	Storage = WithComponent("storage")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithPeer returns a logger with a peer field.
func WithPeer(peerID string) zerolog.Logger {
	return Logger.With().Str("peer", peerID).Logger()
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info logs an info message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal logs a fatal message and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// Benchmark helper for timing operations.
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().
			Str("operation", name).
			Dur("duration", time.Since(start)).
			Msg("benchmark")
	}
}

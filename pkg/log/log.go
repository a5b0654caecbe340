// Package log provides the structured logger shared by every subsystem of
// the workspace runtime: the bus, materializers, providers, and the server
// surface all log through a component-scoped child logger instead of
// fmt.Println.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

func init() {
	// So packages that log before cmd/epicenter calls Init (library
	// embedders, tests) don't write through a zero-value writer.
	Init(Config{Level: InfoLevel})
}

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorkspace creates a child logger scoped to a workspace id.
func WithWorkspace(workspaceID string) zerolog.Logger {
	return Logger.With().Str("workspace", workspaceID).Logger()
}

// WithTable creates a child logger scoped to a workspace/table pair.
func WithTable(workspaceID, table string) zerolog.Logger {
	return Logger.With().Str("workspace", workspaceID).Str("table", table).Logger()
}

// WithMaterializer creates a child logger scoped to a named materializer
// instance within a workspace.
func WithMaterializer(workspaceID, name string) zerolog.Logger {
	return Logger.With().Str("workspace", workspaceID).Str("materializer", name).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}

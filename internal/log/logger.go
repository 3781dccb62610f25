// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log builds the hub's slog loggers and holds the shared field keys.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug, used for request and response bodies.
const LevelTrace = slog.Level(-8)

// Standard field keys for structured logging.
const (
	ComponentKey   = "component"
	IntegrationKey = "integration"
	UserIDKey      = "user_id"
	OperationKey   = "operation"
	MarkerKey      = "marker"
	ErrorKey       = "error"
	DurationKey    = "duration_ms"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Default: json
	Format Format `yaml:"format"`

	// Output is the writer for log output.
	// Default: os.Stderr
	Output io.Writer `yaml:"-"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - AREAHUB_DEBUG: true/1 to enable debug level and source logging (takes precedence)
//   - AREAHUB_LOG_LEVEL, then LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - AREAHUB_LOG_FORMAT, then LOG_FORMAT: json, text (default: json)
//   - AREAHUB_LOG_SOURCE, then LOG_SOURCE: 1 to enable source file/line
func FromEnv() *Config {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overlays environment settings onto cfg.
func ApplyEnv(cfg *Config) {
	debug := os.Getenv("AREAHUB_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	} else if level := firstEnv("AREAHUB_LOG_LEVEL", "LOG_LEVEL"); level != "" {
		cfg.Level = strings.ToLower(level)
	}

	if format := firstEnv("AREAHUB_LOG_FORMAT", "LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}
	if firstEnv("AREAHUB_LOG_SOURCE", "LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts a string level to slog.Level. Unknown values are Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
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

// WithComponent returns a new logger with a component name field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(ComponentKey, component)
}

// WithIntegration returns a new logger with an integration field.
func WithIntegration(logger *slog.Logger, integration string) *slog.Logger {
	return logger.With(IntegrationKey, integration)
}

// WithUser returns a new logger scoped to one user of one integration.
func WithUser(logger *slog.Logger, integration, userID string) *slog.Logger {
	return logger.With(
		slog.String(IntegrationKey, integration),
		slog.String(UserIDKey, userID),
	)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

// SanitizeToken masks a token, showing only the last 4 characters.
// Returns "[REDACTED]" for tokens of 8 characters or fewer.
func SanitizeToken(token string) string {
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return "..." + token[len(token)-4:]
}

// SanitizeSecret completely redacts a secret value.
func SanitizeSecret(string) string {
	return "[REDACTED]"
}

// Trace logs a message at trace level.
func Trace(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
}

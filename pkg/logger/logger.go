// Package logger builds the process slog.Logger: charmbracelet/log for
// humans, one JSON object per line for collectors.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"

	"metricbridge/pkg/config"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	envFormat    = "METRICBRIDGE_LOG_FORMAT"
	envLevel     = "METRICBRIDGE_LOG_LEVEL"
	envAddSource = "METRICBRIDGE_LOG_ADD_SOURCE"
)

// options is the logging config after env overrides and defaults.
type options struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger. Output always goes to stderr so the stdio
// channel keeps stdout to itself.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	if opts.format == FormatJSON {
		return slog.New(newJSONHandler(writer, opts.level, opts.addSource)), nil
	}

	text := charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           charmLevel(opts.level),
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		ReportCaller:    opts.addSource,
		Prefix:          "metricbridge",
		Formatter:       charmLog.TextFormatter,
	})
	return slog.New(text), nil
}

func resolveOptions(cfg config.LoggingConfig) (options, error) {
	opts := options{addSource: cfg.AddSource}

	opts.format = firstNonEmpty(os.Getenv(envFormat), cfg.Format, FormatText)
	if opts.format != FormatJSON && opts.format != FormatText {
		return options{}, fmt.Errorf("unsupported log format %q", opts.format)
	}

	level, err := parseLevel(firstNonEmpty(os.Getenv(envLevel), cfg.Level, "info"))
	if err != nil {
		return options{}, err
	}
	opts.level = level

	if env := strings.TrimSpace(os.Getenv(envAddSource)); env != "" {
		opts.addSource = parseBool(env)
	}

	return opts, nil
}

// firstNonEmpty returns the first value that is not blank, lowercased.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return strings.ToLower(trimmed)
		}
	}
	return ""
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseLevel(levelText string) (slog.Level, error) {
	switch levelText {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", levelText)
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

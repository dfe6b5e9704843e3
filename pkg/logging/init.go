package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

const (
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

// Initialize configures the process-wide slog default. Diagnostics go to
// stderr so step output piped from stdout stays clean.
func Initialize(loggingType string, logLevelName string) error {
	return initialize(loggingType, logLevelName, os.Stderr)
}

func initialize(loggingType string, logLevelName string, out io.Writer) error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(logLevelName)); err != nil {
		return fmt.Errorf("could not parse log level: %v", err)
	}

	options := slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	switch loggingType {
	case JSON:
		handler = slog.NewJSONHandler(out, &options)
	case Text:
		handler = slog.NewTextHandler(out, &options)
	case Tint:
		// The console format is for humans watching a run; no source
		// positions there.
		handler = tint.NewHandler(out, &tint.Options{
			Level: options.Level,
		})
	default:
		return fmt.Errorf("unknown logging type: %s", loggingType)
	}

	slog.SetDefault(slog.New(handler))
	slog.Debug("logging initialized", "type", loggingType, "level", logLevel)
	return nil
}

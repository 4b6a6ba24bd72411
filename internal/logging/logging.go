// Package logging builds the zap logger shared by a run.
package logging

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the level and encoding of the logger.
type Options struct {
	// Level is a zap level name: debug, info, warn, error. Empty means warn.
	Level string
	// Format is "console" or "json". Empty means console.
	Format string
	// OutputPaths defaults to stderr; program output owns stdout.
	OutputPaths []string
}

// New builds a production logger tagged with a fresh run_id. It returns the run id too.
func New(opts Options) (*zap.Logger, string, error) {
	config := zap.NewProductionConfig()

	level := zapcore.WarnLevel
	if raw := strings.TrimSpace(opts.Level); raw != "" {
		if err := level.Set(strings.ToLower(raw)); err != nil {
			return nil, "", fmt.Errorf("invalid log level %q: %w", raw, err)
		}
	}
	config.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case "json":
		config.Encoding = "json"
	default:
		return nil, "", fmt.Errorf("invalid log format %q", opts.Format)
	}

	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		config.OutputPaths = opts.OutputPaths
	}
	config.Sampling = nil

	logger, err := config.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to initialize logger: %w", err)
	}
	runID := uuid.NewString()
	return logger.With(zap.String("run_id", runID)), runID, nil
}

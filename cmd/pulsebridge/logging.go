package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/pulsebridge/pkg/config"
)

// configureLogger creates a logger for the command. --log-level takes
// precedence over the configured level; unknown levels are an error.
func configureLogger(cmd *cobra.Command, cfg *config.Config, out io.Writer) (*logrus.Logger, error) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	if levelStr == "" {
		levelStr = cfg.LogLevel
	}

	switch levelStr {
	case "", "info":
		levelStr = "info"
	case "debug", "warn", "error":
	case "warning":
		levelStr = "warn"
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}

	effective := *cfg
	effective.LogLevel = levelStr
	logger := effective.NewLogger()
	logger.SetOutput(out)
	return logger, nil
}

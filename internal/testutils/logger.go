package testutils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a debug-level logger that stays quiet unless
// PULSEBRIDGE_TEST_LOGS is set.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if os.Getenv("PULSEBRIDGE_TEST_LOGS") == "" {
		logger.SetOutput(io.Discard)
	}
	return logger
}

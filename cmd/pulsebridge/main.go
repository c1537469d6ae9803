package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Tests build their own copy so flag
// state never leaks between them.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pulsebridge",
		Short: "Biometric telemetry bridge",
		Long: `Reads a MAX30102 pulse oximeter and publishes heart rate, SpO2 and
heart rate variability once per second to:

- a BLE GATT peripheral (one notify characteristic per value)
- WebSocket clients, with an optional browser dashboard
- an MQTT broker
- a pseudo-terminal, one JSON line per reading

Use "pulsebridge watch" to follow a running bridge from the terminal.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(newServeCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

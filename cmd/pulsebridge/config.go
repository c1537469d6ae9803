package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/pulsebridge/pkg/config"
)

// addBridgeFlags registers the flags that override configuration values.
func addBridgeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("sinks", "", "Comma-separated sinks to enable (ble, ws, mqtt, tty)")
	f.String("sensor", "", "Sensor driver (max30102, simulated)")
	f.String("listen", "", "WebSocket listen address")
	f.String("web", "", "Dashboard listen address; empty string disables it")
	f.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	f.String("tty-link", "", "Create a symlink to the PTY device (e.g., /tmp/pulsebridge)")
	f.Duration("interval", 0, "Publish interval")
}

// loadConfig reads --config and applies any flag that was set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("sinks") {
		v, _ := f.GetString("sinks")
		cfg.Sinks = config.ParseSinks(v)
	}
	if f.Changed("sensor") {
		cfg.Sensor.Driver, _ = f.GetString("sensor")
	}
	if f.Changed("listen") {
		cfg.Stream.Listen, _ = f.GetString("listen")
	}
	if f.Changed("web") {
		cfg.Web.Listen, _ = f.GetString("web")
	}
	if f.Changed("mqtt-broker") {
		cfg.MQTT.Broker, _ = f.GetString("mqtt-broker")
	}
	if f.Changed("tty-link") {
		cfg.Serial.Link, _ = f.GetString("tty-link")
	}
	if f.Changed("interval") {
		cfg.Publish.Interval, _ = f.GetDuration("interval")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Prints the configuration that "serve" would run with: built-in defaults,
overlaid with --config, overlaid with any flags given here.

Example:
  pulsebridge config --sinks ws,mqtt --mqtt-broker tcp://localhost:1883 > pulsebridge.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			out, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addBridgeFlags(cmd)
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/pulsebridge"
	"github.com/srg/pulsebridge/bridge"
	"github.com/srg/pulsebridge/pkg/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long: `Starts sensor acquisition and publishes a reading with derived heart rate
variability to every enabled sink once per publish interval. Runs until
interrupted.

Example:
  pulsebridge serve
  pulsebridge serve --sensor simulated --sinks ws,tty --tty-link /tmp/pulsebridge
  pulsebridge serve --sinks mqtt --mqtt-broker tcp://localhost:1883`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	addBridgeFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Starting bridge", "Initializing", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	ready := func(b bridge.Bridge) {
		progress.Stop()
		bold.Fprintf(out, "Bridge running with sinks: %s\n", strings.Join(b.Sinks(), ", "))
		if addr := b.StreamAddr(); addr != nil {
			fmt.Fprintf(out, "  WebSocket: ws://%s%s\n", addr, cfg.Stream.Path)
		}
		if addr := b.DashboardAddr(); addr != nil {
			fmt.Fprintf(out, "  Dashboard: http://%s/\n", addr)
		}
		if path := b.TTYPath(); path != "" {
			fmt.Fprintf(out, "  TTY:       %s\n", path)
		}
		if cfg.HasSink(config.SinkMQTT) {
			fmt.Fprintf(out, "  MQTT:      %s (topic %s)\n", cfg.MQTT.Broker, cfg.MQTT.Topic)
		}
	}

	return bridge.Run(ctx, &bridge.Options{
		Config:    cfg,
		Logger:    logger,
		Dashboard: pulsebridge.DashboardHTML,
	}, progress.Callback(), ready)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/srg/pulsebridge/internal/stream"
)

const defaultWatchURL = "ws://localhost:8765/"

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [ws-url]",
		Short: "Follow readings from a running bridge",
		Long: fmt.Sprintf(`Connects to a bridge's WebSocket stream and prints one line per reading.

Example:
  pulsebridge watch
  pulsebridge watch ws://raspberrypi.local:8765/ --json

The URL defaults to %s.`, defaultWatchURL),
		Args: cobra.MaximumNArgs(1),
		RunE: runWatch,
	}
	cmd.Flags().Bool("json", false, "Print the raw JSON records")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	cmd.Flags().Int("count", 0, "Exit after this many records (0 means run until interrupted)")
	cmd.Flags().Duration("connect-timeout", 5*time.Second, "Connection timeout")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	target := defaultWatchURL
	if len(args) == 1 {
		target = args[0]
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid stream URL %q: must be ws:// or wss://", target)
	}
	raw, _ := cmd.Flags().GetBool("json")
	noColor, _ := cmd.Flags().GetBool("no-color")
	count, _ := cmd.Flags().GetInt("count")
	timeout, _ := cmd.Flags().GetDuration("connect-timeout")

	cmd.SilenceUsage = true

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	defer conn.Close()

	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	p := newRecordPrinter(cmd.OutOrStdout(), !noColor)
	for n := 0; count == 0 || n < count; n++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrServerClosed
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		if raw {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			continue
		}
		var rec stream.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("malformed record: %w", err)
		}
		p.Print(rec)
	}
	return nil
}

// recordPrinter renders one reading per line.
type recordPrinter struct {
	out   io.Writer
	label *color.Color
	value *color.Color
	idle  *color.Color
}

func newRecordPrinter(out io.Writer, colored bool) *recordPrinter {
	p := &recordPrinter{
		out:   out,
		label: color.New(color.FgCyan),
		value: color.New(color.FgGreen, color.Bold),
		idle:  color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{p.label, p.value, p.idle} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *recordPrinter) Print(r stream.Record) {
	ts := r.Time().Format("15:04:05")
	if r.BPM == 0 && r.SpO2 == 0 {
		fmt.Fprintf(p.out, "%s #%d %s\n", ts, r.Seq, p.idle.Sprint("no finger"))
		return
	}
	fmt.Fprintf(p.out, "%s #%d %s %s %s %s %s %s %s %s\n",
		ts, r.Seq,
		p.label.Sprint("BPM"), p.value.Sprintf("%.1f", r.BPM),
		p.label.Sprint("SpO2"), p.value.Sprintf("%.1f", r.SpO2),
		p.label.Sprint("HRSTD"), p.value.Sprintf("%.2f", r.HRStd),
		p.label.Sprint("RMSSD"), p.value.Sprintf("%.2f", r.RMSSD),
	)
}

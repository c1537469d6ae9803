// Package bridge assembles the acquisition source, publish scheduler and
// every configured sink into one running telemetry bridge.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/groutine"
	"github.com/srg/pulsebridge/internal/metrics"
	"github.com/srg/pulsebridge/internal/mqttsink"
	"github.com/srg/pulsebridge/internal/peripheral"
	"github.com/srg/pulsebridge/internal/sample"
	"github.com/srg/pulsebridge/internal/scheduler"
	"github.com/srg/pulsebridge/internal/sensor"
	"github.com/srg/pulsebridge/internal/serial"
	"github.com/srg/pulsebridge/internal/sink"
	"github.com/srg/pulsebridge/internal/stream"
	"github.com/srg/pulsebridge/internal/web"
	"github.com/srg/pulsebridge/pkg/config"
)

// InitError reports a component that could not be brought up. These are
// fatal: the bridge does not start with a partial set of transports.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Bridge is the running bridge as seen by the caller's ready callback.
type Bridge interface {
	Latest() sample.Sample
	StreamAddr() net.Addr    // nil when the ws sink is disabled
	DashboardAddr() net.Addr // nil when the dashboard is disabled
	TTYPath() string         // empty when the tty sink is disabled
	Sinks() []string
}

// Options contains everything needed to run a bridge.
type Options struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Dashboard []byte // page served by the dashboard; nil disables it

	// Driver overrides the driver selected by Config.Sensor.
	Driver sensor.Driver
	// MQTTConnect overrides how the broker connection is made.
	MQTTConnect func(mqttsink.ClientOptions) (mqttsink.Publisher, error)
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// ReadyCallback is called once every component is up.
type ReadyCallback func(Bridge)

type bridgeImpl struct {
	samples *sample.Bridge
	sinks   []string
	wsSrv   *stream.Server
	webSrv  *web.Server
	ttyPort *serial.Port
}

func (b *bridgeImpl) Latest() sample.Sample { return b.samples.Latest() }
func (b *bridgeImpl) Sinks() []string       { return append([]string(nil), b.sinks...) }

func (b *bridgeImpl) StreamAddr() net.Addr {
	if b.wsSrv == nil {
		return nil
	}
	return b.wsSrv.Addr()
}

func (b *bridgeImpl) DashboardAddr() net.Addr {
	if b.webSrv == nil {
		return nil
	}
	return b.webSrv.Addr()
}

func (b *bridgeImpl) TTYPath() string {
	if b.ttyPort == nil {
		return ""
	}
	return b.ttyPort.Path()
}

// Run brings up every configured component and blocks until ctx is
// cancelled. Component start-up failures are returned as *InitError; an
// acquisition failure while running is returned after an orderly shutdown.
func Run(ctx context.Context, opts *Options, progress ProgressCallback, ready ReadyCallback) error {
	if opts == nil || opts.Config == nil {
		return errors.New("failed to run bridge: configuration is required")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("failed to run bridge: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := &bridgeImpl{samples: sample.NewBridge()}
	var (
		sinks   []sink.Sink
		cleanup []func()
	)
	// transports are released in reverse start order
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()
	var servers groutine.Group
	fail := func(component string, err error) error {
		progress("Failed")
		cancel()
		for _, s := range sinks {
			_ = s.Close(context.Background())
		}
		servers.Wait()
		return &InitError{Component: component, Err: err}
	}

	for _, name := range cfg.Sinks {
		progress("Starting " + name)
		s, err := startSink(runCtx, name, opts, b, &servers, &cleanup, logger)
		if err != nil {
			return fail(name, err)
		}
		sinks = append(sinks, sink.NewAsync(s, logger))
		b.sinks = append(b.sinks, name)
	}

	if len(opts.Dashboard) > 0 && cfg.Web.Listen != "" && b.wsSrv != nil {
		progress("Starting dashboard")
		b.webSrv = web.NewServer(opts.Dashboard, web.StreamInfo{
			Port: web.PortOf(b.wsSrv.Addr().String()),
			Path: cfg.Stream.Path,
		}, logger)
		if err := b.webSrv.Listen(cfg.Web.Listen); err != nil {
			b.webSrv = nil
			return fail("web", err)
		}
		servers.Go(runCtx, "web-serve", func(ctx context.Context) {
			if err := b.webSrv.Serve(ctx); err != nil {
				logger.WithError(err).Error("Dashboard server failed")
			}
		})
	}

	driver := opts.Driver
	if driver == nil {
		driver = newDriver(cfg.Sensor, logger)
	}
	source := sensor.NewSource(driver, sensor.SourceOptions{
		PollInterval: cfg.Sensor.PollInterval,
		StopTimeout:  cfg.Sensor.StopTimeout,
		Logger:       logger,
	})

	sched, err := scheduler.New(scheduler.Options{
		Interval:     cfg.Publish.Interval,
		CloseTimeout: cfg.Publish.CloseTimeout,
		Bridge:       b.samples,
		Engine:       metrics.NewEngine(cfg.Publish.WindowSize),
		Sinks:        sinks,
		Logger:       logger,
	})
	if err != nil {
		return fail("scheduler", err)
	}

	progress("Starting sensor")
	var acquisition groutine.Group
	sourceErr := make(chan error, 1)
	acquisition.Go(runCtx, "sensor-source", func(ctx context.Context) {
		if err := source.Run(ctx, b.samples); err != nil {
			sourceErr <- err
			cancel()
		}
	})

	progress("Running")
	if ready != nil {
		ready(b)
	}

	// Blocks until ctx is cancelled (or the source fails), then closes sinks.
	_ = sched.Run(runCtx)

	progress("Stopping")
	cancel()
	acquisition.Wait()
	servers.Wait()

	select {
	case err := <-sourceErr:
		return &InitError{Component: "sensor", Err: err}
	default:
	}
	return nil
}

func startSink(
	ctx context.Context,
	name string,
	opts *Options,
	b *bridgeImpl,
	servers *groutine.Group,
	cleanup *[]func(),
	logger *logrus.Logger,
) (sink.Sink, error) {
	cfg := opts.Config
	switch name {
	case config.SinkBLE:
		defs := make([]peripheral.ChannelDef, 0, len(cfg.Peripheral.Channels))
		for _, c := range cfg.Peripheral.Channels {
			defs = append(defs, peripheral.ChannelDef{Name: c.Name, UUID: c.UUID})
		}
		registry, err := peripheral.NewRegistryWith(defs)
		if err != nil {
			return nil, err
		}
		srv := peripheral.NewGATTServer(registry, peripheral.ServerOptions{
			ServiceUUID: cfg.Peripheral.ServiceUUID,
			LocalName:   cfg.Peripheral.LocalName,
			Logger:      logger,
		})
		if err := srv.Start(ctx); err != nil {
			return nil, err
		}
		*cleanup = append(*cleanup, func() {
			if err := srv.Stop(); err != nil {
				logger.WithError(err).Warn("BLE peripheral stop failed")
			}
		})
		return peripheral.NewSink(registry, logger), nil

	case config.SinkWS:
		hub := stream.NewHub(cfg.Stream.Mailbox, logger)
		srv := stream.NewServer(hub, stream.ServerOptions{
			Path:           cfg.Stream.Path,
			AllowedOrigins: cfg.Stream.AllowedOrigins,
			PingInterval:   cfg.Stream.PingInterval,
			WriteTimeout:   cfg.Stream.WriteTimeout,
			Logger:         logger,
		})
		if err := srv.Listen(cfg.Stream.Listen); err != nil {
			return nil, err
		}
		b.wsSrv = srv
		servers.Go(ctx, "stream-serve", func(ctx context.Context) {
			if err := srv.Serve(ctx); err != nil {
				logger.WithError(err).Error("Stream server failed")
			}
		})
		return stream.NewSink(hub, logger), nil

	case config.SinkMQTT:
		connect := opts.MQTTConnect
		if connect == nil {
			connect = func(o mqttsink.ClientOptions) (mqttsink.Publisher, error) {
				return mqttsink.Connect(o)
			}
		}
		pub, err := connect(mqttsink.ClientOptions{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return mqttsink.NewSink(pub, cfg.MQTT.Topic, cfg.MQTT.QoS, cfg.MQTT.Retain), nil

	case config.SinkTTY:
		port, err := serial.OpenPort(serial.PortOptions{
			BufferSize: cfg.Serial.BufferSize,
			Link:       cfg.Serial.Link,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		b.ttyPort = port
		return serial.NewSink(port, logger), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

func newDriver(cfg config.SensorConfig, logger *logrus.Logger) sensor.Driver {
	if cfg.Driver == config.DriverSimulated {
		return sensor.NewSimulator(sensor.SimulatorOptions{
			WarmUp: cfg.WarmUp,
			Seed:   cfg.Seed,
		})
	}
	return sensor.NewMAX30102(sensor.MAX30102Options{
		Device:       cfg.Device,
		Address:      cfg.Address,
		LoopInterval: cfg.PollInterval,
		LEDCurrent:   cfg.LEDCurrent,
		Logger:       logger,
	})
}

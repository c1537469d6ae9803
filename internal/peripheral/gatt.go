package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/pulsebridge/internal/groutine"
)

// DefaultLocalName is the advertised device name.
const DefaultLocalName = "PulseBridge"

// Device is the subset of ble.Device the GATT server needs.
type Device interface {
	AddService(svc *ble.Service) error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
	Stop() error
}

// ServerOptions configures a GATTServer.
type ServerOptions struct {
	ServiceUUID string
	LocalName   string
	Logger      *logrus.Logger
}

// GATTServer serves a Registry as a primary GATT service. Each channel becomes
// a read+notify characteristic; notifications are pushed whenever the channel
// value changes.
type GATTServer struct {
	registry *Registry
	opts     ServerOptions
	logger   *logrus.Logger

	mu     sync.Mutex
	dev    Device
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGATTServer creates a server for registry. Nothing is registered with the
// host adapter until Start.
func NewGATTServer(registry *Registry, opts ServerOptions) *GATTServer {
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = DefaultServiceUUID
	}
	if opts.LocalName == "" {
		opts.LocalName = DefaultLocalName
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &GATTServer{registry: registry, opts: opts, logger: logger}
}

// Service builds the GATT service definition for the registry.
func (s *GATTServer) Service() (*ble.Service, error) {
	u, err := ble.Parse(s.opts.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", s.opts.ServiceUUID, err)
	}
	svc := ble.NewService(u)
	for _, ch := range s.registry.Channels() {
		c := svc.NewCharacteristic(ch.UUID())
		c.HandleRead(readHandler(ch))
		c.HandleWrite(writeHandler(ch, s.logger))
		c.HandleNotify(notifyHandler(ch, s.logger))
		c.HandleIndicate(notifyHandler(ch, s.logger))
	}
	return svc, nil
}

func readHandler(ch *Channel) ble.ReadHandler {
	return ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		_, _ = rsp.Write(ch.Value())
	})
}

// writeHandler stores a central's write as the channel value until the next
// publish overwrites it.
func writeHandler(ch *Channel, logger *logrus.Logger) ble.WriteHandler {
	return ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		ch.Set(req.Data())
		logger.WithFields(logrus.Fields{
			"channel": ch.Name(),
			"bytes":   len(req.Data()),
		}).Debug("Characteristic written by central")
	})
}

func notifyHandler(ch *Channel, logger *logrus.Logger) ble.NotifyHandler {
	return ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		id, wake := ch.Subscribe()
		defer ch.Unsubscribe(id)

		log := logger.WithField("channel", ch.Name())
		log.Debug("Central subscribed")
		for {
			select {
			case <-n.Context().Done():
				log.Debug("Central unsubscribed")
				return
			case <-wake:
				if _, err := n.Write(ch.Value()); err != nil {
					log.WithError(err).Debug("Notification failed; dropping subscription")
					return
				}
			}
		}
	})
}

// Start opens the host adapter, registers the service and begins advertising.
// Registration failures are returned; advertising runs until Stop or ctx ends.
func (s *GATTServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return errors.New("GATT server already started")
	}

	svc, err := s.Service()
	if err != nil {
		return err
	}

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("open BLE adapter: %w", err)
	}
	if err := dev.AddService(svc); err != nil {
		_ = dev.Stop()
		return fmt.Errorf("register GATT service: %w", err)
	}

	advCtx, cancel := context.WithCancel(ctx)
	s.dev, s.cancel, s.done = dev, cancel, make(chan struct{})

	done := s.done
	groutine.Go(advCtx, "ble-advertise", func(ctx context.Context) {
		defer close(done)
		err := dev.AdvertiseNameAndServices(ctx, s.opts.LocalName, svc.UUID)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Error("BLE advertising stopped")
		}
	})

	s.logger.WithFields(logrus.Fields{
		"name":            s.opts.LocalName,
		"service":         s.opts.ServiceUUID,
		"characteristics": len(svc.Characteristics),
	}).Info("BLE peripheral advertising")
	return nil
}

// Stop ends advertising and releases the adapter. Safe to call when not started.
func (s *GATTServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	s.cancel()
	<-s.done
	err := s.dev.Stop()
	s.dev = nil
	if err != nil {
		return fmt.Errorf("stop BLE adapter: %w", err)
	}
	return nil
}

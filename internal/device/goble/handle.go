package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/device"
	"github.com/srg/penlink/internal/groutine"
)

// Handle is a BLE peripheral addressed by its MAC (Linux) or CoreBluetooth
// identifier (macOS).
type Handle struct {
	reg    *Registry
	id     string
	logger *logrus.Logger

	mu        sync.Mutex
	name      string
	client    ble.Client
	listeners map[int]func()
	nextID    int
}

var _ device.Handle = (*Handle)(nil)

func newHandle(reg *Registry, id, name string, logger *logrus.Logger) *Handle {
	return &Handle{
		reg:       reg,
		id:        id,
		name:      name,
		logger:    logger,
		listeners: make(map[int]func()),
	}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

// rename keeps the latest non-empty advertised name.
func (h *Handle) rename(name string) {
	if name == "" {
		return
	}
	h.mu.Lock()
	h.name = name
	h.mu.Unlock()
}

func (h *Handle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client != nil
}

// OpenLink dials the peripheral and starts watching the link.
func (h *Handle) OpenLink(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}

	dev, err := h.reg.device()
	if err != nil {
		return err
	}

	h.logger.WithField("device_id", h.id).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(h.id))
	if err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", h.id, NormalizeError(err))
	}

	h.mu.Lock()
	if h.client != nil {
		// Lost a race with a concurrent OpenLink; keep the first link.
		h.mu.Unlock()
		_ = client.CancelConnection()
		return nil
	}
	h.client = client
	h.mu.Unlock()

	h.monitor(client)
	h.logger.WithField("device_id", h.id).Info("BLE device connected successfully")
	return nil
}

// monitor reports link loss once the client's Disconnected channel closes.
func (h *Handle) monitor(client ble.Client) {
	groutine.Go(context.Background(), "penlink-link-monitor", func(context.Context) {
		<-client.Disconnected()
		h.logger.WithField("device_id", h.id).Warn("BLE stack reported disconnection")
		h.linkDown(client)
	})
}

// CloseLink cancels the connection. Listeners are notified as for any other
// link loss.
func (h *Handle) CloseLink() error {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return nil
	}

	err := client.CancelConnection()
	h.linkDown(client)
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// linkDown clears client if it is still current and notifies listeners
// without the lock held.
func (h *Handle) linkDown(client ble.Client) {
	h.mu.Lock()
	if h.client != client {
		h.mu.Unlock()
		return
	}
	h.client = nil
	fns := make([]func(), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *Handle) OnDisconnected(fn func()) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

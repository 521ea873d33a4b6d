package connmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/device"
	"github.com/srg/penlink/internal/groutine"
	"github.com/srg/penlink/internal/store"
)

// Reconnect tries to restore the link to the remembered device.
//
// A silent attempt (userInitiated false) only uses devices the registry can
// enumerate; if the device is not there the manager moves to
// AwaitingUserConfirmation without showing the picker. A user-initiated
// attempt falls back to the picker scoped to the remembered identity.
//
// Reconnect never fails: the outcome is observable only through State. It is
// a no-op while connected, while another attempt is in flight, or when no
// device has been paired yet.
func (m *Manager) Reconnect(ctx context.Context, userInitiated bool) {
	log := m.logger.WithField("user_initiated", userInitiated)

	m.mu.Lock()
	if m.linkAliveLocked() {
		m.mu.Unlock()
		log.Debug("Already connected, reconnect skipped")
		return
	}
	if m.busy {
		state := m.state
		m.mu.Unlock()
		entry := log.WithField("state", state.String())
		if userInitiated {
			entry.Info("Attempt in flight, reconnect dropped")
		} else {
			entry.Debug("Attempt in flight, reconnect dropped")
		}
		return
	}
	info, ok, err := store.LoadDeviceInfo(m.store)
	if err != nil {
		m.mu.Unlock()
		log.WithError(err).Warn("Cannot read remembered device")
		return
	}
	if !ok {
		m.mu.Unlock()
		log.WithError(device.ErrNoStoredIdentity).Debug("Nothing to reconnect to")
		return
	}
	if userInitiated {
		m.suspended = false
	}
	attempt := m.beginLocked(Reconnecting)
	m.mu.Unlock()
	defer m.finish(attempt)

	log = log.WithFields(logrus.Fields{
		"attempt":     attempt,
		"device_id":   info.ID,
		"device_name": info.Name,
	})

	h, err := device.FindAuthorized(ctx, m.registry, info.ID)
	switch {
	case errors.Is(err, device.ErrEnumerationUnsupported):
		log.Debug("Registry cannot enumerate authorized devices")
	case err != nil:
		log.WithError(err).Warn("Listing authorized devices failed")
		m.resolve(attempt, AwaitingUserConfirmation, err)
		return
	}

	if h != nil {
		if err := m.openLink(ctx, h); err != nil {
			log.WithError(err).Warn("Reconnection failed")
			m.resolve(attempt, AwaitingUserConfirmation, err)
			return
		}
		if m.attach(attempt, h, false) {
			log.Info("Reconnected to device")
		}
		return
	}

	if !userInitiated {
		// The picker needs a user gesture; leave it to the user.
		log.Info("Remembered device not reachable without user action")
		m.resolve(attempt, AwaitingUserConfirmation, nil)
		return
	}

	m.advance(attempt, Connecting)
	filter := device.Filter{
		Services: m.opts.Services,
		Name:     info.Name,
		ID:       info.ID,
		MatchAny: true,
	}
	h, err = m.registry.RequestDevice(ctx, filter)
	if err != nil {
		log.WithError(err).Warn("Reconnection picker failed")
		m.resolve(attempt, AwaitingUserConfirmation, err)
		return
	}
	if err := m.openLink(ctx, h); err != nil {
		log.WithError(err).WithField("picked_id", h.ID()).Warn("Reconnection failed")
		m.resolve(attempt, AwaitingUserConfirmation, err)
		return
	}
	if m.attach(attempt, h, true) {
		log.WithField("picked_id", h.ID()).Info("Reconnected to device")
	}
}

// beginLocked starts a new attempt in state to and marks the manager busy.
// A handle whose link already died is dropped here.
func (m *Manager) beginLocked(to State) uint64 {
	m.attempt++
	m.busy = true
	if m.idle == nil {
		m.idle = make(chan struct{})
	}
	m.lastErr = nil
	if m.handle != nil {
		_, unsub := m.releaseLocked()
		if unsub != nil {
			unsub()
		}
	}
	m.setStateLocked(to)
	return m.attempt
}

// advance moves a still-current attempt to another in-flight state.
func (m *Manager) advance(attempt uint64, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt {
		return
	}
	m.setStateLocked(to)
}

// resolve ends a still-current attempt in a resting state.
func (m *Manager) resolve(attempt uint64, to State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt {
		m.logger.WithField("attempt", attempt).Debug("Discarding result of superseded attempt")
		return
	}
	m.lastErr = err
	m.setStateLocked(to)
}

// finish clears the busy flag whatever the outcome of the attempt was.
func (m *Manager) finish(attempt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt || !m.busy {
		return
	}
	m.clearBusyLocked()
	m.publishLocked()
}

// clearBusyLocked ends the busy period and wakes ReconnectManually waiters.
func (m *Manager) clearBusyLocked() {
	m.busy = false
	if m.idle != nil {
		close(m.idle)
		m.idle = nil
	}
}

// attach makes h the current device and monitors it for link loss. It returns
// false if the attempt was superseded, in which case the link it opened is
// closed again unless the same handle is already current. With remember set,
// h becomes the remembered device. A link that died before the monitor was
// armed is treated as lost at once.
func (m *Manager) attach(attempt uint64, h device.Handle, remember bool) bool {
	unsub := h.OnDisconnected(func() { m.handleLinkLost(h) })

	m.mu.Lock()
	if attempt != m.attempt {
		current := m.handle == h
		m.mu.Unlock()
		unsub()
		m.logger.WithFields(logrus.Fields{
			"attempt":   attempt,
			"device_id": h.ID(),
		}).Debug("Discarding link from superseded attempt")
		if !current {
			if err := h.CloseLink(); err != nil {
				m.logger.WithError(err).Debug("Failed to close stale link")
			}
		}
		return false
	}

	if remember {
		m.persist(h)
	}

	_, old := m.releaseLocked()
	if !h.IsConnected() {
		m.clearBusyLocked()
		m.lastErr = device.ErrNotConnected
		m.logger.WithField("device_id", h.ID()).Warn("Link to device lost while attaching")
		m.setStateLocked(Disconnected)
		m.triggerLocked("link-lost")
		m.mu.Unlock()
		unsub()
		if old != nil {
			old()
		}
		return true
	}

	m.handle = h
	m.unsubscribe = unsub
	m.device = &DeviceRef{ID: h.ID(), Name: h.Name()}
	m.lastErr = nil
	m.setStateLocked(Connected)
	m.mu.Unlock()

	if old != nil {
		old()
	}
	return true
}

// remonitor re-subscribes to link loss of an existing handle after a restart.
func (m *Manager) remonitor(h device.Handle) {
	unsub := h.OnDisconnected(func() { m.handleLinkLost(h) })

	m.mu.Lock()
	if m.handle == h && m.unsubscribe == nil {
		m.unsubscribe = unsub
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	unsub()
}

// openLink opens h's link, bounded by the link timeout even if the transport
// ignores cancellation. A link that opens after the deadline is closed unless
// it became current in the meantime.
func (m *Manager) openLink(ctx context.Context, h device.Handle) error {
	if h.IsConnected() {
		return nil
	}

	linkCtx, cancel := context.WithTimeout(ctx, m.opts.LinkTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		gaveUp bool
	)
	result := make(chan error, 1)

	groutine.Go(linkCtx, "penlink-link-open", func(ctx context.Context) {
		err := h.OpenLink(ctx)

		mu.Lock()
		abandoned := gaveUp
		if !abandoned {
			result <- err
		}
		mu.Unlock()

		if abandoned && err == nil {
			m.closeIfStale(h)
		}
	})

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%w: %w", device.ErrLinkOpenFailed, device.NormalizeError(err))
		}
		return nil
	case <-linkCtx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%w: %w", device.ErrLinkOpenFailed, device.NormalizeError(err))
		}
		return nil
	default:
	}
	gaveUp = true

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", device.ErrLinkOpenFailed, ctx.Err())
	}
	return fmt.Errorf("%w: %w: no link after %s", device.ErrLinkOpenFailed, device.ErrTimeout, m.opts.LinkTimeout)
}

func (m *Manager) closeIfStale(h device.Handle) {
	m.mu.Lock()
	current := m.handle == h
	m.mu.Unlock()
	if current {
		return
	}
	m.logger.WithField("device_id", h.ID()).Debug("Closing link that opened after its deadline")
	if err := h.CloseLink(); err != nil {
		m.logger.WithError(err).Debug("Failed to close late link")
	}
}

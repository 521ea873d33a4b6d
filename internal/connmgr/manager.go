package connmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/device"
	"github.com/srg/penlink/internal/groutine"
	"github.com/srg/penlink/internal/resume"
	"github.com/srg/penlink/internal/ringchan"
	"github.com/srg/penlink/internal/store"
)

// Manager drives the connection to one peripheral. Create it with New and
// share the pointer with whatever renders its state.
type Manager struct {
	registry device.Registry
	store    store.Store
	opts     Options
	logger   *logrus.Logger

	mu          sync.Mutex
	state       State
	handle      device.Handle
	device      *DeviceRef
	unsubscribe func()
	busy        bool
	idle        chan struct{} // closed when busy clears
	attempt     uint64
	lastErr     error
	suspended   bool // user disconnected; automatic triggers are skipped

	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	timer    Timer
	timerGen uint64
	sources  []resume.Source
	detach   []func()
	watchers map[*ringchan.RingChannel[Snapshot]]struct{}

	tasks groutine.Group
}

// New creates a Manager in the Disconnected state. Background behaviour starts
// with Start.
func New(registry device.Registry, st store.Store, opts *Options) *Manager {
	o := opts.withDefaults()
	return &Manager{
		registry: registry,
		store:    st,
		opts:     o,
		logger:   o.Logger,
		state:    Disconnected,
		watchers: make(map[*ringchan.RingChannel[Snapshot]]struct{}),
	}
}

// Start arms the retry timer, subscribes the attached resume sources and
// kicks off a silent reconnect to the remembered device.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.armTimerLocked()
	for _, src := range m.sources {
		m.detach = append(m.detach, m.subscribeLocked(src))
	}
	h := m.handle
	m.triggerLocked("startup")
	m.mu.Unlock()

	if h != nil {
		m.remonitor(h)
	}

	m.logger.WithFields(logrus.Fields{
		"retry_interval": m.opts.RetryInterval,
		"link_timeout":   m.opts.LinkTimeout,
		"sources":        len(m.sources),
	}).Info("Connection manager started")
	return nil
}

// Stop cancels the retry timer and detaches every listener. In-flight
// triggered attempts are cancelled and waited for. Stop is idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	detach := m.detach
	m.detach = nil
	unsub := m.unsubscribe
	m.unsubscribe = nil
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	for _, d := range detach {
		d()
	}
	if unsub != nil {
		unsub()
	}
	m.tasks.Wait()

	m.logger.Info("Connection manager stopped")
	return nil
}

// AttachResumeSource makes every resume event trigger a silent reconnect.
// Sources attached before Start are subscribed when the manager starts.
func (m *Manager) AttachResumeSource(src resume.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, src)
	if m.started {
		m.detach = append(m.detach, m.subscribeLocked(src))
	}
}

// State returns a snapshot of the current state.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Watch streams state snapshots, starting with the current one. Slow readers
// lose intermediate snapshots, never the latest. The channel is closed when
// ctx is done.
func (m *Manager) Watch(ctx context.Context) <-chan Snapshot {
	rc := ringchan.New[Snapshot](watchBuffer)

	m.mu.Lock()
	m.watchers[rc] = struct{}{}
	rc.Send(m.snapshotLocked())
	m.mu.Unlock()

	groutine.Go(ctx, "penlink-watch", func(ctx context.Context) {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, rc)
		m.mu.Unlock()
		rc.Close()
	})
	return rc.C()
}

// Connect pairs with a new device through the picker. The resulting state is
// Connected on success and Disconnected otherwise; the error is returned for
// reporting only.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.linkAliveLocked() {
		m.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	m.suspended = false
	attempt := m.beginLocked(Connecting)
	m.mu.Unlock()
	defer m.finish(attempt)

	log := m.logger.WithField("attempt", attempt)

	h, err := m.registry.RequestDevice(ctx, device.Filter{Services: m.opts.Services})
	if err != nil {
		log.WithError(err).Warn("Pairing failed")
		m.resolve(attempt, Disconnected, err)
		return fmt.Errorf("request device: %w", err)
	}

	if err := m.openLink(ctx, h); err != nil {
		log.WithError(err).WithField("device_id", h.ID()).Warn("Pairing failed")
		m.resolve(attempt, Disconnected, err)
		return err
	}

	if !m.attach(attempt, h, true) {
		return &device.ConnectionError{State: device.NotConnected, Msg: "pairing superseded"}
	}

	log.WithFields(logrus.Fields{
		"device_id":   h.ID(),
		"device_name": h.Name(),
	}).Info("Paired with device")
	return nil
}

// ReconnectManually is a user-initiated Reconnect. An attempt already in
// flight is waited for first, so the request is not lost to a silent retry.
func (m *Manager) ReconnectManually(ctx context.Context) {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()

	if idle != nil {
		m.logger.Info("Waiting for the attempt in flight before reconnecting")
		select {
		case <-idle:
		case <-ctx.Done():
			return
		}
	}
	m.Reconnect(ctx, true)
}

// Disconnect closes the link on the user's behalf. Automatic reconnection is
// suspended until the next Connect or ReconnectManually. An attempt in flight
// is superseded and its result discarded.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.suspended = true
	if m.busy {
		m.attempt++
		m.clearBusyLocked()
	}
	h, unsub := m.releaseLocked()
	m.lastErr = nil
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if h == nil {
		return nil
	}

	m.logger.WithField("device_id", h.ID()).Info("Disconnecting from device")
	if err := h.CloseLink(); err != nil {
		return fmt.Errorf("close link: %w", err)
	}
	return nil
}

// persist remembers h as the last paired device. Failures are logged only:
// the link is up regardless. Called with m.mu held.
func (m *Manager) persist(h device.Handle) {
	info := store.DeviceInfo{ID: h.ID(), Name: h.Name()}
	if err := store.SaveDeviceInfo(m.store, info); err != nil {
		m.logger.WithError(err).WithField("device_id", info.ID).Warn("Failed to remember device")
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     m.state,
		Busy:      m.busy,
		Attempt:   m.attempt,
		LastError: m.lastErr,
	}
	if m.state == Connected && m.device != nil {
		ref := *m.device
		s.Device = &ref
	}
	return s
}

func (m *Manager) publishLocked() {
	snap := m.snapshotLocked()
	for rc := range m.watchers {
		rc.Send(snap)
	}
}

func (m *Manager) setStateLocked(to State) {
	from := m.state
	m.state = to
	if from != to {
		m.logger.WithFields(logrus.Fields{
			"from":    from.String(),
			"to":      to.String(),
			"attempt": m.attempt,
		}).Info("Connection state changed")
	}
	m.publishLocked()
}

// linkAliveLocked reports a Connected state backed by a live link.
func (m *Manager) linkAliveLocked() bool {
	return m.state == Connected && m.handle != nil && m.handle.IsConnected()
}

// releaseLocked forgets the current handle and returns it with its pending
// unsubscribe, which the caller runs after unlocking.
func (m *Manager) releaseLocked() (device.Handle, func()) {
	h, unsub := m.handle, m.unsubscribe
	m.handle = nil
	m.unsubscribe = nil
	m.device = nil
	return h, unsub
}

func (m *Manager) runCtxLocked() context.Context {
	if m.started && m.ctx != nil {
		return m.ctx
	}
	return context.Background()
}

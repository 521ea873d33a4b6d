package connmgr

import (
	"context"

	"github.com/srg/penlink/internal/device"
	"github.com/srg/penlink/internal/resume"
)

// armTimerLocked replaces the pending retry timer with a fresh one. Each
// timer carries a generation so a callback racing with its replacement is
// ignored.
func (m *Manager) armTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = m.opts.Scheduler.AfterFunc(m.opts.RetryInterval, func() { m.onTimer(gen) })
}

// onTimer re-arms first so exactly one further firing is scheduled whatever
// the attempt below does.
func (m *Manager) onTimer(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || gen != m.timerGen {
		return
	}
	m.armTimerLocked()
	if !m.linkAliveLocked() {
		m.triggerLocked("timer")
	}
}

func (m *Manager) subscribeLocked(src resume.Source) func() {
	return src.Subscribe(m.onResume)
}

func (m *Manager) onResume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.triggerLocked("resume")
}

// handleLinkLost reacts to the disconnect signal of h. Signals from handles
// that are no longer current are ignored.
func (m *Manager) handleLinkLost(h device.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != h {
		m.logger.WithField("device_id", h.ID()).Debug("Ignoring disconnect of a stale handle")
		return
	}

	_, unsub := m.releaseLocked()
	if unsub != nil {
		unsub()
	}
	m.lastErr = device.ErrNotConnected
	m.logger.WithField("device_id", h.ID()).Warn("Link to device lost")
	m.setStateLocked(Disconnected)
	m.triggerLocked("link-lost")
}

// triggerLocked starts a silent reconnect on a tracked goroutine. Starting it
// under the lock orders it before a concurrent Stop's wait.
func (m *Manager) triggerLocked(reason string) {
	if m.suspended {
		m.logger.WithField("trigger", reason).Debug("Automatic reconnect suspended after user disconnect")
		return
	}
	m.tasks.Go(m.runCtxLocked(), "penlink-reconnect-"+reason, func(ctx context.Context) {
		m.Reconnect(ctx, false)
	})
}

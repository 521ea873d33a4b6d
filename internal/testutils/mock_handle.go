package testutils

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/srg/penlink/internal/device"
)

// MockHandle is an in-memory device.Handle. Link loss is simulated with Drop.
type MockHandle struct {
	id   string
	name string

	mu        sync.Mutex
	connected bool
	openErr   error
	gate      chan struct{}
	ignoreCtx bool
	listeners map[int]func()
	nextID    int

	openCalls  atomic.Int32
	closeCalls atomic.Int32
}

var _ device.Handle = (*MockHandle)(nil)

func NewMockHandle(id, name string) *MockHandle {
	return &MockHandle{
		id:        id,
		name:      name,
		listeners: make(map[int]func()),
	}
}

// WithOpenError makes OpenLink fail with err until it is replaced; nil clears it.
func (h *MockHandle) WithOpenError(err error) *MockHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErr = err
	return h
}

// WithConnected sets the link state without calling OpenLink.
func (h *MockHandle) WithConnected(connected bool) *MockHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
	return h
}

// BlockOpen makes OpenLink wait until the returned release is called or the
// context passed to OpenLink ends.
func (h *MockHandle) BlockOpen() (release func()) {
	return h.block(false)
}

// BlockOpenIgnoringContext makes OpenLink wait for release only, like a radio
// stack that does not honour cancellation.
func (h *MockHandle) BlockOpenIgnoringContext() (release func()) {
	return h.block(true)
}

func (h *MockHandle) block(ignoreCtx bool) func() {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gate = gate
	h.ignoreCtx = ignoreCtx
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.gate == gate {
				h.gate = nil
			}
			h.mu.Unlock()
			close(gate)
		})
	}
}

func (h *MockHandle) ID() string   { return h.id }
func (h *MockHandle) Name() string { return h.name }

func (h *MockHandle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *MockHandle) OpenLink(ctx context.Context) error {
	h.openCalls.Add(1)

	h.mu.Lock()
	gate, ignoreCtx := h.gate, h.ignoreCtx
	h.mu.Unlock()

	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return h.openErr
	}
	h.connected = true
	return nil
}

// CloseLink closes the link and notifies the remaining listeners like a
// transport reporting its own teardown.
func (h *MockHandle) CloseLink() error {
	h.closeCalls.Add(1)
	h.Drop()
	return nil
}

func (h *MockHandle) OnDisconnected(fn func()) func() {
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

// Drop simulates link loss. Listeners run on the calling goroutine without
// the handle lock held.
func (h *MockHandle) Drop() {
	h.mu.Lock()
	wasConnected := h.connected
	h.connected = false
	fns := make([]func(), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	if !wasConnected {
		return
	}
	for _, fn := range fns {
		fn()
	}
}

func (h *MockHandle) OpenCalls() int  { return int(h.openCalls.Load()) }
func (h *MockHandle) CloseCalls() int { return int(h.closeCalls.Load()) }

// ListenerCount returns the number of live OnDisconnected registrations.
func (h *MockHandle) ListenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Package resume provides event sources that report when the application
// becomes active again: returning from sleep, being continued after a stop, or
// an explicit nudge from the user interface.
package resume

import "sync"

// Source raises an edge every time the host environment resumes.
type Source interface {
	// Subscribe registers fn for resume events. The returned function removes
	// the registration and is safe to call more than once.
	Subscribe(fn func()) (cancel func())
}

// Broadcaster is a Source raised by calling Resume. It adapts UI events and
// other in-process triggers.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

// NewBroadcaster creates a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func())}
}

func (b *Broadcaster) Subscribe(fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Resume notifies every current subscriber on the calling goroutine.
func (b *Broadcaster) Resume() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

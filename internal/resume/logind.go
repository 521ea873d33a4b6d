package resume

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/groutine"
)

const (
	logindPath       = dbus.ObjectPath("/org/freedesktop/login1")
	logindManager    = "org.freedesktop.login1.Manager"
	prepareForSleep  = "PrepareForSleep"
	prepareForSleepM = logindManager + "." + prepareForSleep
)

// LogindSource reports system wake-ups announced by systemd-logind. logind
// emits PrepareForSleep(true) before suspending and PrepareForSleep(false)
// after resuming; only the latter is a resume event.
type LogindSource struct {
	conn   *dbus.Conn
	logger *logrus.Logger

	mu     sync.Mutex
	closed bool
}

// NewLogindSource opens a private system bus connection.
func NewLogindSource(logger *logrus.Logger) (*LogindSource, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &LogindSource{conn: conn, logger: logger}, nil
}

func (l *LogindSource) Subscribe(fn func()) func() {
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindManager),
		dbus.WithMatchMember(prepareForSleep),
	}
	if err := l.conn.AddMatchSignal(matchOpts...); err != nil {
		l.logger.WithError(err).Warn("Failed to watch logind sleep signals")
		return func() {}
	}

	ch := make(chan *dbus.Signal, 4)
	l.conn.Signal(ch)

	ctx, cancel := context.WithCancel(context.Background())
	groutine.Go(ctx, "resume-logind", func(ctx context.Context) {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if isWakeSignal(sig) {
					l.logger.Debug("System resumed from sleep")
					fn()
				}
			case <-ctx.Done():
				return
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			l.conn.RemoveSignal(ch)
			if err := l.conn.RemoveMatchSignal(matchOpts...); err != nil {
				l.logger.WithError(err).Debug("Failed to remove logind match rule")
			}
		})
	}
}

// Close releases the bus connection.
func (l *LogindSource) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}

// isWakeSignal reports whether sig is PrepareForSleep(false).
func isWakeSignal(sig *dbus.Signal) bool {
	if sig == nil || sig.Name != prepareForSleepM || len(sig.Body) < 1 {
		return false
	}
	sleeping, ok := sig.Body[0].(bool)
	return ok && !sleeping
}

//go:build linux || darwin

package resume

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/groutine"
	"golang.org/x/sys/unix"
)

// DefaultResumeSignals are raised by job control (SIGCONT after a stop) and
// by operators nudging a running daemon (SIGUSR1).
var DefaultResumeSignals = []os.Signal{unix.SIGCONT, unix.SIGUSR1}

// SignalsByName resolves names such as "SIGUSR1" or "usr1".
func SignalsByName(names ...string) ([]os.Signal, error) {
	signals := make([]os.Signal, 0, len(names))
	for _, name := range names {
		n := strings.ToUpper(strings.TrimSpace(name))
		if !strings.HasPrefix(n, "SIG") {
			n = "SIG" + n
		}
		sig := unix.SignalNum(n)
		if sig == 0 {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// SignalSource turns process signals into resume events.
type SignalSource struct {
	signals []os.Signal
	logger  *logrus.Logger
}

// NewSignalSource creates a source for the given signals, or
// DefaultResumeSignals when none are given.
func NewSignalSource(logger *logrus.Logger, signals ...os.Signal) *SignalSource {
	if logger == nil {
		logger = logrus.New()
	}
	if len(signals) == 0 {
		signals = DefaultResumeSignals
	}
	return &SignalSource{signals: signals, logger: logger}
}

func (s *SignalSource) Subscribe(fn func()) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.signals...)

	ctx, cancel := context.WithCancel(context.Background())
	groutine.Go(ctx, "resume-signal", func(ctx context.Context) {
		for {
			select {
			case sig := <-ch:
				s.logger.WithField("signal", sig.String()).Debug("Resume signal received")
				fn()
			case <-ctx.Done():
				return
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			cancel()
		})
	}
}

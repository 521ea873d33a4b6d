//go:build !linux && !darwin

package resume

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

// DefaultResumeSignals is empty where job-control signals do not exist.
var DefaultResumeSignals []os.Signal

// SignalsByName fails for every name on this platform.
func SignalsByName(names ...string) ([]os.Signal, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("resume signals are not supported on %s", runtime.GOOS)
}

// SignalSource never fires on this platform.
type SignalSource struct {
	logger *logrus.Logger
}

func NewSignalSource(logger *logrus.Logger, _ ...os.Signal) *SignalSource {
	if logger == nil {
		logger = logrus.New()
	}
	return &SignalSource{logger: logger}
}

func (s *SignalSource) Subscribe(func()) func() {
	s.logger.Debug("Resume signals unavailable on this platform")
	return func() {}
}

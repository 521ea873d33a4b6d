package connmgr

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/device"
)

const (
	// DefaultRetryInterval is the period of the background reconnect timer.
	DefaultRetryInterval = 10 * time.Second

	// DefaultLinkTimeout bounds a single link-open call.
	DefaultLinkTimeout = 30 * time.Second

	watchBuffer = 16
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs a callback once after a delay. *time.Timer satisfies Timer,
// so the wall-clock scheduler is a thin wrapper over time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a Manager.
type Options struct {
	Logger        *logrus.Logger
	Scheduler     Scheduler
	RetryInterval time.Duration
	LinkTimeout   time.Duration

	// Services restricts the pairing picker to devices advertising any of them.
	Services []string
}

// DefaultOptions returns the pen service filter and default timings.
func DefaultOptions() *Options {
	return &Options{
		Scheduler:     wallClock{},
		RetryInterval: DefaultRetryInterval,
		LinkTimeout:   DefaultLinkTimeout,
		Services:      []string{device.PenServiceUUID},
	}
}

// withDefaults fills unset fields without modifying o.
func (o *Options) withDefaults() Options {
	out := *DefaultOptions()
	if o == nil {
		out.Logger = logrus.New()
		return out
	}
	if o.Logger != nil {
		out.Logger = o.Logger
	} else {
		out.Logger = logrus.New()
	}
	if o.Scheduler != nil {
		out.Scheduler = o.Scheduler
	}
	if o.RetryInterval > 0 {
		out.RetryInterval = o.RetryInterval
	}
	if o.LinkTimeout > 0 {
		out.LinkTimeout = o.LinkTimeout
	}
	if len(o.Services) > 0 {
		out.Services = append([]string(nil), o.Services...)
	}
	return out
}

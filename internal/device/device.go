package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Pairing and link errors.
var (
	// ErrPairingCancelled is returned by a picker the user dismissed or that matched nothing.
	ErrPairingCancelled = errors.New("pairing cancelled")

	// ErrLinkOpenFailed wraps radio-level failures opening the link to a known device.
	ErrLinkOpenFailed = errors.New("link open failed")

	// ErrNoStoredIdentity means there is no remembered device to reconnect to.
	ErrNoStoredIdentity = errors.New("no stored device identity")

	// ErrEnumerationUnsupported is returned by registries that cannot list
	// previously authorized devices without a user gesture.
	ErrEnumerationUnsupported = errors.New("device enumeration unsupported")
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// NormalizeError maps known transport error strings to structured error types.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Handle is a reference to one physical peripheral. Handles are owned by the
// transport; holders must not assume exclusive access.
type Handle interface {
	ID() string
	Name() string
	IsConnected() bool

	// OpenLink opens the radio link. It is a no-op if the link is already open.
	OpenLink(ctx context.Context) error
	CloseLink() error

	// OnDisconnected registers fn to be called when the link drops. The returned
	// function removes the registration and is safe to call more than once.
	OnDisconnected(fn func()) (unsubscribe func())
}

// Filter narrows a device picker. Empty fields do not constrain the match.
// By default every set constraint must hold; with MatchAny one is enough,
// which lets a picker offer a device whose name or address has changed.
type Filter struct {
	Services []string // any of these advertised service UUIDs
	Name     string
	ID       string
	MatchAny bool
}

// Matches reports whether a device with the given identity and advertised
// services satisfies the filter.
func (f Filter) Matches(id, name string, services []string) bool {
	checks := make([]bool, 0, 3)
	if f.ID != "" {
		checks = append(checks, strings.EqualFold(f.ID, id))
	}
	if f.Name != "" {
		checks = append(checks, f.Name == name)
	}
	if len(f.Services) > 0 {
		checks = append(checks, advertisesAny(services, f.Services))
	}
	if len(checks) == 0 {
		return true
	}

	for _, ok := range checks {
		if ok && f.MatchAny {
			return true
		}
		if !ok && !f.MatchAny {
			return false
		}
	}
	return !f.MatchAny
}

func advertisesAny(advertised, wanted []string) bool {
	for _, want := range wanted {
		want = NormalizeUUID(want)
		for _, have := range advertised {
			if NormalizeUUID(have) == want {
				return true
			}
		}
	}
	return false
}

// Registry discovers peripherals.
type Registry interface {
	// RequestDevice runs the device picker. It requires a user gesture on
	// platforms that model one, and returns ErrPairingCancelled when nothing
	// was chosen.
	RequestDevice(ctx context.Context, filter Filter) (Handle, error)
}

// AuthorizedLister is implemented by registries that can enumerate previously
// authorized devices without user interaction.
type AuthorizedLister interface {
	AuthorizedDevices(ctx context.Context) ([]Handle, error)
}

// FindAuthorized returns the authorized handle with the given id, or nil.
// Registries without AuthorizedLister report ErrEnumerationUnsupported.
func FindAuthorized(ctx context.Context, r Registry, id string) (Handle, error) {
	lister, ok := r.(AuthorizedLister)
	if !ok {
		return nil, ErrEnumerationUnsupported
	}
	handles, err := lister.AuthorizedDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range handles {
		if h.ID() == id {
			return h, nil
		}
	}
	return nil, nil
}

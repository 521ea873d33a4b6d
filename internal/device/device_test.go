package device_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/penlink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionError(t *testing.T) {
	t.Run("errors.Is matches by state", func(t *testing.T) {
		err := &device.ConnectionError{State: device.NotConnected, Msg: "link dropped"}

		assert.ErrorIs(t, err, device.ErrNotConnected, "MUST match sentinel with the same state")
		assert.NotErrorIs(t, err, device.ErrAlreadyConnected, "MUST NOT match a different state")
		assert.Equal(t, "not_connected: link dropped", err.Error())
	})

	t.Run("nil receiver", func(t *testing.T) {
		var err *device.ConnectionError
		assert.Equal(t, "<nil>", err.Error())
	})

	t.Run("IsConnectionState through wrapping", func(t *testing.T) {
		err := fmt.Errorf("open: %w", device.ErrAlreadyConnected)
		assert.True(t, device.IsConnectionState(err, device.AlreadyConnected))
		assert.False(t, device.IsConnectionState(err, device.NotInitialized))
	})
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{"bluetooth off", errors.New("Bluetooth is turned off"), device.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"already connected", errors.New("Device already connected"), device.ErrAlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), device.ErrNotInitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := device.NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.target)
			assert.Contains(t, err.Error(), tt.input.Error(), "MUST preserve the original message")
		})
	}

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := errors.New("radio on fire")
		assert.Same(t, orig, device.NormalizeError(orig))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, device.NormalizeError(nil))
	})
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name     string
		filter   device.Filter
		id       string
		devName  string
		services []string
		want     bool
	}{
		{"empty filter matches anything", device.Filter{}, "abc", "Pen", nil, true},
		{"service match with mixed forms", device.Filter{Services: []string{"19F1"}}, "abc", "Pen", []string{"000019f1-0000-1000-8000-00805f9b34fb"}, true},
		{"service mismatch", device.Filter{Services: []string{"19f1"}}, "abc", "Pen", []string{"180d"}, false},
		{"no advertised services", device.Filter{Services: []string{"19f1"}}, "abc", "Pen", nil, false},
		{"id is case-insensitive", device.Filter{ID: "AA:BB"}, "aa:bb", "Pen", nil, true},
		{"id mismatch", device.Filter{ID: "aa:bb"}, "cc:dd", "Pen", nil, false},
		{"name mismatch", device.Filter{Name: "Pen"}, "abc", "Pencil", nil, false},
		{"all constraints", device.Filter{Services: []string{"19f1"}, Name: "Pen", ID: "abc"}, "abc", "Pen", []string{"19f1"}, true},
		{"all constraints, one fails", device.Filter{Services: []string{"19f1"}, Name: "Pen", ID: "abc"}, "xyz", "Pen", []string{"19f1"}, false},
		{"match any, renamed device", device.Filter{Name: "Pen", ID: "abc", MatchAny: true}, "abc", "Pen 2", nil, true},
		{"match any, nothing holds", device.Filter{Services: []string{"19f1"}, Name: "Pen", ID: "abc", MatchAny: true}, "xyz", "Other", []string{"180d"}, false},
		{"match any, empty filter", device.Filter{MatchAny: true}, "abc", "Pen", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.id, tt.devName, tt.services))
		})
	}
}

type stubHandle struct{ id string }

func (h stubHandle) ID() string                           { return h.id }
func (h stubHandle) Name() string                         { return "Pen" }
func (h stubHandle) IsConnected() bool                    { return false }
func (h stubHandle) OpenLink(context.Context) error       { return nil }
func (h stubHandle) CloseLink() error                     { return nil }
func (h stubHandle) OnDisconnected(func()) (unsub func()) { return func() {} }

type pickerOnly struct{}

func (pickerOnly) RequestDevice(context.Context, device.Filter) (device.Handle, error) {
	return nil, device.ErrPairingCancelled
}

type listingRegistry struct {
	pickerOnly
	handles []device.Handle
	err     error
}

func (r listingRegistry) AuthorizedDevices(context.Context) ([]device.Handle, error) {
	return r.handles, r.err
}

func TestFindAuthorized(t *testing.T) {
	ctx := context.Background()

	t.Run("registry without enumeration", func(t *testing.T) {
		h, err := device.FindAuthorized(ctx, pickerOnly{}, "abc")
		assert.ErrorIs(t, err, device.ErrEnumerationUnsupported)
		assert.Nil(t, h)
	})

	t.Run("finds matching id", func(t *testing.T) {
		r := listingRegistry{handles: []device.Handle{stubHandle{"x"}, stubHandle{"abc"}}}
		h, err := device.FindAuthorized(ctx, r, "abc")
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.Equal(t, "abc", h.ID())
	})

	t.Run("no match", func(t *testing.T) {
		r := listingRegistry{handles: []device.Handle{stubHandle{"x"}}}
		h, err := device.FindAuthorized(ctx, r, "abc")
		assert.NoError(t, err)
		assert.Nil(t, h)
	})

	t.Run("listing error propagates", func(t *testing.T) {
		r := listingRegistry{err: errors.New("adapter busy")}
		_, err := device.FindAuthorized(ctx, r, "abc")
		assert.EqualError(t, err, "adapter busy")
	})
}

package main

import (
	"errors"

	"github.com/srg/penlink/internal/connmgr"
	"github.com/srg/penlink/internal/device"
)

// Command-level errors
var (
	// ErrNothingPaired means no pen is remembered yet.
	ErrNothingPaired = errors.New("no pen has been paired yet; run 'penlink pair'")
)

// FormatUserError turns internal errors into a message for the terminal.
// Unknown errors are printed as they are.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or no adapter is available"
	case errors.Is(err, device.ErrPairingCancelled):
		return "no pen selected"
	case errors.Is(err, device.ErrTimeout):
		return "the pen did not answer in time; move it closer and try again"
	case errors.Is(err, device.ErrAlreadyConnected):
		return "already connected"
	case errors.Is(err, connmgr.ErrBusy):
		return "a connection attempt is already in progress"
	case errors.Is(err, device.ErrLinkOpenFailed):
		return "could not connect to the pen: " + err.Error()
	default:
		return err.Error()
	}
}

package connmgr

import (
	"errors"
	"fmt"
)

// State is the connection state exposed to the user interface.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	// AwaitingUserConfirmation means silent reconnection gave up and the user
	// must explicitly ask to reconnect.
	AwaitingUserConfirmation
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case AwaitingUserConfirmation:
		return "AwaitingUserConfirmation"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DeviceRef identifies the connected peripheral in a Snapshot.
type DeviceRef struct {
	ID   string
	Name string
}

// Snapshot is a point-in-time copy of the manager state.
type Snapshot struct {
	State State

	// Device is set only in the Connected state.
	Device *DeviceRef

	// Busy is true while a connect or reconnect attempt is in flight.
	Busy bool

	// Attempt is the sequence number of the latest attempt.
	Attempt uint64

	// LastError is the failure that led to the current state, if any.
	LastError error
}

// Manager errors
var (
	ErrBusy           = errors.New("connection attempt already in progress")
	ErrAlreadyStarted = errors.New("connection manager already started")
	ErrNotStarted     = errors.New("connection manager not started")
)

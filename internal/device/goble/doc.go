// Package goble implements device.Registry and device.Handle on top of
// github.com/go-ble/ble.
//
// The picker is a timed scan: advertisements matching the filter become
// candidates and a Chooser (the user, or the strongest signal by default)
// selects one. Chosen devices are granted and remembered, which makes them
// available to AuthorizedDevices for silent reconnection in later runs.
package goble

// Package device defines the contracts between the connection manager and the
// radio transport.
//
// A Registry finds peripherals (through a user-driven picker, and optionally by
// enumerating devices the user already authorized). A Handle represents one
// peripheral and controls its link:
//   - OpenLink / CloseLink open and close the radio session
//   - OnDisconnected reports link loss to a single subscriber per registration
//   - IsConnected reflects the live link state
//
// The package also owns the error taxonomy shared by transports and the
// manager, and UUID normalization for service filters.
package device

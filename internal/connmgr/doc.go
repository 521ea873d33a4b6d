// Package connmgr keeps a single BLE peripheral connected.
//
// A Manager owns the connection state machine:
//
//	Disconnected ──Connect──▶ Connecting ──link open──▶ Connected
//	     ▲                        │ cancelled                │ link lost
//	     └────────────────────────┘                          ▼
//	AwaitingUserConfirmation ◀──not found / failed── Reconnecting ◀── timer, resume, link lost
//	     └──────────ReconnectManually─────────────────────▶
//
// Silent attempts (timer, resume, link loss) only reconnect devices the
// registry can enumerate without a user gesture. When that is not possible the
// manager parks in AwaitingUserConfirmation, which is the only state that asks
// the user to act. A user-initiated attempt may fall back to the picker.
//
// At most one attempt is in flight. Requests arriving while Connecting or
// Reconnecting are dropped, and results of superseded attempts are discarded.
package connmgr

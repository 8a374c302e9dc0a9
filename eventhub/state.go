package eventhub

import "errors"

// Channel errors.
var (
	ErrNotConnected   = errors.New("event hub not connected")
	ErrStopped        = errors.New("event hub stopped")
	ErrUnknownEvent   = errors.New("unknown event target")
	ErrMalformedEvent = errors.New("malformed event arguments")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection and no pending retry.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates a retry is scheduled.
	StateReconnecting

	// StateDisconnecting indicates Stop is closing the transport.
	StateDisconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

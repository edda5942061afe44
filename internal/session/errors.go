package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrNotConnected is returned when a command is issued while the
	// session is Disconnected.
	ErrNotConnected = errors.New("session: not connected")

	// ErrInvalidTarget is returned for commands addressing an unknown
	// zone or source.
	ErrInvalidTarget = errors.New("session: invalid target")

	// ErrInvalidCommand is returned for command names the session does
	// not understand, or for out-of-range command parameters.
	ErrInvalidCommand = errors.New("session: invalid command")

	// ErrDeviceError is returned when the transport rejects or times
	// out a command write.
	ErrDeviceError = errors.New("session: device error")

	// ErrTransportUnavailable is returned when a connect attempt fails
	// at the socket or protocol layer.
	ErrTransportUnavailable = errors.New("session: transport unavailable")
)

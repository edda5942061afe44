package rio

import "errors"

// Domain-specific errors for RIO operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("rio: connection failed")

	// ErrHandshakeFailed is returned when the VERSION handshake fails.
	ErrHandshakeFailed = errors.New("rio: handshake failed")

	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("rio: not connected")

	// ErrWriteFailed is returned when a command cannot be written to the socket.
	ErrWriteFailed = errors.New("rio: write failed")

	// ErrInvalidLine is returned for a line that cannot be parsed.
	ErrInvalidLine = errors.New("rio: invalid line")

	// ErrDeviceRejected is returned when the controller answers a command
	// with an error line.
	ErrDeviceRejected = errors.New("rio: command rejected by controller")
)

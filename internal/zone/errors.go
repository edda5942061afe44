package zone

import "errors"

// Domain-specific errors for zone state operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownZone is returned for a zone id outside the configured range.
	ErrUnknownZone = errors.New("zone: unknown zone id")

	// ErrUnknownSource is returned for a source id outside the configured range.
	ErrUnknownSource = errors.New("zone: unknown source id")

	// ErrInvalidVolume is returned for a native volume outside 0-50.
	ErrInvalidVolume = errors.New("zone: volume out of range")
)

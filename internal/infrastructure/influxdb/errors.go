package influxdb

import "errors"

// Sentinel errors for telemetry operations. Check with errors.Is().
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection or health
	// ping failed. Write errors after connect are surfaced through the
	// SetOnError callback instead.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates telemetry is switched off in configuration.
	// Callers treat it as "skip wiring", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)

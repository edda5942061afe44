package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/atward/riolink/internal/infrastructure/mqtt"
	"github.com/atward/riolink/internal/rio"
	"github.com/atward/riolink/internal/session"
)

// DefaultHealthInterval is the period between health publishes.
const DefaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the device link is up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs but the device link is
	// down (typically mid-reconnect).
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the periodic bridge health report.
// Topic: riolink/health/bridge
// QoS: 1, Retained: yes
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the report was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status is the overall operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Session describes the device session.
	Session *SessionStatus `json:"session,omitempty"`

	// Statistics contains transport counters.
	Statistics *TransportStatistics `json:"statistics,omitempty"`

	// ZonesManaged is the number of mirrored zones.
	ZonesManaged int `json:"zones_managed"`

	// Reason explains a degraded or stopping status.
	Reason string `json:"reason,omitempty"`
}

// SessionStatus describes the device session in a health report.
type SessionStatus struct {
	// State is "disconnected", "connecting" or "connected".
	State string `json:"state"`

	// Connects counts successful connects since startup.
	Connects uint64 `json:"connects"`

	// Reconnects counts supervisor recoveries since startup.
	Reconnects uint64 `json:"reconnects"`

	// LastError is the most recent connect or link failure.
	LastError string `json:"last_error,omitempty"`
}

// TransportStatistics contains wire-level counters.
type TransportStatistics struct {
	// LinesTx is the number of command lines written.
	LinesTx uint64 `json:"lines_tx"`

	// LinesRx is the number of lines received.
	LinesRx uint64 `json:"lines_rx"`

	// CommandsSent is the number of host commands forwarded.
	CommandsSent uint64 `json:"commands_sent"`

	// DeviceErrors is the number of rejections from the controller.
	DeviceErrors uint64 `json:"device_errors"`

	// DroppedUpdates is the number of discarded notifications.
	DroppedUpdates uint64 `json:"dropped_updates"`
}

// HealthSnapshot is the raw material for one health report.
type HealthSnapshot struct {
	Session   session.Stats
	Transport *rio.Stats
	Zones     int
}

// HealthPublisher publishes health reports.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// Interval between reports. Zero uses DefaultHealthInterval.
	Interval time.Duration

	// Publisher sends the reports. Required.
	Publisher HealthPublisher

	// Snapshot collects current counters. Required.
	Snapshot func() HealthSnapshot
}

// HealthReporter periodically publishes bridge health.
type HealthReporter struct {
	version   string
	interval  time.Duration
	publisher HealthPublisher
	snapshot  func() HealthSnapshot
	topics    mqtt.Topics
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	return &HealthReporter{
		version:   cfg.Version,
		interval:  interval,
		publisher: cfg.Publisher,
		snapshot:  cfg.Snapshot,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic publishing. The first report goes out
// immediately.
func (h *HealthReporter) Start() {
	h.PublishNow()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.PublishNow()
			}
		}
	}()
}

// Stop publishes a final stopping report and halts the ticker.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.publish(h.buildMessage(HealthStopping, "shutdown", h.snapshot()))
	})
}

// PublishNow publishes a report outside the regular schedule.
func (h *HealthReporter) PublishNow() {
	snap := h.snapshot()

	status := HealthHealthy
	reason := ""
	if snap.Session.State != session.StateConnected.String() {
		status = HealthDegraded
		reason = snap.Session.LastError
		if reason == "" {
			reason = "device link down"
		}
	}

	h.publish(h.buildMessage(status, reason, snap))
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string, snap HealthSnapshot) HealthMessage {
	msg := HealthMessage{
		Bridge:        "riolink",
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		ZonesManaged:  snap.Zones,
		Reason:        reason,
		Session: &SessionStatus{
			State:      snap.Session.State,
			Connects:   snap.Session.Connects,
			Reconnects: snap.Session.Reconnects,
			LastError:  snap.Session.LastError,
		},
	}

	stats := &TransportStatistics{
		CommandsSent:   snap.Session.CommandsSent,
		DroppedUpdates: snap.Session.DroppedUpdates,
	}
	if snap.Transport != nil {
		stats.LinesTx = snap.Transport.LinesTx
		stats.LinesRx = snap.Transport.LinesRx
		stats.DeviceErrors = snap.Transport.DeviceErrors
	}
	msg.Statistics = stats

	return msg
}

func (h *HealthReporter) publish(msg HealthMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logError("marshalling health message", err)
		return
	}

	if err := h.publisher.Publish(h.topics.Health(), payload, stateQoS, true); err != nil {
		h.logWarn("health publish failed", "error", err)
	}
}

func (h *HealthReporter) logWarn(msg string, keysAndValues ...any) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

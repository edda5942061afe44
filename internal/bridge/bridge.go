package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atward/riolink/internal/infrastructure/mqtt"
	"github.com/atward/riolink/internal/rio"
	"github.com/atward/riolink/internal/session"
	"github.com/atward/riolink/internal/store"
	"github.com/atward/riolink/internal/zone"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a single command write to the controller.
	commandTimeout = 5 * time.Second

	// persistTimeout bounds snapshot writes triggered by zone updates.
	persistTimeout = 3 * time.Second

	// stateQoS is the QoS level for retained state publishes.
	stateQoS = 1
)

// MQTTClient is the interface for MQTT operations.
// Satisfied by *mqtt.Client; mocked in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// SessionController is the bridge's view of the device session.
// Satisfied by *session.Session; mocked in tests.
type SessionController interface {
	Connect(ctx context.Context) error
	Disconnect()
	StartReconnect()
	EnterStandby()
	ExitStandby()
	SendCommand(ctx context.Context, zoneID int, cmd session.Command, params session.Params) error
	State() session.ConnState
	Stats() session.Stats
	TransportStats() (rio.Stats, bool)
	Registry() *zone.Registry
	SetOnConnectionChange(func(connected bool))
	SetOnZoneUpdate(func(zoneID int))
}

// MetricsRecorder receives zone and session telemetry.
// Satisfied by *influxdb.Client. Optional: nil disables telemetry.
type MetricsRecorder interface {
	WriteZoneMetric(zoneID int, measurement string, value float64)
	WriteSessionEvent(event string, attempt int)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds dependencies for creating a bridge.
type Options struct {
	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// Session is the device session. Required.
	Session SessionController

	// Store persists zone snapshots and session events.
	// Optional: nil disables persistence.
	Store store.Repository

	// Metrics receives telemetry. Optional: nil disables telemetry.
	Metrics MetricsRecorder

	// Logger is an optional structured logger.
	Logger Logger

	// HealthInterval is the period between health publishes.
	// Zero uses the default.
	HealthInterval time.Duration

	// Version is the bridge software version for health reports.
	Version string
}

// Bridge wires the host platform's MQTT contract to the device session.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt    MQTTClient
	session SessionController
	store   store.Repository
	metrics MetricsRecorder
	topics  mqtt.Topics
	health  *HealthReporter

	// Shutdown coordination
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("bridge: MQTT client is required")
	}
	if opts.Session == nil {
		return nil, errors.New("bridge: session is required")
	}

	b := &Bridge{
		mqtt:    opts.MQTT,
		session: opts.Session,
		store:   opts.Store,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
		logger:  opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Snapshot:  b.healthSnapshot,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
//
// It restores persisted state into the mirror, wires the session
// callbacks, subscribes to the command and standby topics, publishes
// the restored zone states and arms the reconnect supervisor. The
// first connect runs through the supervisor, so a controller that is
// down at startup does not fail the bridge.
func (b *Bridge) Start(ctx context.Context) error {
	if b.store != nil {
		if err := store.RestoreRegistry(ctx, b.store, b.session.Registry()); err != nil {
			b.logWarn("state restore failed, starting from defaults", "error", err)
		}
	}

	b.session.SetOnConnectionChange(b.handleConnectionChange)
	b.session.SetOnZoneUpdate(b.handleZoneUpdate)

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, stateQoS, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	standbyTopic := b.topics.SystemStandby()
	if err := b.mqtt.Subscribe(standbyTopic, stateQoS, b.handleStandbyMessage); err != nil {
		return fmt.Errorf("subscribe to standby: %w", err)
	}

	// Retained last-known state is visible before the first connect.
	b.publishAllZoneStates()
	b.publishAvailability(false, "starting")

	b.health.Start()

	b.session.StartReconnect()
	if err := b.session.Connect(ctx); err != nil {
		// The armed supervisor retries; startup continues degraded.
		b.logWarn("initial connect failed, supervisor retrying", "error", err)
	}

	b.logInfo("bridge started")
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		b.health.Stop()
		b.session.Disconnect()
		b.publishAvailability(false, "stopping")
		b.persistAll()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// handleCommandMessage processes a command from the host platform.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	address, err := zoneAddressFromTopic(topic)
	if err != nil {
		b.logWarn("command on malformed topic", "topic", topic)
		return nil // Nothing to ack without an address
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logWarn("unparseable command payload", "topic", topic, "error", err)
		b.publishAck(NewAckError(cmd, address, ErrCodeBridgeError, "malformed command payload"))
		return nil
	}

	zoneID, err := ParseZoneAddress(address)
	if err != nil {
		b.publishAck(NewAckError(cmd, address, ErrCodeInvalidTarget, err.Error()))
		return nil
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"zone", zoneID,
		"command", cmd.Command)

	params, paramsErr := commandParams(cmd)
	if paramsErr != nil {
		b.publishAck(NewAckError(cmd, address, ErrCodeInvalidCommand, paramsErr.Error()))
		return nil
	}

	cmdCtx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	sendErr := b.session.SendCommand(cmdCtx, zoneID, session.Command(cmd.Command), params)
	if sendErr != nil {
		// A rejected command never changes availability; the device
		// indicator tracks the session state only.
		b.publishAck(NewAckError(cmd, address, ackCode(sendErr), sendErr.Error()))
		return nil
	}

	b.publishAck(NewAckMessage(cmd, address))
	return nil
}

// commandParams extracts typed parameters for commands that need them.
func commandParams(cmd CommandMessage) (session.Params, error) {
	var params session.Params

	switch session.Command(cmd.Command) {
	case session.CmdSetVolume:
		volume, ok := cmd.Volume()
		if !ok {
			return params, errors.New("set_volume requires a volume parameter")
		}
		params.Volume = volume
	case session.CmdSelectSource:
		name, ok := cmd.SourceName()
		if !ok {
			return params, errors.New("select_source requires a source parameter")
		}
		params.Source = name
	}

	return params, nil
}

// ackCode maps a session error to an ack error code.
func ackCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return ErrCodeNotConnected
	case errors.Is(err, session.ErrInvalidTarget):
		return ErrCodeInvalidTarget
	case errors.Is(err, session.ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, session.ErrDeviceError):
		return ErrCodeDeviceError
	default:
		return ErrCodeBridgeError
	}
}

// handleStandbyMessage processes host power events.
func (b *Bridge) handleStandbyMessage(topic string, payload []byte) error {
	var msg StandbyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logWarn("unparseable standby payload", "topic", topic, "error", err)
		return nil
	}

	if msg.Standby {
		b.logInfo("host entering standby")
		b.session.EnterStandby()
	} else {
		b.logInfo("host waking")
		b.session.ExitStandby()
	}
	return nil
}

// handleConnectionChange reflects session transitions on the
// availability topic and the event log.
func (b *Bridge) handleConnectionChange(connected bool) {
	event := "disconnected"
	reason := ""
	if connected {
		event = "connected"
	} else if stats := b.session.Stats(); stats.LastError != "" {
		reason = stats.LastError
	}

	b.publishAvailability(connected, reason)
	b.recordSessionEvent(event, reason)

	if b.metrics != nil {
		b.metrics.WriteSessionEvent(event, int(b.session.Stats().Reconnects))
	}

	if connected {
		// Refresh retained state after a (re)connect; notifications
		// from the WATCH subscriptions follow immediately after.
		b.publishAllZoneStates()
	}
}

// handleZoneUpdate publishes and persists a zone whose mirror changed.
// Runs on the session's dispatch goroutine in wire order.
func (b *Bridge) handleZoneUpdate(zoneID int) {
	b.publishZoneState(zoneID)
	b.persistZone(zoneID)

	if b.metrics != nil {
		if attrs, err := b.session.Registry().Attributes(zoneID); err == nil {
			power := 0.0
			if attrs.State == zone.StateOn {
				power = 1.0
			}
			b.metrics.WriteZoneMetric(zoneID, "volume", float64(attrs.Volume))
			b.metrics.WriteZoneMetric(zoneID, "power", power)
		}
	}
}

// publishZoneState publishes a zone's attributes as retained state.
func (b *Bridge) publishZoneState(zoneID int) {
	attrs, err := b.session.Registry().Attributes(zoneID)
	if err != nil {
		b.logWarn("state publish for unknown zone", "zone", zoneID)
		return
	}

	address := mqtt.ZoneAddress(zoneID)
	payload, err := json.Marshal(NewStateMessage(address, attrs))
	if err != nil {
		b.logError("marshalling state message", err)
		return
	}

	if err := b.mqtt.Publish(b.topics.State(address), payload, stateQoS, true); err != nil {
		b.logWarn("state publish failed", "zone", zoneID, "error", err)
	}
}

// publishAllZoneStates publishes retained state for every zone.
func (b *Bridge) publishAllZoneStates() {
	for _, z := range b.session.Registry().Zones() {
		b.publishZoneState(z.ID)
	}
}

// publishAck publishes a command acknowledgement.
func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("marshalling ack message", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(ack.Address), payload, stateQoS, false); err != nil {
		b.logWarn("ack publish failed", "command_id", ack.CommandID, "error", err)
	}
}

// publishAvailability publishes the retained device availability.
func (b *Bridge) publishAvailability(available bool, reason string) {
	msg := AvailabilityMessage{
		Available: available,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("marshalling availability message", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Availability(), payload, stateQoS, true); err != nil {
		b.logWarn("availability publish failed", "error", err)
	}
}

// persistZone saves one zone's snapshot.
func (b *Bridge) persistZone(zoneID int) {
	if b.store == nil {
		return
	}

	z, err := b.session.Registry().Zone(zoneID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.store.SaveZones(ctx, []zone.State{z}); err != nil {
		b.logWarn("zone snapshot save failed", "zone", zoneID, "error", err)
	}
}

// persistAll saves the full mirror. Called on shutdown.
func (b *Bridge) persistAll() {
	if b.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	registry := b.session.Registry()
	if err := b.store.SaveZones(ctx, registry.Zones()); err != nil {
		b.logWarn("zone snapshot save failed", "error", err)
	}
	if err := b.store.SaveSources(ctx, registry.Sources()); err != nil {
		b.logWarn("source snapshot save failed", "error", err)
	}
}

// recordSessionEvent appends to the persistent event log.
func (b *Bridge) recordSessionEvent(event, detail string) {
	if b.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.store.RecordSessionEvent(ctx, event, detail); err != nil {
		b.logWarn("session event record failed", "event", event, "error", err)
	}
}

// healthSnapshot collects counters for the health reporter.
func (b *Bridge) healthSnapshot() HealthSnapshot {
	snap := HealthSnapshot{
		Session: b.session.Stats(),
		Zones:   b.session.Registry().ZoneCount(),
	}
	if ts, ok := b.session.TransportStats(); ok {
		snap.Transport = &ts
	}
	return snap
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

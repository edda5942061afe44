package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atward/riolink/internal/rio"
	"github.com/atward/riolink/internal/zone"
)

// DefaultKeepaliveInterval is how often the session pings the
// controller to keep the link demonstrably alive.
const DefaultKeepaliveInterval = 180 * time.Second

// ConnState is the session's connection state.
type ConnState int32

const (
	// StateDisconnected means no live transport exists.
	StateDisconnected ConnState = iota

	// StateConnecting means a connect attempt is in flight.
	StateConnecting

	// StateConnected means the transport is up and watched.
	StateConnected
)

// String returns the state name for logging and health reporting.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Command identifies a zone operation requested by the host platform.
type Command string

// Commands accepted by SendCommand.
const (
	CmdPowerOn      Command = "power_on"
	CmdPowerOff     Command = "power_off"
	CmdPowerToggle  Command = "toggle"
	CmdSetVolume    Command = "set_volume"
	CmdVolumeUp     Command = "volume_up"
	CmdVolumeDown   Command = "volume_down"
	CmdMuteToggle   Command = "mute_toggle"
	CmdSelectSource Command = "select_source"
)

// Params carries command parameters. Volume is on the host 0-100
// scale; Source is a source name resolved against the registry.
type Params struct {
	Volume int
	Source string
}

// Transport is the session's view of the device link. rio.Client
// satisfies it; tests substitute their own.
type Transport interface {
	Send(ctx context.Context, command string) error
	SetOnNotification(func(rio.Notification))
	SetOnDisconnect(func(error))
	IsConnected() bool
	Close() error
}

// Dialer opens a fresh transport. Each connect attempt dials anew; a
// transport is never reused after link loss.
type Dialer func(ctx context.Context) (Transport, error)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds session configuration.
type Config struct {
	// ControllerID is the logical controller id (1-6). Default: 1.
	ControllerID int

	// Zones is the number of zones to watch and mirror. Default: 8.
	Zones int

	// Sources is the number of sources to watch and mirror. Default: 8.
	Sources int

	// KeepaliveInterval is the ping period. Default: 180 seconds.
	// Zero uses the default; negative disables the keepalive.
	KeepaliveInterval time.Duration

	// Backoff shapes reconnect delays. The zero value uses the
	// package defaults.
	Backoff Backoff
}

// Stats holds session counters for health reporting.
type Stats struct {
	State          string
	Connects       uint64
	Reconnects     uint64
	CommandsSent   uint64
	DroppedUpdates uint64
	LastError      string
}

// Session is the connection state machine for one controller.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Zone update callbacks run on the transport's dispatch goroutine
//     and are invoked in wire order.
type Session struct {
	cfg      Config
	dial     Dialer
	registry *zone.Registry

	// connectMu serialises Connect, Disconnect and link-loss handling.
	connectMu sync.Mutex

	// generation identifies the current connect attempt. Guarded by
	// connectMu; every terminal transition bumps it, so a link-loss
	// report carrying a stale generation is ignored.
	generation uint64

	state atomic.Int32

	transportMu sync.RWMutex
	transport   Transport

	lastErrMu sync.Mutex
	lastErr   error

	callbackMu         sync.RWMutex
	onConnectionChange func(connected bool)
	onZoneUpdate       func(zoneID int)

	// Supervisor state (supervisor.go)
	armed       atomic.Bool
	standby     atomic.Bool
	supervising atomic.Bool
	superMu     sync.Mutex
	superStop   chan struct{}

	keepaliveMu   sync.Mutex
	keepaliveStop chan struct{}

	logger   Logger
	loggerMu sync.RWMutex

	connects       atomic.Uint64
	reconnects     atomic.Uint64
	commandsSent   atomic.Uint64
	droppedUpdates atomic.Uint64
}

// New creates a session over the given dialer and registry.
//
// Parameters:
//   - cfg: Session configuration (zero values take defaults)
//   - dial: Opens a fresh transport per connect attempt
//   - registry: Zone and source mirror; created from cfg when nil
//
// Returns:
//   - *Session: Disconnected session; call Connect or StartReconnect
func New(cfg Config, dial Dialer, registry *zone.Registry) *Session {
	if cfg.ControllerID == 0 {
		cfg.ControllerID = 1
	}
	if cfg.Zones == 0 {
		cfg.Zones = zone.MaxZones
	}
	if cfg.Sources == 0 {
		cfg.Sources = zone.MaxSources
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if registry == nil {
		registry = zone.NewRegistry(cfg.Zones, cfg.Sources)
	}

	return &Session{
		cfg:      cfg,
		dial:     dial,
		registry: registry,
	}
}

// RIODialer returns a Dialer that opens rio clients with the given
// connection config.
func RIODialer(cfg rio.Config, logger Logger) Dialer {
	return func(ctx context.Context) (Transport, error) {
		client, err := rio.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		return client, nil
	}
}

// Connect dials the controller and installs the zone and source
// watches.
//
// Idempotent while Connected: returns nil without reopening. On
// failure it records lastError, ends Disconnected, fires the
// connection callback with false and returns ErrTransportUnavailable.
// Connect never schedules a retry; that is the supervisor's job.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	return s.connectLocked(ctx)
}

// connectLocked is the body of Connect. Callers hold connectMu.
func (s *Session) connectLocked(ctx context.Context) error {
	if s.State() == StateConnected {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.setState(StateConnecting)

	transport, err := s.dial(ctx)
	if err != nil {
		s.recordConnectFailure(err)
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	s.generation++
	gen := s.generation

	transport.SetOnNotification(s.handleNotification)
	transport.SetOnDisconnect(func(err error) { s.handleLinkLoss(gen, err) })

	if err := s.subscribe(ctx, transport); err != nil {
		s.generation++
		transport.Close() //nolint:errcheck
		s.recordConnectFailure(err)
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	// A loss reported during the subscribe window leaves the handler
	// waiting on connectMu. Seeing the transport already dead here
	// keeps a doomed link from ever reaching Connected.
	if !transport.IsConnected() {
		s.generation++
		transport.Close() //nolint:errcheck
		lossErr := errors.New("link lost during connect")
		s.recordConnectFailure(lossErr)
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, lossErr)
	}

	s.transportMu.Lock()
	s.transport = transport
	s.transportMu.Unlock()

	s.setState(StateConnected)
	s.connects.Add(1)
	s.setLastError(nil)
	s.startKeepalive()
	s.fireConnectionChange(true)
	s.logInfo("session connected",
		"controller", s.cfg.ControllerID,
		"zones", s.cfg.Zones,
		"sources", s.cfg.Sources)

	return nil
}

// subscribe installs WATCH subscriptions for every configured zone and
// source, then requests zone names so the mirror fills before the
// first notification.
func (s *Session) subscribe(ctx context.Context, t Transport) error {
	for zoneID := 1; zoneID <= s.cfg.Zones; zoneID++ {
		if err := t.Send(ctx, rio.WatchZoneCommand(s.cfg.ControllerID, zoneID)); err != nil {
			return fmt.Errorf("watch zone %d: %w", zoneID, err)
		}
		if err := t.Send(ctx, rio.GetZoneNameCommand(s.cfg.ControllerID, zoneID)); err != nil {
			return fmt.Errorf("get zone %d name: %w", zoneID, err)
		}
	}
	for sourceID := 1; sourceID <= s.cfg.Sources; sourceID++ {
		if err := t.Send(ctx, rio.WatchSourceCommand(sourceID)); err != nil {
			return fmt.Errorf("watch source %d: %w", sourceID, err)
		}
	}
	return nil
}

// recordConnectFailure is the common tail of a failed connect attempt.
func (s *Session) recordConnectFailure(err error) {
	s.setLastError(err)
	s.setState(StateDisconnected)
	s.fireConnectionChange(false)
}

// Disconnect tears the session down.
//
// It disarms the supervisor, stops the keepalive, closes the transport
// and always ends Disconnected. The connection callback fires with
// false on every call, even when the session was already down.
// Transport close errors are swallowed.
func (s *Session) Disconnect() {
	s.armed.Store(false)
	s.stopSupervisorLoop()

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.generation++

	s.stopKeepalive()

	s.transportMu.Lock()
	transport := s.transport
	s.transport = nil
	s.transportMu.Unlock()

	if transport != nil {
		transport.Close() //nolint:errcheck
	}

	s.setState(StateDisconnected)
	s.fireConnectionChange(false)
	s.logInfo("session disconnected")
}

// SendCommand issues a zone command to the controller.
//
// It returns once the transport has accepted the write. State changes
// caused by the command arrive asynchronously as notifications; the
// mirror and any state publishes follow from those, never from the
// command call itself.
//
// Parameters:
//   - ctx: Context for cancellation
//   - zoneID: Target zone (1-based)
//   - cmd: One of the Cmd* constants
//   - params: Volume for set_volume, Source for select_source
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidTarget, ErrInvalidCommand or
//     ErrDeviceError
func (s *Session) SendCommand(ctx context.Context, zoneID int, cmd Command, params Params) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	if !s.registry.HasZone(zoneID) {
		return fmt.Errorf("%w: zone %d", ErrInvalidTarget, zoneID)
	}

	line, err := s.buildCommand(zoneID, cmd, params)
	if err != nil {
		return err
	}

	s.transportMu.RLock()
	transport := s.transport
	s.transportMu.RUnlock()

	if transport == nil {
		return ErrNotConnected
	}

	if err := transport.Send(ctx, line); err != nil {
		if errors.Is(err, rio.ErrNotConnected) {
			return ErrNotConnected
		}
		return fmt.Errorf("%w: %w", ErrDeviceError, err)
	}

	s.commandsSent.Add(1)
	s.logDebug("command sent", "zone", zoneID, "command", string(cmd))
	return nil
}

// buildCommand translates a host command into a RIO line.
func (s *Session) buildCommand(zoneID int, cmd Command, params Params) (string, error) {
	controller := s.cfg.ControllerID

	switch cmd {
	case CmdPowerOn:
		return rio.ZoneOnCommand(controller, zoneID), nil

	case CmdPowerOff:
		return rio.ZoneOffCommand(controller, zoneID), nil

	case CmdPowerToggle:
		z, err := s.registry.Zone(zoneID)
		if err != nil {
			return "", fmt.Errorf("%w: zone %d", ErrInvalidTarget, zoneID)
		}
		if z.Power {
			return rio.ZoneOffCommand(controller, zoneID), nil
		}
		return rio.ZoneOnCommand(controller, zoneID), nil

	case CmdSetVolume:
		if params.Volume < 0 || params.Volume > zone.UIVolumeMax {
			return "", fmt.Errorf("%w: volume %d out of range", ErrInvalidCommand, params.Volume)
		}
		return rio.VolumeCommand(controller, zoneID, zone.ToNative(params.Volume)), nil

	case CmdVolumeUp:
		z, err := s.registry.Zone(zoneID)
		if err != nil {
			return "", fmt.Errorf("%w: zone %d", ErrInvalidTarget, zoneID)
		}
		return rio.VolumeCommand(controller, zoneID, zone.ClampNative(z.Volume+zone.VolumeStep)), nil

	case CmdVolumeDown:
		z, err := s.registry.Zone(zoneID)
		if err != nil {
			return "", fmt.Errorf("%w: zone %d", ErrInvalidTarget, zoneID)
		}
		return rio.VolumeCommand(controller, zoneID, zone.ClampNative(z.Volume-zone.VolumeStep)), nil

	case CmdMuteToggle:
		return rio.MuteToggleCommand(controller, zoneID), nil

	case CmdSelectSource:
		sourceID, err := s.registry.SourceIDByName(params.Source)
		if err != nil {
			return "", fmt.Errorf("%w: source %q", ErrInvalidTarget, params.Source)
		}
		return rio.SelectSourceCommand(controller, zoneID, sourceID), nil

	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCommand, string(cmd))
	}
}

// handleNotification applies a device notification to the registry.
// Runs on the transport's dispatch goroutine, so updates and the zone
// update callback preserve wire order.
func (s *Session) handleNotification(n rio.Notification) {
	switch n.Kind {
	case rio.KindZone:
		s.applyZoneNotification(n)
	case rio.KindSource:
		s.applySourceNotification(n)
	}
}

func (s *Session) applyZoneNotification(n rio.Notification) {
	if !s.registry.HasZone(n.Zone) {
		s.droppedUpdates.Add(1)
		s.logWarn("notification for unknown zone", "zone", n.Zone, "field", n.Field)
		return
	}

	var err error
	switch n.Field {
	case "name":
		err = s.registry.SetZoneName(n.Zone, n.Value)
	case "status":
		err = s.registry.SetZonePower(n.Zone, rio.ParseOnOff(n.Value))
	case "volume":
		v, convErr := strconv.Atoi(n.Value)
		if convErr != nil {
			s.droppedUpdates.Add(1)
			s.logWarn("unparseable volume", "zone", n.Zone, "value", n.Value)
			return
		}
		err = s.registry.SetZoneVolume(n.Zone, v)
	case "mute":
		err = s.registry.SetZoneMute(n.Zone, rio.ParseOnOff(n.Value))
	case "currentSource":
		src, convErr := strconv.Atoi(n.Value)
		if convErr != nil {
			s.droppedUpdates.Add(1)
			s.logWarn("unparseable source id", "zone", n.Zone, "value", n.Value)
			return
		}
		err = s.registry.SetZoneSource(n.Zone, src)
	default:
		// Fields the mirror does not track.
		return
	}

	if err != nil {
		s.droppedUpdates.Add(1)
		return
	}
	s.fireZoneUpdate(n.Zone)
}

func (s *Session) applySourceNotification(n rio.Notification) {
	if !s.registry.HasSource(n.Source) {
		s.droppedUpdates.Add(1)
		s.logWarn("notification for unknown source", "source", n.Source, "field", n.Field)
		return
	}

	if n.Field == "name" {
		_ = s.registry.SetSourceName(n.Source, n.Value)
	} else {
		_ = s.registry.SetSourceMediaField(n.Source, n.Field, n.Value)
	}

	// Zones tuned to this source present its metadata.
	for _, z := range s.registry.Zones() {
		if z.SourceID == n.Source {
			s.fireZoneUpdate(z.ID)
		}
	}
}

// handleLinkLoss runs when the transport reports an unexpected drop.
// It never runs for a deliberate Disconnect.
//
// Serialised with Connect and Disconnect so a loss racing the connect
// window cannot strand the session Connected on a dead transport. A
// report for a superseded connection carries a stale generation and is
// dropped; whichever of this handler and Connect's liveness check runs
// second finds the work already done.
func (s *Session) handleLinkLoss(gen uint64, err error) {
	s.connectMu.Lock()
	if gen != s.generation {
		s.connectMu.Unlock()
		return
	}
	s.generation++

	s.setLastError(err)
	s.logWarn("device link lost", "error", err)

	s.stopKeepalive()

	s.transportMu.Lock()
	transport := s.transport
	s.transport = nil
	s.transportMu.Unlock()

	s.setState(StateDisconnected)
	s.fireConnectionChange(false)
	s.connectMu.Unlock()

	if transport != nil {
		transport.Close() //nolint:errcheck
	}

	s.kickSupervisor()
}

// startKeepalive launches the periodic VERSION ping for the current
// connection.
func (s *Session) startKeepalive() {
	if s.cfg.KeepaliveInterval <= 0 {
		return
	}

	stop := make(chan struct{})
	s.keepaliveMu.Lock()
	s.keepaliveStop = stop
	s.keepaliveMu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.KeepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.transportMu.RLock()
				transport := s.transport
				s.transportMu.RUnlock()
				if transport == nil {
					return
				}
				// A failed ping surfaces as link loss on the receive
				// side; nothing to do here.
				_ = transport.Send(context.Background(), rio.VersionCommand())
			}
		}
	}()
}

func (s *Session) stopKeepalive() {
	s.keepaliveMu.Lock()
	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
		s.keepaliveStop = nil
	}
	s.keepaliveMu.Unlock()
}

// SetOnConnectionChange sets the callback fired on every transition
// into or out of Connected, including failed connect attempts.
func (s *Session) SetOnConnectionChange(callback func(connected bool)) {
	s.callbackMu.Lock()
	s.onConnectionChange = callback
	s.callbackMu.Unlock()
}

// SetOnZoneUpdate sets the callback fired after a notification updates
// a zone's mirror. Invoked in wire order.
func (s *Session) SetOnZoneUpdate(callback func(zoneID int)) {
	s.callbackMu.Lock()
	s.onZoneUpdate = callback
	s.callbackMu.Unlock()
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	return ConnState(s.state.Load())
}

// LastError returns the most recent connect or link failure, or nil.
func (s *Session) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Registry returns the zone and source mirror.
func (s *Session) Registry() *zone.Registry {
	return s.registry
}

// Stats returns current session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		State:          s.State().String(),
		Connects:       s.connects.Load(),
		Reconnects:     s.reconnects.Load(),
		CommandsSent:   s.commandsSent.Load(),
		DroppedUpdates: s.droppedUpdates.Load(),
	}
	if err := s.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// TransportStats returns the live transport's counters when the
// transport exposes them.
func (s *Session) TransportStats() (rio.Stats, bool) {
	s.transportMu.RLock()
	transport := s.transport
	s.transportMu.RUnlock()

	if transport == nil {
		return rio.Stats{}, false
	}
	provider, ok := transport.(interface{ Stats() rio.Stats })
	if !ok {
		return rio.Stats{}, false
	}
	return provider.Stats(), true
}

func (s *Session) setState(state ConnState) {
	s.state.Store(int32(state))
}

func (s *Session) setLastError(err error) {
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
}

func (s *Session) fireConnectionChange(connected bool) {
	s.callbackMu.RLock()
	callback := s.onConnectionChange
	s.callbackMu.RUnlock()

	if callback != nil {
		callback(connected)
	}
}

func (s *Session) fireZoneUpdate(zoneID int) {
	s.callbackMu.RLock()
	callback := s.onZoneUpdate
	s.callbackMu.RUnlock()

	if callback != nil {
		callback(zoneID)
	}
}

// logDebug logs a debug message if logger is set.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (s *Session) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

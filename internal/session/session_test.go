package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atward/riolink/internal/rio"
)

// mockTransport is an in-memory Transport for session tests.
type mockTransport struct {
	mu             sync.Mutex
	sent           []string
	sendErr        error
	closed         bool
	dropOnSend     bool
	onNotification func(rio.Notification)
	onDisconnect   func(error)
}

func (m *mockTransport) Send(_ context.Context, command string) error {
	m.mu.Lock()
	if m.sendErr != nil {
		m.mu.Unlock()
		return m.sendErr
	}
	m.sent = append(m.sent, command)
	var callback func(error)
	if m.dropOnSend && !m.closed {
		m.closed = true
		callback = m.onDisconnect
	}
	m.mu.Unlock()

	if callback != nil {
		// Reported off the caller's goroutine, the way the real client
		// delivers link loss.
		go callback(errors.New("connection reset"))
	}
	return nil
}

func (m *mockTransport) SetOnNotification(callback func(rio.Notification)) {
	m.mu.Lock()
	m.onNotification = callback
	m.mu.Unlock()
}

func (m *mockTransport) SetOnDisconnect(callback func(error)) {
	m.mu.Lock()
	m.onDisconnect = callback
	m.mu.Unlock()
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) sentLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// notify delivers a notification the way the real transport does.
func (m *mockTransport) notify(n rio.Notification) {
	m.mu.Lock()
	callback := m.onNotification
	m.mu.Unlock()
	if callback != nil {
		callback(n)
	}
}

// dropLink simulates unexpected link loss.
func (m *mockTransport) dropLink(err error) {
	m.mu.Lock()
	m.closed = true
	callback := m.onDisconnect
	m.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

// mockDialer fails the first `failures` dials, then hands out fresh
// mock transports.
type mockDialer struct {
	mu         sync.Mutex
	dials      int
	failures   int
	transports []*mockTransport
}

func (d *mockDialer) dial(_ context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connection refused")
	}
	t := &mockTransport{}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *mockDialer) last() *mockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func newTestSession(dialer *mockDialer) *Session {
	return New(Config{
		ControllerID:      1,
		Zones:             2,
		Sources:           2,
		KeepaliveInterval: -1, // No ticker noise in tests
		Backoff:           Backoff{Initial: 20 * time.Millisecond, Max: 500 * time.Millisecond},
	}, dialer.dial, nil)
}

func TestConnect(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	var changes []bool
	var changesMu sync.Mutex
	s.SetOnConnectionChange(func(connected bool) {
		changesMu.Lock()
		changes = append(changes, connected)
		changesMu.Unlock()
	})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if s.State() != StateConnected {
		t.Errorf("State() = %v, want StateConnected", s.State())
	}

	changesMu.Lock()
	if len(changes) != 1 || !changes[0] {
		t.Errorf("connection changes = %v, want [true]", changes)
	}
	changesMu.Unlock()

	// 2 zones * (watch + name) + 2 source watches
	lines := dialer.last().sentLines()
	if len(lines) != 6 {
		t.Fatalf("sent %d lines, want 6: %v", len(lines), lines)
	}
	if lines[0] != "WATCH C[1].Z[1] ON" {
		t.Errorf("first line = %q, want zone 1 watch", lines[0])
	}
	if lines[4] != "WATCH S[1] ON" {
		t.Errorf("fifth line = %q, want source 1 watch", lines[4])
	}
}

func TestConnect_IdempotentWhileConnected(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 (no reopen while connected)", dialer.dialCount())
	}
}

func TestConnect_Failure(t *testing.T) {
	dialer := &mockDialer{failures: 100}
	s := newTestSession(dialer)

	connected := true
	s.SetOnConnectionChange(func(c bool) { connected = c })

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("Connect() error = %v, want ErrTransportUnavailable", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want StateDisconnected", s.State())
	}
	if s.LastError() == nil {
		t.Error("LastError() = nil after failed connect")
	}
	if connected {
		t.Error("connection callback not fired with false on failure")
	}
}

func TestDisconnect(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	s.Disconnect()

	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want StateDisconnected", s.State())
	}
	if !dialer.last().closed {
		t.Error("transport not closed by Disconnect()")
	}
}

func TestDisconnect_WhileDisconnected(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)

	s.Disconnect()
	s.Disconnect()

	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want StateDisconnected", s.State())
	}
	if dialer.dialCount() != 0 {
		t.Errorf("dials = %d, want 0", dialer.dialCount())
	}
}

func TestDisconnect_FiresCallbackWhileDown(t *testing.T) {
	s := newTestSession(&mockDialer{})

	var changesMu sync.Mutex
	var changes []bool
	s.SetOnConnectionChange(func(connected bool) {
		changesMu.Lock()
		changes = append(changes, connected)
		changesMu.Unlock()
	})

	// The callback fires on every Disconnect, connected beforehand or
	// not, so consumers can publish availability unconditionally.
	s.Disconnect()

	changesMu.Lock()
	defer changesMu.Unlock()
	if len(changes) != 1 || changes[0] {
		t.Errorf("connection changes = %v, want [false] from a Disconnect while down", changes)
	}
}

func TestConnect_LinkLossDuringSubscribeWindow(t *testing.T) {
	transport := &mockTransport{dropOnSend: true}
	dial := func(_ context.Context) (Transport, error) { return transport, nil }
	s := New(Config{
		ControllerID:      1,
		Zones:             2,
		Sources:           2,
		KeepaliveInterval: -1,
		Backoff:           Backoff{Initial: 20 * time.Millisecond, Max: 500 * time.Millisecond},
	}, dial, nil)

	// The link dies while the watches are being installed; Connect must
	// notice and fail rather than declare Connected on a dead transport.
	err := s.Connect(context.Background())
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Connect() error = %v, want ErrTransportUnavailable", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want StateDisconnected", s.State())
	}
	if s.LastError() == nil {
		t.Error("LastError() = nil after link died during connect")
	}
}

func TestConnect_RecoversAfterLossDuringSubscribe(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dial := func(_ context.Context) (Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		transport := &mockTransport{}
		if dials == 1 {
			transport.dropOnSend = true
		}
		return transport, nil
	}
	s := New(Config{
		ControllerID:      1,
		Zones:             2,
		Sources:           2,
		KeepaliveInterval: -1,
		Backoff:           Backoff{Initial: 20 * time.Millisecond, Max: 500 * time.Millisecond},
	}, dial, nil)

	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect() = nil, want error for a link that died mid-subscribe")
	}
	s.StartReconnect()

	waitFor(t, 2*time.Second, "recovery after connect-window loss", func() bool {
		return s.State() == StateConnected
	})

	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Errorf("dials = %d, want 2 (one doomed window, one retry)", dials)
	}
}

func TestSendCommand(t *testing.T) {
	tests := []struct {
		name    string
		zoneID  int
		cmd     Command
		params  Params
		prepare func(*Session)
		want    string
		wantErr error
	}{
		{
			name:   "power on",
			zoneID: 1,
			cmd:    CmdPowerOn,
			want:   "EVENT C[1].Z[1]!ZoneOn",
		},
		{
			name:   "power off",
			zoneID: 2,
			cmd:    CmdPowerOff,
			want:   "EVENT C[1].Z[2]!ZoneOff",
		},
		{
			name:   "toggle from off powers on",
			zoneID: 1,
			cmd:    CmdPowerToggle,
			want:   "EVENT C[1].Z[1]!ZoneOn",
		},
		{
			name:   "toggle from on powers off",
			zoneID: 1,
			cmd:    CmdPowerToggle,
			prepare: func(s *Session) {
				s.Registry().SetZonePower(1, true) //nolint:errcheck
			},
			want: "EVENT C[1].Z[1]!ZoneOff",
		},
		{
			name:   "set volume converts host scale to native",
			zoneID: 1,
			cmd:    CmdSetVolume,
			params: Params{Volume: 80},
			want:   "EVENT C[1].Z[1]!KeyRelease Volume 40",
		},
		{
			name:    "set volume out of range",
			zoneID:  1,
			cmd:     CmdSetVolume,
			params:  Params{Volume: 150},
			wantErr: ErrInvalidCommand,
		},
		{
			name:   "volume up steps from mirror",
			zoneID: 1,
			cmd:    CmdVolumeUp,
			prepare: func(s *Session) {
				s.Registry().SetZoneVolume(1, 10) //nolint:errcheck
			},
			want: "EVENT C[1].Z[1]!KeyRelease Volume 12",
		},
		{
			name:   "volume down clamps at zero",
			zoneID: 1,
			cmd:    CmdVolumeDown,
			want:   "EVENT C[1].Z[1]!KeyRelease Volume 0",
		},
		{
			name:   "mute toggle",
			zoneID: 1,
			cmd:    CmdMuteToggle,
			want:   "EVENT C[1].Z[1]!KeyRelease Mute",
		},
		{
			name:   "select source by name",
			zoneID: 1,
			cmd:    CmdSelectSource,
			params: Params{Source: "Streamer"},
			prepare: func(s *Session) {
				s.Registry().SetSourceName(2, "Streamer") //nolint:errcheck
			},
			want: "EVENT C[1].Z[1]!SelectSource 2",
		},
		{
			name:    "select unknown source",
			zoneID:  1,
			cmd:     CmdSelectSource,
			params:  Params{Source: "Turntable"},
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "unknown zone",
			zoneID:  7,
			cmd:     CmdPowerOn,
			wantErr: ErrInvalidTarget,
		},
		{
			name:    "unknown command",
			zoneID:  1,
			cmd:     Command("eject"),
			wantErr: ErrInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &mockDialer{}
			s := newTestSession(dialer)
			if err := s.Connect(context.Background()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if tt.prepare != nil {
				tt.prepare(s)
			}

			transport := dialer.last()
			before := len(transport.sentLines())

			err := s.SendCommand(context.Background(), tt.zoneID, tt.cmd, tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SendCommand() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}

			lines := transport.sentLines()
			if len(lines) != before+1 {
				t.Fatalf("sent %d new lines, want 1", len(lines)-before)
			}
			if got := lines[len(lines)-1]; got != tt.want {
				t.Errorf("sent %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSendCommand_NotConnected(t *testing.T) {
	s := newTestSession(&mockDialer{})

	err := s.SendCommand(context.Background(), 1, CmdPowerOn, Params{})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() error = %v, want ErrNotConnected", err)
	}
}

func TestSendCommand_TransportRejection(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport := dialer.last()
	transport.mu.Lock()
	transport.sendErr = errors.New("broken pipe")
	transport.mu.Unlock()

	err := s.SendCommand(context.Background(), 1, CmdPowerOn, Params{})
	if !errors.Is(err, ErrDeviceError) {
		t.Errorf("SendCommand() error = %v, want ErrDeviceError", err)
	}
}

func TestNotificationUpdatesMirror(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var updated []int
	s.SetOnZoneUpdate(func(zoneID int) { updated = append(updated, zoneID) })

	transport := dialer.last()
	transport.notify(rio.Notification{Kind: rio.KindZone, Controller: 1, Zone: 1, Field: "status", Value: "ON"})
	transport.notify(rio.Notification{Kind: rio.KindZone, Controller: 1, Zone: 1, Field: "volume", Value: "25"})

	z, err := s.Registry().Zone(1)
	if err != nil {
		t.Fatalf("Zone(1) error = %v", err)
	}
	if !z.Power {
		t.Error("zone power not applied")
	}
	if z.Volume != 25 {
		t.Errorf("zone volume = %d, want 25", z.Volume)
	}

	// Native 25 presents as 50 on the host scale.
	attrs, err := s.Registry().Attributes(1)
	if err != nil {
		t.Fatalf("Attributes(1) error = %v", err)
	}
	if attrs.Volume != 50 {
		t.Errorf("attribute volume = %d, want 50", attrs.Volume)
	}

	if len(updated) != 2 || updated[0] != 1 || updated[1] != 1 {
		t.Errorf("zone updates = %v, want [1 1]", updated)
	}
}

func TestNotification_UnknownZoneDropped(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer) // 2 zones configured
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	transport := dialer.last()
	transport.notify(rio.Notification{Kind: rio.KindZone, Controller: 1, Zone: 7, Field: "volume", Value: "30"})

	if got := s.Stats().DroppedUpdates; got != 1 {
		t.Errorf("DroppedUpdates = %d, want 1", got)
	}

	// Later notifications still land.
	transport.notify(rio.Notification{Kind: rio.KindZone, Controller: 1, Zone: 2, Field: "volume", Value: "30"})
	z, _ := s.Registry().Zone(2)
	if z.Volume != 30 {
		t.Errorf("zone 2 volume = %d, want 30 after dropped notification", z.Volume)
	}
}

func TestSourceNotificationFiresTunedZones(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	s.Registry().SetZoneSource(1, 2) //nolint:errcheck
	s.Registry().SetZoneSource(2, 1) //nolint:errcheck

	var updated []int
	s.SetOnZoneUpdate(func(zoneID int) { updated = append(updated, zoneID) })

	dialer.last().notify(rio.Notification{Kind: rio.KindSource, Source: 2, Field: "songName", Value: "So What"})

	if len(updated) != 1 || updated[0] != 1 {
		t.Errorf("zone updates = %v, want [1] (only the tuned zone)", updated)
	}

	src, _ := s.Registry().Source(2)
	if src.MediaTitle != "So What" {
		t.Errorf("media title = %q, want %q", src.MediaTitle, "So What")
	}
}

func TestLinkLoss(t *testing.T) {
	dialer := &mockDialer{}
	s := newTestSession(dialer)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var changesMu sync.Mutex
	var changes []bool
	s.SetOnConnectionChange(func(connected bool) {
		changesMu.Lock()
		changes = append(changes, connected)
		changesMu.Unlock()
	})

	dialer.last().dropLink(errors.New("read: connection reset"))

	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want StateDisconnected after link loss", s.State())
	}
	if s.LastError() == nil {
		t.Error("LastError() = nil after link loss")
	}

	changesMu.Lock()
	defer changesMu.Unlock()
	if len(changes) != 1 || changes[0] {
		t.Errorf("connection changes = %v, want [false]", changes)
	}
}

package rio

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeController is a minimal in-process RIO endpoint for tests.
// It answers the VERSION handshake and lets tests push lines to the
// client or inspect what the client sent.
type fakeController struct {
	listener net.Listener

	mu       sync.Mutex
	conn     net.Conn
	received []string

	accepted chan struct{}
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	f := &fakeController{
		listener: listener,
		accepted: make(chan struct{}),
	}

	go f.serve()

	t.Cleanup(func() {
		f.close()
	})

	return f
}

func (f *fakeController) serve() {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	close(f.accepted)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		f.mu.Lock()
		f.received = append(f.received, line)
		f.mu.Unlock()

		if line == "VERSION" {
			conn.Write([]byte("S VERSION=\"07.04.00\"\r\n")) //nolint:errcheck
		} else {
			conn.Write([]byte("S\r\n")) //nolint:errcheck
		}
	}
}

func (f *fakeController) addr() string {
	return f.listener.Addr().String()
}

func (f *fakeController) port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

// push writes a raw line (with terminator) to the connected client.
func (f *fakeController) push(t *testing.T, line string) {
	t.Helper()

	select {
	case <-f.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no client connected to fake controller")
	}

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// dropConnection severs the link from the controller side.
func (f *fakeController) dropConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *fakeController) close() {
	f.listener.Close()
	f.dropConnection()
}

func (f *fakeController) receivedLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	copy(out, f.received)
	return out
}

func dialTestClient(t *testing.T, f *fakeController) *Client {
	t.Helper()

	client, err := Dial(context.Background(), Config{
		Host:           "127.0.0.1",
		Port:           f.port(),
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestDial_Handshake(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Dial()")
	}
	if client.Version() != "07.04.00" {
		t.Errorf("Version() = %q, want %q", client.Version(), "07.04.00")
	}
}

func TestDial_NoListener(t *testing.T) {
	_, err := Dial(context.Background(), Config{
		Host:           "127.0.0.1",
		Port:           1, // Nothing listens here
		ConnectTimeout: 500 * time.Millisecond,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectionFailed", err)
	}
}

func TestSend(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	if err := client.Send(context.Background(), WatchZoneCommand(1, 1)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// Wait for the line to land on the fake controller
	deadline := time.After(2 * time.Second)
	for {
		lines := f.receivedLines()
		if len(lines) >= 2 {
			if lines[1] != "WATCH C[1].Z[1] ON" {
				t.Errorf("received %q, want %q", lines[1], "WATCH C[1].Z[1] ON")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("controller received %v, want handshake + command", lines)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stats := client.Stats()
	if stats.LinesTx < 1 {
		t.Errorf("Stats().LinesTx = %d, want >= 1", stats.LinesTx)
	}
}

func TestSend_AfterClose(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	client.Close()

	err := client.Send(context.Background(), VersionCommand())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestNotificationsDeliveredInOrder(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	const count = 20
	got := make(chan Notification, count)
	client.SetOnNotification(func(n Notification) {
		got <- n
	})

	for i := 1; i <= count; i++ {
		f.push(t, `N C[1].Z[1].volume="`+strconv.Itoa(i)+`"`)
	}

	for i := 1; i <= count; i++ {
		select {
		case n := <-got:
			if n.Value != strconv.Itoa(i) {
				t.Fatalf("notification %d arrived with value %q, want %q", i, n.Value, strconv.Itoa(i))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notification %d", i)
		}
	}
}

func TestDeviceErrorCounted(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	f.push(t, "E Invalid zone")

	deadline := time.After(2 * time.Second)
	for client.Stats().DeviceErrors == 0 {
		select {
		case <-deadline:
			t.Fatal("DeviceErrors stayed 0 after error line")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDisconnectCallback(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	dropped := make(chan error, 1)
	client.SetOnDisconnect(func(err error) {
		dropped <- err
	})

	f.dropConnection()

	select {
	case err := <-dropped:
		if err == nil {
			t.Error("disconnect callback fired with nil error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect callback never fired")
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after link drop")
	}
}

func TestDisconnectCallback_ReplayedWhenSetAfterLoss(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	// The link dies before the owner has registered any callback, the
	// way a drop during a session's subscribe window lands.
	f.dropConnection()

	deadline := time.After(2 * time.Second)
	for client.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("client never noticed the drop")
		case <-time.After(10 * time.Millisecond):
		}
	}

	dropped := make(chan error, 1)
	client.SetOnDisconnect(func(err error) {
		dropped <- err
	})

	select {
	case err := <-dropped:
		if err == nil {
			t.Error("replayed disconnect callback fired with nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loss before SetOnDisconnect was never replayed")
	}
}

func TestDisconnectCallback_NotFiredOnClose(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	fired := make(chan struct{}, 1)
	client.SetOnDisconnect(func(_ error) {
		fired <- struct{}{}
	})

	client.Close()

	select {
	case <-fired:
		t.Error("disconnect callback fired for deliberate Close()")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClose_Idempotent(t *testing.T) {
	f := newFakeController(t)
	client := dialTestClient(t, f)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

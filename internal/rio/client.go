package rio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and limits for RIO communication.
const (
	// DefaultPort is the RIO TCP port.
	DefaultPort = 9621

	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout bounds individual reads. Notifications and
	// keepalive responses arrive well inside this under normal operation.
	defaultReadTimeout = 5 * time.Minute

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// maxLineSize bounds a single RIO line. The protocol's longest lines
	// are cover art URLs, far below this.
	maxLineSize = 4096

	// dispatchQueueSize is the buffer size for the notification queue.
	dispatchQueueSize = 256
)

// Config holds RIO connection configuration.
type Config struct {
	// Host is the controller's IP address or hostname.
	Host string

	// Port is the RIO TCP port. Default: 9621.
	Port int

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 5 minutes.
	ReadTimeout time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	LinesTx              uint64
	LinesRx              uint64
	NotificationsDropped uint64 // Dropped due to full dispatch queue
	DeviceErrors         uint64 // "E ..." lines from the controller
	ErrorsTotal          uint64
	LastActivity         time.Time
	Connected            bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Client is a connection to a Russound controller's RIO port.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Notification callbacks run on a single dispatch goroutine and are
//     invoked in delivery order.
//
// Connection ownership:
//   - The client never reconnects on its own. Link loss fires the
//     on-disconnect callback once and the client becomes unusable;
//     the owner dials a fresh client to recover.
type Client struct {
	cfg  Config
	conn net.Conn

	// reader is the buffered reader over conn. Created during the
	// handshake and owned by the receive loop afterwards.
	reader *bufio.Reader

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Firmware version reported during the handshake.
	version string

	// Notification handler callback
	onNotification func(Notification)
	callbackMu     sync.RWMutex

	// Disconnect callback, fired at most once on link loss. A loss
	// that lands before the owner registers the callback is parked in
	// pendingLoss and replayed by SetOnDisconnect. All three fields
	// are guarded by callbackMu.
	onDisconnect    func(err error)
	disconnectFired bool
	pendingLoss     error

	// Single ordered dispatch queue
	dispatchQueue chan Notification

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	linesTx              atomic.Uint64
	linesRx              atomic.Uint64
	notificationsDropped atomic.Uint64
	deviceErrors         atomic.Uint64
	errorsTotal          atomic.Uint64
	lastActivity         atomic.Int64 // Unix timestamp
}

// Dial connects to a controller and performs the VERSION handshake.
//
// After the handshake succeeds it starts the receive loop and the
// notification dispatch goroutine. WATCH subscriptions are the caller's
// responsibility; a fresh connection watches nothing.
//
// Parameters:
//   - ctx: Context for cancellation (bounds the initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If connection or handshake fails
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	// Apply defaults
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	address := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}

	client := &Client{
		cfg:           cfg,
		conn:          conn,
		done:          newCloseOnce(),
		dispatchQueue: make(chan Notification, dispatchQueueSize),
	}
	client.lastActivity.Store(time.Now().Unix())

	// VERSION handshake before the receive loop starts; the response is
	// read synchronously here.
	if err := client.handshake(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	// Single dispatch goroutine preserves notification order.
	client.wg.Add(1)
	go client.dispatchLoop()

	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// handshake sends VERSION and reads the response line.
func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write([]byte(VersionCommand() + "\r")); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	readDeadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(readDeadline) {
		readDeadline = d
	}
	if err := c.conn.SetReadDeadline(readDeadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	reader := bufio.NewReaderSize(c.conn, maxLineSize)
	line, err := readLine(reader)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	version, err := ParseVersion(line)
	if err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	c.version = version

	// Hand the buffered reader to the receive loop so no bytes are lost.
	c.reader = reader

	return nil
}

// receiveLoop continuously reads lines from the controller.
// On connection loss it fires the disconnect callback and exits; there
// is no internal reconnection.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.failLink(fmt.Errorf("set deadline: %w", err))
			return
		}

		line, err := readLine(c.reader)
		if err != nil {
			if c.isClosed() {
				return // Clean shutdown
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// No traffic inside ReadTimeout. The keepalive ping keeps a
				// healthy link active, so silence this long means the link
				// is dead.
				c.failLink(fmt.Errorf("read timeout: %w", err))
				return
			}
			c.failLink(fmt.Errorf("read: %w", err))
			return
		}
		if line == "" {
			continue
		}

		c.linesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.handleLine(line)
	}
}

// handleLine routes a received line by its type.
func (c *Client) handleLine(line string) {
	switch {
	case IsNotification(line):
		n, err := ParseNotification(line)
		if err != nil {
			c.logWarn("unparseable notification", "line", line)
			c.errorsTotal.Add(1)
			return
		}
		c.queueNotification(n)

	case IsError(line):
		// Command rejections arrive asynchronously; commands have already
		// returned to their callers by the time this lands.
		c.deviceErrors.Add(1)
		c.logWarn("controller rejected command", "message", ErrorMessage(line))

	case IsSuccess(line):
		// Acknowledgements and GET responses; nothing to route.

	default:
		c.logWarn("unrecognised line", "line", line)
		c.errorsTotal.Add(1)
	}
}

// queueNotification enqueues a notification for ordered dispatch.
// Drops with a counter bump when the queue is full rather than blocking
// the receive loop.
func (c *Client) queueNotification(n Notification) {
	c.callbackMu.RLock()
	hasCallback := c.onNotification != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	select {
	case c.dispatchQueue <- n:
	default:
		c.notificationsDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logWarn("dispatch queue full, dropping notification")
	}
}

// dispatchLoop delivers notifications to the callback in arrival order.
// A single goroutine guarantees ordering.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainDispatchQueue()
			return
		case n := <-c.dispatchQueue:
			c.callbackMu.RLock()
			callback := c.onNotification
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("notification callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(n)
				}()
			}
		}
	}
}

// drainDispatchQueue discards any remaining queued notifications.
// Called during shutdown so the receive loop never blocks on send.
func (c *Client) drainDispatchQueue() {
	for {
		select {
		case <-c.dispatchQueue:
		default:
			return
		}
	}
}

// failLink marks the connection dead and fires the disconnect callback
// exactly once. A loss with no callback registered yet is parked for
// SetOnDisconnect to replay, so the owner never misses the drop.
func (c *Client) failLink(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if !wasConnected {
		return
	}

	c.errorsTotal.Add(1)
	c.logWarn("connection lost", "error", err)

	c.callbackMu.Lock()
	if c.disconnectFired {
		c.callbackMu.Unlock()
		return
	}
	callback := c.onDisconnect
	if callback == nil {
		c.pendingLoss = err
		c.callbackMu.Unlock()
		return
	}
	c.disconnectFired = true
	c.callbackMu.Unlock()

	// Fired off the receive goroutine so a Close() from inside the
	// callback cannot deadlock against wg.Wait.
	go callback(err)
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Send writes a command line to the controller.
//
// It returns once the line is flushed to the socket. The controller's
// success or error response arrives asynchronously on the receive loop;
// state changes caused by the command surface as notifications.
//
// Parameters:
//   - ctx: Context for cancellation
//   - command: Command line without the trailing CR
//
// Returns:
//   - error: If the client is not connected or the write fails
func (c *Client) Send(ctx context.Context, command string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWriteFailed, ctx.Err())
	default:
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrWriteFailed, err)
	}

	if _, err := conn.Write([]byte(command + "\r")); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	c.linesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	return nil
}

// SetOnNotification sets the callback for parsed notifications.
//
// The callback is invoked from a single dispatch goroutine in delivery
// order. Panics in the callback are recovered and logged.
func (c *Client) SetOnNotification(callback func(Notification)) {
	c.callbackMu.Lock()
	c.onNotification = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback fired when the link drops.
//
// The callback fires at most once per client, on its own goroutine,
// and never fires for a deliberate Close(). A link loss that happened
// before the callback was registered is replayed immediately.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	var replay error
	if callback != nil && c.pendingLoss != nil && !c.disconnectFired {
		replay = c.pendingLoss
		c.pendingLoss = nil
		c.disconnectFired = true
	}
	c.callbackMu.Unlock()

	if replay != nil {
		go callback(replay)
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the link is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Version returns the controller firmware version from the handshake.
func (c *Client) Version() string {
	return c.version
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		LinesTx:              c.linesTx.Load(),
		LinesRx:              c.linesRx.Load(),
		NotificationsDropped: c.notificationsDropped.Load(),
		DeviceErrors:         c.deviceErrors.Load(),
		ErrorsTotal:          c.errorsTotal.Load(),
		LastActivity:         time.Unix(c.lastActivity.Load(), 0),
		Connected:            c.IsConnected(),
	}
}

// Close shuts the client down.
//
// It signals the receive and dispatch loops to stop, closes the socket
// and waits for both goroutines to exit. Safe to call multiple times.
// The disconnect callback does not fire for a deliberate close.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()

	c.logDebug("connection closed")
	return nil
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// readLine reads one CR- or LF-terminated line and trims the terminator.
// Blank lines between CRLF pairs come back as "".
func readLine(r *bufio.Reader) (string, error) {
	var b []byte
	for {
		ch, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if ch == '\r' || ch == '\n' {
			return string(b), nil
		}
		b = append(b, ch)
		if len(b) > maxLineSize {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrInvalidLine, maxLineSize)
		}
	}
}

// -----------------------------------------------------------------------
// Relay transport - one persistent WebSocket connection to the event relay
// -----------------------------------------------------------------------

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/models"
)

// ErrNotConnected is returned by Send while no connection is established
var ErrNotConnected = errors.New("relay transport is not connected")

// ErrClosed is returned by Connect and Run after Close
var ErrClosed = errors.New("relay transport is closed")

// Options configures the relay client
type Options struct {
	URL               string
	ReconnectInterval time.Duration // Minimum spacing between dial attempts
	PingInterval      time.Duration // 0 disables keepalive pings and read deadlines
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// OptionsFromConfig converts the [relay] config section
func OptionsFromConfig(cfg common.RelayConfig) Options {
	return Options{
		URL:               cfg.URL,
		ReconnectInterval: common.ParseDuration(cfg.ReconnectInterval, 2*time.Second),
		PingInterval:      common.ParseDuration(cfg.PingInterval, 30*time.Second),
		HandshakeTimeout:  common.ParseDuration(cfg.HandshakeTimeout, 10*time.Second),
		WriteTimeout:      common.ParseDuration(cfg.WriteTimeout, 5*time.Second),
	}
}

// MessageHandler receives every inbound data frame, in arrival order, on the read goroutine
type MessageHandler func(raw []byte)

// StatusHandler is notified when the connection status changes
type StatusHandler func(status models.ConnectionStatus)

// Client owns the relay connection. Reconnecting is its job; consumers only observe status.
type Client struct {
	opts    Options
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	logger  arbor.ILogger

	mu        sync.RWMutex
	conn      *websocket.Conn
	status    models.ConnectionStatus
	onMessage MessageHandler
	onStatus  []StatusHandler

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a disconnected client
func NewClient(opts Options, logger arbor.ILogger) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		// One dial per interval, so a down relay is retried at a steady pace
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		logger:  logger,
		status:  models.ConnectionDisconnected,
		closed:  make(chan struct{}),
	}
}

// OnMessage sets the inbound frame handler. Call before Run.
func (c *Client) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = h
}

// OnStatusChange registers a status listener
func (c *Client) OnStatusChange(h StatusHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, h)
}

// IsConnected reports whether a connection is currently established
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.status == models.ConnectionConnected
}

// Status returns the current connection status
func (c *Client) Status() models.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Connect dials the relay once, waiting for the reconnect limiter first
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.setStatus(models.ConnectionConnecting)

	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.setStatus(models.ConnectionDisconnected)
		if resp != nil {
			return fmt.Errorf("failed to dial relay %s (status %d): %w", c.opts.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial relay %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	default:
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info().Str("url", c.opts.URL).Msg("Connected to relay")
	c.setStatus(models.ConnectionConnected)
	return nil
}

// Run keeps the connection alive until ctx is done or Close is called.
// Each connection is read until it fails; then the client dials again.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrClosed
		default:
		}

		if !c.IsConnected() {
			if err := c.Connect(ctx); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					continue
				}
				c.logger.Warn().Err(err).Str("url", c.opts.URL).Msg("Relay connection failed, retrying")
				continue
			}
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			continue
		}

		err := c.readLoop(ctx, conn)
		c.dropConnection(conn)

		select {
		case <-c.closed:
		default:
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Relay connection lost")
			}
		}
	}
}

// readLoop delivers frames until the connection fails
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on shutdown
	common.SafeGo(c.logger, "relay-conn-watch", func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-c.closed:
		case <-done:
		}
	})

	if c.opts.PingInterval > 0 {
		readWait := 2 * c.opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})
		common.SafeGo(c.logger, "relay-ping", func() {
			c.pingLoop(conn, done)
		})
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		c.mu.RLock()
		handler := c.onMessage
		c.mu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("Relay ping failed")
				return
			}
		}
	}
}

// Send writes one control frame as JSON
func (c *Client) Send(ctx context.Context, frame models.ControlFrame) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send %s for %s: %w", frame.Type, frame.Channel, err)
	}

	c.logger.Debug().
		Str("type", string(frame.Type)).
		Str("channel", frame.Channel).
		Msg("Control frame sent")
	return nil
}

// dropConnection forgets conn if it is still the current one
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()

	conn.Close()
	if current {
		c.setStatus(models.ConnectionDisconnected)
	}
}

func (c *Client) setStatus(status models.ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	handlers := append([]StatusHandler(nil), c.onStatus...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(status)
	}
}

// Close sends a close frame and stops Run
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			conn.Close()
		}
		c.setStatus(models.ConnectionDisconnected)
		c.logger.Info().Msg("Relay transport closed")
	})
	return nil
}

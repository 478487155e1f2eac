package transport

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// ClientConfig tunes a Client. Zero values fall back to the package defaults.
type ClientConfig struct {
	URL                  string
	Secret               string
	SendBuffer           int
	MaxReconnectAttempts int
	AckTimeout           time.Duration
	// BaseBackoff is the first reconnect delay, doubled per failed attempt.
	BaseBackoff time.Duration
}

// Client manages a websocket connection to a server with a single write goroutine.
// Lost connections are re-dialed with exponential backoff and the cached handshake is
// replayed first.
type Client struct {
	cfg    ClientConfig
	recv   Receiver
	logger *slog.Logger

	mu   sync.Mutex
	conn *ws.Conn
	// stop ends the write loop of conn.
	stop   chan struct{}
	closed bool
	// handshake is replayed on every reconnect.
	handshake []byte

	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{}

	seq        atomic.Uint32
	dropped    atomic.Int64
	reconnects atomic.Int64

	// OnReconnect runs after a successful re-dial.
	OnReconnect func()
}

// NewClient creates a client that hands every non-ack envelope to recv as coming from
// the server peer.
func NewClient(cfg ClientConfig, recv Receiver, logger *slog.Logger) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = sendChSize
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = maxReconnect
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = ackTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		recv:   recv,
		logger: logger,
		sendCh: make(chan []byte, cfg.SendBuffer),
		ackCh:  make(chan streaming.AckMessage, ackChSize),
		done:   make(chan struct{}),
	}
}

// Dial connects and starts the read/write loops.
func (c *Client) Dial() error {
	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.start(conn)
	return nil
}

// start makes conn current and runs its loops.
func (c *Client) start(conn *ws.Conn) {
	stop := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)
}

// dialOnce performs a single dial with the secret query param.
func (c *Client) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.cfg.Secret != "" {
		q := u.Query()
		q.Set("secret", c.cfg.Secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(maxMessage)
	return conn, nil
}

// writeLoop drains sendCh into conn. It returns on error, shutdown or when conn is
// replaced.
func (c *Client) writeLoop(conn *ws.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop routes acks to waiters and everything else to the receiver.
func (c *Client) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		env, err := streaming.Unmarshal(message)
		if err != nil {
			c.logger.Debug("Dropping malformed message", "error", err)
			continue
		}

		if env.Type == streaming.TypeAck {
			var ack streaming.AckMessage
			if err := env.Decode(&ack); err != nil {
				continue
			}
			select {
			case c.ackCh <- ack:
			default:
				c.logger.Debug("Ack channel full, dropping", "for", ack.For)
			}
			continue
		}

		if c.recv != nil {
			if err := c.recv.Deliver(core.ServerPeer, env); err != nil {
				c.logger.Debug("Envelope rejected", "type", env.Type, "error", err)
			}
		}
	}
}

// reconnect re-establishes the connection that broke with exponential backoff. Both
// loops of a broken connection may call it; only the first one for conn dials.
func (c *Client) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	close(c.stop)
	c.mu.Unlock()

	backoff := c.cfg.BaseBackoff
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		closed, handshake := c.closed, c.handshake
		c.mu.Unlock()
		if closed {
			_ = conn.Close()
			return
		}

		// the handshake goes out before the write loop can send anything else
		if handshake != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				err = conn.WriteMessage(ws.BinaryMessage, handshake)
			}
			if err != nil {
				c.logger.Warn("Failed to replay handshake after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.reconnects.Add(1)
		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		c.start(conn)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", c.cfg.MaxReconnectAttempts)
}

// Send queues env for the write loop. It never blocks; a full buffer drops env.
func (c *Client) Send(env streaming.Envelope) error {
	data, err := streaming.Marshal(env)
	if err != nil {
		return err
	}
	c.push(data)
	return nil
}

func (c *Client) push(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.dropped.Add(1)
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// SetHandshake sends env and remembers it for replay after every reconnect.
func (c *Client) SetHandshake(env streaming.Envelope) error {
	data, err := streaming.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handshake = data
	c.mu.Unlock()
	c.push(data)
	return nil
}

// ClearHandshake stops replaying the handshake.
func (c *Client) ClearHandshake() {
	c.mu.Lock()
	c.handshake = nil
	c.mu.Unlock()
}

// SendAndWait stamps env with a sequence number, sends it and blocks until the server
// acknowledges it or the ack timeout expires. With handshake set the envelope is also
// cached for reconnect replay.
func (c *Client) SendAndWait(env streaming.Envelope, handshake bool) error {
	env.Seq = c.seq.Add(1)
	data, err := streaming.Marshal(env)
	if err != nil {
		return err
	}
	if handshake {
		c.mu.Lock()
		c.handshake = data
		c.mu.Unlock()
	}
	c.push(data)

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == env.Type && ack.Seq == env.Seq {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%q: %w", env.Type, ErrAckTimeout)
		case <-c.done:
			return fmt.Errorf("waiting for ack of %q: %w", env.Type, ErrClosed)
		}
	}
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Dropped counts envelopes lost to a full send buffer.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Reconnects counts successful re-dials.
func (c *Client) Reconnects() int64 { return c.reconnects.Load() }

// Outbox sends everything to the server; the destination peer is ignored.
func (c *Client) Outbox() *ClientOutbox { return &ClientOutbox{c: c} }

// Close sends a close frame and shuts down all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
		return conn.Close()
	}
	return nil
}

// ClientOutbox adapts a Client to netcode.Outbox.
type ClientOutbox struct {
	c *Client
}

func (o *ClientOutbox) SendReliable(_ core.PeerID, env streaming.Envelope) {
	_ = o.c.Send(env)
}

func (o *ClientOutbox) SendUnreliable(_ core.PeerID, env streaming.Envelope) {
	_ = o.c.Send(env)
}

func (o *ClientOutbox) Broadcast(env streaming.Envelope, _ ...core.PeerID) {
	_ = o.c.Send(env)
}

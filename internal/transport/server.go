package transport

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// ServerConfig tunes a Server.
type ServerConfig struct {
	// Secret, when set, must match the "secret" query parameter of every connection.
	Secret string
	// SendBuffer is the per peer queue of outgoing frames.
	SendBuffer int
	// ReliableTimeout bounds how long a reliable send waits for queue space.
	ReliableTimeout time.Duration
}

// Server is a websocket hub. Each connection becomes a peer with its own id, send
// queue and write goroutine. Inbound envelopes go to the receiver; envelopes carrying
// a Seq are acknowledged once the receiver accepted them.
type Server struct {
	cfg      ServerConfig
	recv     Receiver
	logger   *slog.Logger
	upgrader ws.Upgrader

	mu     sync.Mutex
	peers  map[core.PeerID]*peer
	order  []core.PeerID
	last   map[lastKey]buffered
	nextID core.PeerID
	closed bool

	dropped atomic.Int64

	// OnConnect runs on the connection goroutine after a peer joined and its buffered
	// broadcasts were queued.
	OnConnect func(id core.PeerID)
	// OnDisconnect runs once per peer after it left.
	OnDisconnect func(id core.PeerID)
}

type buffered struct {
	except []core.PeerID
	data   []byte
}

type peer struct {
	id   core.PeerID
	conn *ws.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (p *peer) stop() {
	p.once.Do(func() { close(p.done) })
}

func NewServer(cfg ServerConfig, recv Receiver, logger *slog.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.ReliableTimeout <= 0 {
		cfg.ReliableTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		recv:   recv,
		logger: logger,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[core.PeerID]*peer),
		last:  make(map[lastKey]buffered),
	}
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Secret != "" {
		got := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Secret)) != 1 {
			http.Error(w, ErrForbidden.Error(), http.StatusForbidden)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessage)

	p, ok := s.register(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	s.logger.Info("Peer connected", "peer", p.id, "remote", r.RemoteAddr)

	go s.writeLoop(p)
	if s.OnConnect != nil {
		s.OnConnect(p.id)
	}
	s.readLoop(p)
}

func (s *Server) register(conn *ws.Conn) (*peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.nextID++
	p := &peer{
		id:   s.nextID,
		conn: conn,
		send: make(chan []byte, s.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	s.peers[p.id] = p
	s.order = append(s.order, p.id)

	for _, b := range s.last {
		if slices.Contains(b.except, p.id) {
			continue
		}
		select {
		case p.send <- b.data:
		default:
			s.dropped.Add(1)
		}
	}
	return p, true
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	_, ok := s.peers[p.id]
	if ok {
		delete(s.peers, p.id)
		s.order = slices.DeleteFunc(s.order, func(id core.PeerID) bool { return id == p.id })
	}
	s.mu.Unlock()

	p.stop()
	_ = p.conn.Close()
	if ok {
		s.logger.Info("Peer disconnected", "peer", p.id)
		if s.OnDisconnect != nil {
			s.OnDisconnect(p.id)
		}
	}
}

func (s *Server) readLoop(p *peer) {
	defer s.unregister(p)

	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				s.logger.Warn("WebSocket read error", "peer", p.id, "error", err)
			}
			return
		}

		env, err := streaming.Unmarshal(message)
		if err != nil {
			s.logger.Debug("Dropping malformed message", "peer", p.id, "error", err)
			continue
		}
		if s.recv != nil {
			if err := s.recv.Deliver(p.id, env); err != nil {
				s.logger.Debug("Envelope rejected", "peer", p.id, "type", env.Type, "error", err)
				continue
			}
		}
		if env.Seq != 0 {
			ack, err := ackEnvelope(env)
			if err == nil {
				s.SendReliable(p.id, ack)
			}
		}
	}
}

func (s *Server) writeLoop(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				s.logger.Warn("WebSocket write error", "peer", p.id, "error", err)
				_ = p.conn.Close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				_ = p.conn.Close()
				return
			}
		}
	}
}

func (s *Server) peer(id core.PeerID) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

// SendReliable queues env for one peer, waiting up to the reliable timeout for space.
// A peer that cannot keep up is disconnected.
func (s *Server) SendReliable(to core.PeerID, env streaming.Envelope) {
	p := s.peer(to)
	if p == nil {
		return
	}
	data, err := streaming.Marshal(env)
	if err != nil {
		s.logger.Error("Marshal failed", "type", env.Type, "error", err)
		return
	}

	timer := time.NewTimer(s.cfg.ReliableTimeout)
	defer timer.Stop()
	select {
	case p.send <- data:
	case <-p.done:
	case <-timer.C:
		s.logger.Warn("Reliable send timed out, dropping peer", "peer", to, "type", env.Type)
		p.stop()
		_ = p.conn.Close()
	}
}

// SendUnreliable queues env for one peer or drops it when the queue is full.
func (s *Server) SendUnreliable(to core.PeerID, env streaming.Envelope) {
	p := s.peer(to)
	if p == nil {
		return
	}
	data, err := streaming.Marshal(env)
	if err != nil {
		s.logger.Error("Marshal failed", "type", env.Type, "error", err)
		return
	}
	s.offer(p, data)
}

func (s *Server) offer(p *peer, data []byte) {
	select {
	case p.send <- data:
	default:
		s.dropped.Add(1)
	}
}

// Broadcast sends env unreliably to every peer but the excluded ones and keeps it as
// the latest value of its (object, type) for peers connecting later.
func (s *Server) Broadcast(env streaming.Envelope, except ...core.PeerID) {
	data, err := streaming.Marshal(env)
	if err != nil {
		s.logger.Error("Marshal failed", "type", env.Type, "error", err)
		return
	}

	s.mu.Lock()
	s.last[lastKey{object: env.Object, typ: env.Type}] = buffered{except: slices.Clone(except), data: data}
	targets := make([]*peer, 0, len(s.order))
	for _, id := range s.order {
		if slices.Contains(except, id) {
			continue
		}
		targets = append(targets, s.peers[id])
	}
	s.mu.Unlock()

	for _, p := range targets {
		s.offer(p, data)
	}
}

// Forget drops the buffered broadcasts of an object.
func (s *Server) Forget(object core.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.last {
		if k.object == object {
			delete(s.last, k)
		}
	}
}

// Kick disconnects a peer.
func (s *Server) Kick(id core.PeerID) {
	if p := s.peer(id); p != nil {
		p.stop()
	}
}

// Peers returns the ids of connected peers in join order.
func (s *Server) Peers() []core.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Dropped counts frames lost to full peer queues.
func (s *Server) Dropped() int64 { return s.dropped.Load() }

// Close disconnects every peer and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.stop()
	}
}

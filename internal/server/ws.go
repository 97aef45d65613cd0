package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blinky-mon/blinky/internal/ws"
)

// HandshakeTimeout bounds how long a new connection may take to upgrade.
const HandshakeTimeout = 10 * time.Second

// Client is one connected agent as seen by the collector.
type Client struct {
	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastSeen      time.Time `json:"last_seen"`
	Authenticated bool      `json:"authenticated"`

	conn net.Conn
}

// WSServer accepts agent connections and turns each text frame into an
// OnMessage call. Callbacks run on the connection's goroutine, so a slow
// handler only stalls that one agent. Callbacks must be set before Start.
type WSServer struct {
	addr       string
	MaxPayload int64
	log        *zap.Logger

	OnClientConnected    func(Client)
	OnMessage            func(c Client, payload []byte)
	OnClientDisconnected func(Client)
	OnFrameError         func(c Client, err error)

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	clients map[string]*Client
}

// NewWSServer returns a server for addr (host:port; ":0" picks a free port).
func NewWSServer(addr string, log *zap.Logger) *WSServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSServer{
		addr:       addr,
		MaxPayload: ws.DefaultMaxPayload,
		log:        log,
		conns:      make(map[net.Conn]struct{}),
		clients:    make(map[string]*Client),
	}
}

// Start binds the listener and spawns the accept loop.
func (s *WSServer) Start() error {
	if s.running.Load() {
		return errors.New("ws server already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ws listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	s.running.Store(true)

	s.log.Info("ws server listening", zap.String("addr", ln.Addr().String()))
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *WSServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Running reports whether the server is accepting connections.
func (s *WSServer) Running() bool { return s.running.Load() }

// Stop closes the listener and every client socket, which unblocks workers
// parked in a read, then waits for all goroutines and clears the registry.
// Safe to call more than once.
func (s *WSServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	s.cancel()
	_ = s.ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	clear(s.conns)
	clear(s.clients)
	s.mu.Unlock()
	s.log.Info("ws server stopped")
}

// Clients returns a copy of the connected clients.
func (s *WSServer) Clients() []Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, *c)
	}
	return out
}

// ClientCount returns the number of upgraded connections.
func (s *WSServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *WSServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

// track registers conn so Stop can close it. It refuses once stopping.
func (s *WSServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *WSServer) untrack(conn net.Conn, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	if id != "" {
		delete(s.clients, id)
	}
}

func (s *WSServer) serve(conn net.Conn) {
	defer s.wg.Done()
	remote := conn.RemoteAddr().String()
	log := s.log.With(zap.String("remote", remote))

	_ = conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	br, err := ws.ServerHandshake(conn)
	if err != nil {
		log.Debug("handshake failed", zap.Error(err))
		s.untrack(conn, "")
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	now := time.Now()
	c := &Client{
		ID:            uuid.New().String(),
		Hostname:      "unknown",
		RemoteAddr:    remote,
		ConnectedAt:   now,
		LastSeen:      now,
		Authenticated: true,
		conn:          conn,
	}
	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()

	log = log.With(zap.String("client", c.ID))
	log.Info("client connected")
	if s.OnClientConnected != nil {
		s.OnClientConnected(s.snapshot(c))
	}

	dec := ws.NewDecoder(br, s.MaxPayload)
	for {
		payload, err := dec.Decode()
		if err != nil {
			switch {
			case s.ctx.Err() != nil, ws.IsExpectedClose(err):
				log.Debug("client closed", zap.Error(err))
			default:
				log.Warn("frame error", zap.Error(err))
				if s.OnFrameError != nil {
					s.OnFrameError(s.snapshot(c), err)
				}
			}
			break
		}

		s.mu.Lock()
		c.LastSeen = time.Now()
		s.mu.Unlock()
		if s.OnMessage != nil {
			s.OnMessage(s.snapshot(c), payload)
		}
	}

	final := s.snapshot(c)
	s.untrack(conn, c.ID)
	_ = conn.Close()
	log.Info("client disconnected", zap.String("host", final.Hostname))
	if s.OnClientDisconnected != nil {
		s.OnClientDisconnected(final)
	}
}

func (s *WSServer) snapshot(c *Client) Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *c
}

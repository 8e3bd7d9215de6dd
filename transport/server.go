package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/projection"
)

// Namespace is the tree a Server exposes. *skylink.Namespace and *Client
// both satisfy it.
type Namespace interface {
	Get(ctx context.Context, path string) (*data.Entry, error)
	Put(ctx context.Context, path string, value *data.Entry) error
	Enumerate(ctx context.Context, path string, depth int) ([]*data.Entry, error)
	Subscribe(ctx context.Context, path string, depth int, ch projection.Channel) (*entry.Subscription, error)
	Invoke(ctx context.Context, path string, input *data.Entry) (*data.Entry, error)
	Capabilities(ctx context.Context, path string) ([]entry.Capability, error)
}

type Settings struct {
	HandshakeTimeout time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	MaxMessageSize   int64
	RequestTimeout   time.Duration
	// Subscriptions buffer QueueSize notifications and fail with
	// data.ErrSlowConsumer when the connection falls behind for longer
	// than BroadcastTimeout.
	QueueSize        int
	BroadcastTimeout time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 2 * time.Second,
		PingTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      15 * time.Second,
		MaxMessageSize:   32 << 20,
		RequestTimeout:   30 * time.Second,
		QueueSize:        256,
		BroadcastTimeout: projection.DefaultBroadcastTimeout,
	}
}

type Server struct {
	ns       Namespace
	settings *Settings
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(ns Namespace, logger *log.Logger, settings *Settings) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Server{
		ns:       ns,
		settings: settings,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := newConn(s, ws, r.RemoteAddr)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.wg.Done()
	}()

	c.serve()
}

// ListenAndServe serves websocket connections on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.settings.HandshakeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	s.logger.Info("listening on %s", listener.Addr())

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.settings.WriteTimeout)
	defer cancel()
	s.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close drops every connection, stopping their subscriptions, and waits
// for the handlers to return.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

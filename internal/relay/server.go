package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/logging"
	"github.com/cogmote/puremote/internal/metrics"
	"github.com/cogmote/puremote/internal/registry"
)

// DefaultListen is the relay address used when none is configured.
const DefaultListen = "127.0.0.1:9013"

// shutdownTimeout bounds Start's own shutdown after ctx ends.
const shutdownTimeout = 10 * time.Second

// Config holds the relay configuration
type Config struct {
	Listen         string
	ConnectTimeout time.Duration // passed to Manager.Connect; 0 uses its default
	AllowedOrigins []string      // browser origins allowed on /ws; "*" allows any
}

// Adder registers a device by address. The discovery coordinator satisfies it.
type Adder interface {
	Add(ctx context.Context, address string) error
}

// Server exposes the registry and channel manager to local clients over HTTP
// and websockets.
type Server struct {
	config     *Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	registry *registry.Registry
	channels *channel.Manager
	adder    Adder
	metrics  *metrics.Metrics

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[*websocket.Conn]string
	closing     chan struct{}
	closeOnce   sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithAdder enables POST /api/devices/{address}.
func WithAdder(a Adder) Option {
	return func(s *Server) { s.adder = a }
}

// WithMetrics serves m at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a relay server. Routes are registered immediately, so Handler
// is usable before Start.
func New(config *Config, reg *registry.Registry, channels *channel.Manager, opts ...Option) *Server {
	if config.Listen == "" {
		config.Listen = DefaultListen
	}

	s := &Server{
		config:      config,
		router:      mux.NewRouter(),
		registry:    reg,
		channels:    channels,
		activeConns: make(map[*websocket.Conn]string),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", s.getDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{address}", s.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{address}", s.addDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{address}/channels", s.getChannels).Methods(http.MethodGet)
	api.HandleFunc("/devices/{address}/channels/{name}/connect", s.connectChannel).Methods(http.MethodPost)
	api.HandleFunc("/devices/{address}/channels/{name}/disconnect", s.disconnectChannel).Methods(http.MethodPost)
	api.HandleFunc("/devices/{address}/channels/{name}/events", s.getEvents).Methods(http.MethodGet)
	api.HandleFunc("/channels", s.listChannels).Methods(http.MethodGet)

	s.router.HandleFunc("/ws/{address}/{name}", s.handleStream).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx ends or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	logging.Info("Relay listening for connections",
		zap.String("addr", listener.Addr().String()),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received, stopping relay...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting requests, closes websocket clients and waits for
// their handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down relay...")

	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		err = httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All websocket clients closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		s.mu.Lock()
		for conn := range s.activeConns {
			_ = conn.Close()
		}
		s.mu.Unlock()
	}

	return err
}

// GetActiveConnections returns the number of connected websocket clients
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

func (s *Server) track(conn *websocket.Conn, remoteAddr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closing:
		return false
	default:
	}
	s.activeConns[conn] = remoteAddr
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.activeConns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// checkOrigin accepts non-browser clients, same-origin pages and the
// configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

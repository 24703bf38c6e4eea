package airsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airsync/internal/httpx"
	"airsync/internal/netutil"
	"airsync/internal/observability/metrics"
)

const (
	// DefaultPort is the well-known AirSync listen port.
	DefaultPort = 5297

	maxFrameSize     = 100 << 20
	broadcastTimeout = 5 * time.Second
)

// Config is the server configuration surface. The encryption mode is fixed
// for the server lifetime.
type Config struct {
	KeyPath       string
	IconCachePath string
	Host          string
	Port          int
	NoEncrypt     bool
	Discovery     bool
	Logger        *slog.Logger
}

// DefaultConfig mirrors the documented defaults: key in the working
// directory, icons under cache/icons, all interfaces on the default port,
// encryption on, discovery off.
func DefaultConfig() Config {
	return Config{
		KeyPath:       "airsync.key",
		IconCachePath: filepath.Join("cache", "icons"),
		Host:          "0.0.0.0",
		Port:          DefaultPort,
	}
}

// Server is the AirSync core: it owns the listener, the handler registry,
// the event registry and the shared device-state cache.
type Server struct {
	cfg    Config
	log    *slog.Logger
	cipher *Cipher
	codec  *messageCodec
	state  *DeviceState
	events *eventRegistry

	upgrader websocket.Upgrader

	mu         sync.Mutex
	handlers   map[string]*ConnectionHandler
	listener   net.Listener
	httpSrv    *http.Server
	advertiser Advertiser
}

// New builds a Server from cfg, loading or generating the encryption key and
// creating the icon cache directory. Key file I/O failures are fatal here.
func New(cfg Config) (*Server, error) {
	defaults := DefaultConfig()
	if cfg.KeyPath == "" {
		cfg.KeyPath = defaults.KeyPath
	}
	if cfg.IconCachePath == "" {
		cfg.IconCachePath = defaults.IconCachePath
	}
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cipher, err := NewCipher(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.IconCachePath, 0o755); err != nil {
		return nil, fmt.Errorf("airsync: create icon cache %s: %w", cfg.IconCachePath, err)
	}
	metrics.MustRegister("airsync")

	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		cipher:   cipher,
		state:    NewDeviceState(cfg.Logger),
		events:   newEventRegistry(),
		handlers: make(map[string]*ConnectionHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.codec = &messageCodec{cipher: cipher, noEncrypt: cfg.NoEncrypt}
	return s, nil
}

// OnEvent registers fn for the named event, replacing any previous callback
// for that name. The mac_info_request event is required for connections to
// complete their handshake.
func (s *Server) OnEvent(name string, fn EventFunc) error {
	return s.events.register(name, fn)
}

func (s *Server) fireEvent(ctx context.Context, name, handlerID string, data map[string]any) (map[string]any, error) {
	return s.events.fire(ctx, s.log, name, handlerID, data)
}

// State returns a deep snapshot of one state-cache slot.
func (s *Server) State(key string) map[string]any {
	return s.state.Get(key)
}

// StateSnapshot returns a deep snapshot of the whole state cache.
func (s *Server) StateSnapshot() map[string]any {
	return s.state.Snapshot()
}

// Start binds the listener and serves until ctx is canceled or Stop is
// called. A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.NoEncrypt {
		s.log.Warn("ENCRYPTION DISABLED, plaintext frames accepted and emitted; debugging only")
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("airsync: bind %s: %w", addr, err)
	}

	if s.cfg.Discovery {
		adv, err := advertise(s.log, portOf(ln.Addr()))
		if err != nil {
			s.log.Error("failed to start service discovery", "error", err)
		} else {
			s.mu.Lock()
			s.advertiser = adv
			s.mu.Unlock()
		}
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.listener = ln
	s.httpSrv = srv
	s.mu.Unlock()

	s.log.Info("server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr reports the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, every open connection and the discovery
// advertisement.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.httpSrv
	adv := s.advertiser
	s.advertiser = nil
	handlers := make([]*ConnectionHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	if adv != nil {
		s.log.Info("stopping service discovery")
		adv.Shutdown()
	}
	if srv != nil {
		_ = srv.Close()
	}
	for _, h := range handlers {
		h.closeWith(websocket.CloseNormalClosure, "server shutting down")
	}
	s.log.Info("server stopped")
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(httpx.LogRequests(s.log))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/", s.handleWS)
	return r
}

// handleWS upgrades the connection and runs its read loop on the request
// goroutine: one task per connection. The device_disconnected event fires
// here, after cleanup, exactly once per connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	h := newConnectionHandler(s, conn)
	s.addHandler(h)
	metrics.ConnectionsTotal.WithLabelValues().Inc()
	metrics.ConnectionsActive.WithLabelValues().Inc()

	h.listen(r.Context())

	remaining := s.removeHandler(h)
	metrics.ConnectionsActive.WithLabelValues().Dec()
	s.fireEvent(context.Background(), EventDeviceDisconnected, h.id, nil)
	s.log.Info("device disconnected", "handler_id", h.id, "remote", netutil.PeerIP(r.RemoteAddr), "active", remaining)
}

func (s *Server) addHandler(h *ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[h.id] = h
}

func (s *Server) removeHandler(h *ConnectionHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, h.id)
	return len(s.handlers)
}

func (s *Server) handler(id string) (*ConnectionHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[id]
	return h, ok
}

func (s *Server) authenticatedHandlers() []*ConnectionHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ConnectionHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		if h.isAuthenticated() {
			out = append(out, h)
		}
	}
	return out
}

// Send dispatches msg to the named connection iff it exists and has
// completed its handshake; otherwise the message is dropped with a warning.
func (s *Server) Send(handlerID string, msg Message) {
	h, ok := s.handler(handlerID)
	if !ok || !h.isAuthenticated() {
		s.log.Warn("could not send message: handler not found or not authenticated", "handler_id", handlerID)
		return
	}
	h.send(msg)
}

// Broadcast sends msg to every authenticated connection concurrently,
// waiting up to five seconds in aggregate.
func (s *Server) Broadcast(msg Message) {
	handlers := s.authenticatedHandlers()
	if len(handlers) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h *ConnectionHandler) {
			defer wg.Done()
			h.send(msg)
		}(h)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(broadcastTimeout):
		s.log.Warn("broadcast did not finish in time")
	}
}

// SendFile streams the file at path to the named connection. The preflight
// (stat, full-file SHA-256, MIME probe) runs here; the transfer protocol is
// driven by the target connection. Failures are logged, matching the rest of
// the send surface.
func (s *Server) SendFile(ctx context.Context, path, handlerID string) {
	info, err := os.Stat(path)
	if err != nil {
		s.log.Error("cannot send file: stat failed", "path", path, "error", err)
		return
	}
	checksum, err := fileSHA256(path)
	if err != nil {
		s.log.Error("cannot send file: hash failed", "path", path, "error", err)
		return
	}
	h, ok := s.handler(handlerID)
	if !ok {
		s.log.Error("cannot send file: no active handler", "handler_id", handlerID)
		return
	}
	s.log.Info("preparing to send file", "path", path, "handler_id", handlerID)
	if err := h.sendFile(ctx, path, filepath.Base(path), info.Size(), probeMIME(path), checksum); err != nil {
		s.log.Error("file transfer failed", "path", path, "handler_id", handlerID, "error", err)
	}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// port reports the bound listen port once serving, the configured port
// before that.
func (s *Server) port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return portOf(s.listener.Addr())
	}
	return s.cfg.Port
}

func portOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// LocalIP reports the address peers should pair against.
func (s *Server) LocalIP() string {
	return netutil.LocalIP()
}

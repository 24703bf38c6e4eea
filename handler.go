package airsync

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"airsync/internal/netutil"
	"airsync/internal/observability/metrics"
)

// Inbound and outbound message types.
const (
	msgDevice                     = "device"
	msgStatus                     = "status"
	msgNotification               = "notification"
	msgNotificationUpdate         = "notificationUpdate"
	msgNotificationActionResponse = "notificationActionResponse"
	msgDismissalResponse          = "dismissalResponse"
	msgMediaControlResponse       = "mediaControlResponse"
	msgMacMediaControl            = "macMediaControl"
	msgMacMediaControlResponse    = "macMediaControlResponse"
	msgAppIcons                   = "appIcons"
	msgClipboardUpdate            = "clipboardUpdate"
	msgMacInfo                    = "macInfo"
	msgFileTransferInit           = "fileTransferInit"
	msgFileChunk                  = "fileChunk"
	msgFileChunkAck               = "fileChunkAck"
	msgFileTransferComplete       = "fileTransferComplete"
	msgTransferVerified           = "transferVerified"
)

// ConnectionHandler owns one device connection: the read loop, the
// authentication state machine, message dispatch and the file transfers in
// flight on this connection.
type ConnectionHandler struct {
	id            string
	conn          *websocket.Conn
	srv           *Server
	codec         *messageCodec
	state         *DeviceState
	iconCacheRoot string
	log           *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool

	mu            sync.Mutex
	authenticated bool
	transfers     map[string]*transferState
}

func newConnectionHandler(srv *Server, conn *websocket.Conn) *ConnectionHandler {
	id := uuid.NewString()
	return &ConnectionHandler{
		id:            id,
		conn:          conn,
		srv:           srv,
		codec:         srv.codec,
		state:         srv.state,
		iconCacheRoot: srv.cfg.IconCachePath,
		log:           srv.log.With("handler_id", id),
		transfers:     make(map[string]*transferState),
	}
}

// ID returns the opaque handler identifier surfaced to event callbacks.
func (h *ConnectionHandler) ID() string { return h.id }

func (h *ConnectionHandler) isAuthenticated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authenticated
}

// listen runs the per-connection read loop until the socket closes or a
// protocol violation terminates it. Dispatch is strictly sequential in
// arrival order.
func (h *ConnectionHandler) listen(ctx context.Context) {
	defer h.terminate()
	h.log.Info("new connection", "remote", netutil.PeerIP(h.conn.RemoteAddr().String()))
	for {
		_, raw, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Info("connection closed by peer")
			} else if !h.closed.Load() {
				h.log.Info("connection closed", "error", err)
			}
			return
		}
		msg, err := h.codec.decode(string(raw))
		if err != nil {
			h.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if !h.isAuthenticated() && msg.Type != msgDevice {
			h.log.Warn("protocol violation before handshake", "type", msg.Type)
			h.closeWith(websocket.CloseProtocolError, "first message must be 'device'")
			return
		}
		metrics.MessagesReceivedTotal.WithLabelValues(msg.Type).Inc()
		h.dispatch(ctx, msg)
	}
}

func (h *ConnectionHandler) dispatch(ctx context.Context, msg Message) {
	switch msg.Type {
	case msgDevice:
		h.handleDevice(ctx, msg.Data)
	case msgStatus:
		h.state.Update(StateStatus, msg.Data)
		h.srv.fireEvent(ctx, EventStatus, h.id, msg.Data)
	case msgNotification:
		h.state.Update(msgNotification, msg.Data)
		h.srv.fireEvent(ctx, EventNotification, h.id, msg.Data)
	case msgNotificationUpdate:
		h.state.Update(msgNotificationUpdate, msg.Data)
		h.srv.fireEvent(ctx, EventNotificationUpdate, h.id, msg.Data)
	case msgNotificationActionResponse:
		h.log.Debug("notification action response", "data", msg.Data)
	case msgDismissalResponse:
		h.log.Debug("notification dismissal response", "data", msg.Data)
	case msgMediaControlResponse:
		h.log.Debug("media control response", "data", msg.Data)
	case msgMacMediaControl:
		h.handleMacMediaControl(ctx, msg.Data)
	case msgAppIcons:
		h.handleAppIcons(ctx, msg.Data)
	case msgClipboardUpdate:
		h.state.Update(msgClipboardUpdate, msg.Data)
		h.srv.fireEvent(ctx, EventClipboardUpdate, h.id, msg.Data)
	case msgFileTransferInit:
		h.handleFileTransferInit(ctx, msg.Data)
	case msgFileChunk:
		h.handleFileChunk(msg.Data)
	case msgFileChunkAck:
		h.handleFileChunkAck(msg.Data)
	case msgFileTransferComplete:
		h.handleFileTransferComplete(ctx, msg.Data)
	case msgTransferVerified:
		h.handleTransferVerified(msg.Data)
	default:
		h.log.Warn("unknown message type", "type", msg.Type)
	}
}

// handleDevice runs the handshake: cache the device info, mark the
// connection authenticated, ask the host for its macInfo record and reply
// with it enriched with the already-cached app packages. The device message
// is accepted exactly once per connection.
func (h *ConnectionHandler) handleDevice(ctx context.Context, data map[string]any) {
	h.mu.Lock()
	if h.authenticated {
		h.mu.Unlock()
		h.log.Warn("duplicate device message ignored")
		return
	}
	h.authenticated = true
	h.mu.Unlock()

	h.log.Info("device handshake received", "name", data["name"])
	h.state.SetDeviceInfo(data)

	macInfo, err := h.srv.fireEvent(ctx, EventMacInfoRequest, h.id, data)
	if err != nil || len(macInfo) == 0 {
		h.log.Error("mac_info_request handler missing or returned empty", "error", err)
		h.closeWith(websocket.CloseInternalServerErr, "failed to get macInfo")
		return
	}
	packages := make([]string, 0, 8)
	for pkg := range h.state.Get(StateAppIcons) {
		packages = append(packages, pkg)
	}
	sort.Strings(packages)
	macInfo["savedAppPackages"] = packages

	h.send(Message{Type: msgMacInfo, Data: macInfo})
	h.srv.fireEvent(ctx, EventDeviceConnected, h.id, nil)
}

func (h *ConnectionHandler) handleMacMediaControl(ctx context.Context, data map[string]any) {
	h.log.Info("mac media control requested", "action", data["action"])
	h.srv.fireEvent(ctx, EventMacMediaControl, h.id, data)
	h.send(Message{Type: msgMacMediaControlResponse, Data: map[string]any{
		"action":  data["action"],
		"success": true,
	}})
}

// handleAppIcons caches icon files to disk and stores only the metadata in
// the state cache. An icon file is written once; existing non-empty files
// are left untouched.
func (h *ConnectionHandler) handleAppIcons(ctx context.Context, data map[string]any) {
	h.log.Info("received app icons", "count", len(data))
	meta := make(map[string]any, len(data))
	cached := 0
	for pkg, v := range data {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		meta[pkg] = map[string]any{
			"name":      entry["name"],
			"systemApp": entry["systemApp"],
			"listening": entry["listening"],
		}
		icon, _ := entry["icon"].(string)
		if icon == "" {
			continue
		}
		wrote, err := h.cacheIcon(pkg, icon)
		if err != nil {
			h.log.Error("failed to cache icon", "package", pkg, "error", err)
			continue
		}
		if wrote {
			cached++
		}
	}
	h.log.Info("app icon caching complete", "new", cached)
	h.state.Update(msgAppIcons, meta)
	h.srv.fireEvent(ctx, EventAppIcons, h.id, meta)
}

func (h *ConnectionHandler) cacheIcon(pkg, raw string) (bool, error) {
	path := filepath.Join(h.iconCacheRoot, pkg+".png")
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return false, nil
	}
	decoded, err := decodeIconBase64(raw)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(h.iconCacheRoot, 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, decoded, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// decodeIconBase64 normalizes the icon payload: strip any data-URI prefix,
// map the URL-safe alphabet back to standard base64 and pad to a multiple of
// four before decoding.
func decodeIconBase64(raw string) ([]byte, error) {
	if idx := strings.LastIndex(raw, ","); idx >= 0 {
		raw = raw[idx+1:]
	}
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, "-", "+")
	raw = strings.ReplaceAll(raw, "_", "/")
	if pad := len(raw) % 4; pad != 0 {
		raw += strings.Repeat("=", 4-pad)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("airsync: decode icon: %w", err)
	}
	return decoded, nil
}

// send serializes, frames and writes one message. Sending on a closed
// connection is a no-op; write failures are logged, never raised.
func (h *ConnectionHandler) send(msg Message) {
	if h.closed.Load() {
		return
	}
	frame, err := h.codec.encode(msg)
	if err != nil {
		h.log.Warn("failed to encode message", "type", msg.Type, "error", err)
		return
	}
	h.writeMu.Lock()
	err = h.conn.WriteMessage(websocket.TextMessage, []byte(frame))
	h.writeMu.Unlock()
	if err != nil {
		h.log.Warn("failed to send message", "type", msg.Type, "error", err)
		return
	}
	metrics.MessagesSentTotal.WithLabelValues().Inc()
}

// closeWith sends a close control frame with the given status code and tears
// the socket down.
func (h *ConnectionHandler) closeWith(code int, reason string) {
	if h.closed.Swap(true) {
		return
	}
	deadline := time.Now().Add(time.Second)
	h.writeMu.Lock()
	if err := h.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		h.log.Debug("close frame write failed", "error", err)
	}
	h.writeMu.Unlock()
	_ = h.conn.Close()
}

// terminate is the single exit path of the read loop: it tears down the
// socket and releases every in-flight incoming transfer.
func (h *ConnectionHandler) terminate() {
	h.closed.Store(true)
	_ = h.conn.Close()
	h.cleanupTransfers()
}

package airsync

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardHandler() slog.Handler {
	return slog.NewTextHandler(io.Discard, nil)
}

// startTestServer runs a server on an ephemeral loopback port and tears it
// down with the test.
func startTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		KeyPath:       filepath.Join(dir, "airsync.key"),
		IconCachePath: filepath.Join(dir, "icons"),
		Host:          "127.0.0.1",
		Port:          0,
		Logger:        slog.New(discardHandler()),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	// The mac_info_request handler is required; tests can overwrite it.
	if err := srv.OnEvent(EventMacInfoRequest, func(ctx context.Context, handlerID string, device map[string]any) (map[string]any, error) {
		return map[string]any{
			"name":               "PC",
			"type":               "PC",
			"isPlus":             true,
			"isPlusSubscription": true,
		}, nil
	}); err != nil {
		t.Fatalf("register mac_info_request: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("server exited with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("server did not shut down in time")
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv
}

// testClient is a minimal device-side peer speaking the wire protocol.
type testClient struct {
	t     *testing.T
	conn  *websocket.Conn
	codec *messageCodec
}

func dialTestClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	cipher, err := NewCipher(srv.cfg.KeyPath)
	if err != nil {
		t.Fatalf("client cipher: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{
		t:     t,
		conn:  conn,
		codec: &messageCodec{cipher: cipher, noEncrypt: srv.cfg.NoEncrypt},
	}
}

func (c *testClient) send(msg Message) {
	c.t.Helper()
	frame, err := c.codec.encode(msg)
	if err != nil {
		c.t.Fatalf("encode %s: %v", msg.Type, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write %s: %v", msg.Type, err)
	}
}

func (c *testClient) recv() Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	msg, err := c.codec.decode(string(raw))
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	return msg
}

// handshake completes the device handshake and returns the macInfo reply.
func (c *testClient) handshake(name string) Message {
	c.t.Helper()
	c.send(Message{Type: msgDevice, Data: map[string]any{"name": name}})
	reply := c.recv()
	if reply.Type != msgMacInfo {
		c.t.Fatalf("expected macInfo reply, got %s", reply.Type)
	}
	return reply
}

// waitEvent waits for a recorded event payload with a timeout.
func waitEvent(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

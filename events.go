package airsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Event names surfaced to host callbacks.
const (
	EventMacInfoRequest       = "mac_info_request"
	EventDeviceConnected      = "device_connected"
	EventDeviceDisconnected   = "device_disconnected"
	EventStatus               = "status"
	EventNotification         = "notification"
	EventNotificationUpdate   = "notificationUpdate"
	EventAppIcons             = "app_icons"
	EventClipboardUpdate      = "clipboardUpdate"
	EventMacMediaControl      = "macMediaControl"
	EventFileTransferInit     = "fileTransferInit"
	EventFileTransferComplete = "fileTransferComplete"
)

// EventFunc is a host callback. handlerID names the connection the event
// originated from; data is the message payload (nil for the connection
// lifecycle events). Only mac_info_request consumes the returned record.
// Callbacks run on the connection's dispatch goroutine and must not block
// indefinitely.
type EventFunc func(ctx context.Context, handlerID string, data map[string]any) (map[string]any, error)

type eventRegistry struct {
	mu       sync.RWMutex
	handlers map[string]EventFunc
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{handlers: make(map[string]EventFunc)}
}

func (r *eventRegistry) register(name string, fn EventFunc) error {
	if fn == nil {
		return ErrNilEventHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
	return nil
}

func (r *eventRegistry) lookup(name string) (EventFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// fire invokes the callback registered for name, if any. Panics are
// recovered and reported as errors; the caller decides whether a failure is
// fatal (only the handshake treats it that way).
func (r *eventRegistry) fire(ctx context.Context, log *slog.Logger, name, handlerID string, data map[string]any) (result map[string]any, err error) {
	fn, ok := r.lookup(name)
	if !ok {
		if name == EventMacInfoRequest {
			return nil, fmt.Errorf("airsync: no %s handler registered", EventMacInfoRequest)
		}
		return nil, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("airsync: event handler %s panicked: %v", name, rec)
			log.Error("event handler panicked", "event", name, "panic", rec)
		}
	}()
	result, err = fn(ctx, handlerID, data)
	if err != nil && name != EventMacInfoRequest {
		log.Error("error in event handler", "event", name, "error", err)
		return nil, nil
	}
	return result, err
}

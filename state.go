package airsync

import (
	"log/slog"
	"sync"
)

// Well-known DeviceState slots.
const (
	StateDeviceInfo    = "device_info"
	StateStatus        = "status"
	StateNotifications = "notifications"
	StateAppIcons      = "app_icons"
	StateClipboard     = "clipboard"
)

// DeviceState caches the last known state of the connected device so hosts
// can query it without polling the peer. It models one logical peer at a
// time.
type DeviceState struct {
	mu    sync.Mutex
	state map[string]any
	log   *slog.Logger
}

func NewDeviceState(log *slog.Logger) *DeviceState {
	if log == nil {
		log = slog.Default()
	}
	return &DeviceState{
		log: log,
		state: map[string]any{
			StateDeviceInfo:    map[string]any{},
			StateStatus:        map[string]any{},
			StateNotifications: map[string]any{},
			StateAppIcons:      map[string]any{},
			StateClipboard:     map[string]any{},
		},
	}
}

// SetDeviceInfo overwrites the cached device info from the handshake.
func (s *DeviceState) SetDeviceInfo(data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[StateDeviceInfo] = deepCopyMap(data)
	s.log.Info("state: device info set", "name", data["name"])
}

// Update applies a keyed state change. Notification entries are inserted by
// id and removed on dismissal, app icons merge per package, the clipboard
// and the remaining recognized slots overwrite, unknown keys are dropped.
func (s *DeviceState) Update(key string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "notification":
		id, ok := data["id"].(string)
		if !ok || id == "" {
			return
		}
		s.state[StateNotifications].(map[string]any)[id] = deepCopyMap(data)
		s.log.Debug("state: notification added", "id", id)
	case "notificationUpdate":
		id, _ := data["id"].(string)
		dismissed, _ := data["dismissed"].(bool)
		notifications := s.state[StateNotifications].(map[string]any)
		if _, exists := notifications[id]; dismissed && exists {
			delete(notifications, id)
			s.log.Debug("state: notification dismissed", "id", id)
		}
	case "appIcons":
		icons := s.state[StateAppIcons].(map[string]any)
		for pkg, meta := range data {
			icons[pkg] = deepCopyValue(meta)
		}
		s.log.Info("state: app icons updated", "total", len(icons))
	case "clipboardUpdate":
		s.state[StateClipboard] = deepCopyMap(data)
		s.log.Info("state: clipboard updated")
	default:
		if _, recognized := s.state[key]; recognized {
			s.state[key] = deepCopyMap(data)
			s.log.Debug("state: slot updated", "key", key)
			return
		}
		s.log.Debug("state: ignoring update for unknown key", "key", key)
	}
}

// Get returns a deep copy of one slot; mutating the result never touches the
// cache. Unknown keys yield an empty map.
func (s *DeviceState) Get(key string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.state[key]
	if !ok {
		return map[string]any{}
	}
	return deepCopyValue(slot).(map[string]any)
}

// Snapshot returns a deep copy of the whole cache.
func (s *DeviceState) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyMap(s.state)
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

// deepCopyValue copies the JSON value shapes that reach the cache; scalars
// are immutable and returned as-is.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

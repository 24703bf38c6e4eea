package airsync

import (
	"log/slog"
	"reflect"
	"testing"
)

func newTestState() *DeviceState {
	return NewDeviceState(slog.New(discardHandler()))
}

func TestNotificationLifecycle(t *testing.T) {
	s := newTestState()

	s.Update("notification", map[string]any{"id": "n1", "app": "X", "title": "T"})
	got := s.Get(StateNotifications)
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	entry, ok := got["n1"].(map[string]any)
	if !ok || entry["title"] != "T" {
		t.Fatalf("unexpected notification entry: %#v", got["n1"])
	}

	// Not dismissed: entry stays.
	s.Update("notificationUpdate", map[string]any{"id": "n1", "dismissed": false})
	if len(s.Get(StateNotifications)) != 1 {
		t.Fatalf("non-dismissal removed the notification")
	}

	s.Update("notificationUpdate", map[string]any{"id": "n1", "dismissed": true})
	if got := s.Get(StateNotifications); len(got) != 0 {
		t.Fatalf("expected empty notifications after dismissal, got %#v", got)
	}

	// Dismissing an unknown id is a no-op.
	s.Update("notificationUpdate", map[string]any{"id": "ghost", "dismissed": true})
}

func TestAppIconsMergeLastWriterWins(t *testing.T) {
	s := newTestState()

	s.Update("appIcons", map[string]any{
		"com.a": map[string]any{"name": "A", "systemApp": false},
		"com.b": map[string]any{"name": "B", "systemApp": true},
	})
	s.Update("appIcons", map[string]any{
		"com.b": map[string]any{"name": "B2", "systemApp": true},
		"com.c": map[string]any{"name": "C", "systemApp": false},
	})

	icons := s.Get(StateAppIcons)
	if len(icons) != 3 {
		t.Fatalf("expected 3 packages, got %d", len(icons))
	}
	if icons["com.b"].(map[string]any)["name"] != "B2" {
		t.Fatalf("expected last writer to win for com.b, got %#v", icons["com.b"])
	}
}

func TestClipboardAndRecognizedSlotOverwrite(t *testing.T) {
	s := newTestState()

	s.Update("clipboardUpdate", map[string]any{"text": "first"})
	s.Update("clipboardUpdate", map[string]any{"text": "second"})
	if got := s.Get(StateClipboard); got["text"] != "second" {
		t.Fatalf("expected clipboard overwrite, got %#v", got)
	}

	s.Update(StateStatus, map[string]any{"battery": map[string]any{"level": float64(80)}})
	if got := s.Get(StateStatus); got["battery"].(map[string]any)["level"] != float64(80) {
		t.Fatalf("unexpected status slot: %#v", got)
	}
}

func TestUnknownKeyDropped(t *testing.T) {
	s := newTestState()

	s.Update("bogus", map[string]any{"x": 1})
	snapshot := s.Snapshot()
	if _, ok := snapshot["bogus"]; ok {
		t.Fatalf("unknown key leaked into the cache")
	}
	if len(snapshot) != 5 {
		t.Fatalf("expected the 5 well-known slots, got %d", len(snapshot))
	}
}

func TestGetReturnsDeepSnapshot(t *testing.T) {
	s := newTestState()

	original := map[string]any{
		"id":    "n1",
		"app":   "X",
		"inner": map[string]any{"k": "v"},
		"list":  []any{"a", "b"},
	}
	s.Update("notification", original)

	// Mutating the input after the update must not affect the cache.
	original["app"] = "mutated"
	original["inner"].(map[string]any)["k"] = "mutated"

	first := s.Get(StateNotifications)
	entry := first["n1"].(map[string]any)
	if entry["app"] != "X" || entry["inner"].(map[string]any)["k"] != "v" {
		t.Fatalf("cache aliased the caller's map: %#v", entry)
	}

	// Mutating the snapshot must not affect subsequent reads.
	entry["app"] = "poked"
	entry["inner"].(map[string]any)["k"] = "poked"
	entry["list"].([]any)[0] = "poked"

	second := s.Get(StateNotifications)
	fresh := second["n1"].(map[string]any)
	want := map[string]any{
		"id":    "n1",
		"app":   "X",
		"inner": map[string]any{"k": "v"},
		"list":  []any{"a", "b"},
	}
	if !reflect.DeepEqual(fresh, want) {
		t.Fatalf("snapshot mutation leaked into the cache: %#v", fresh)
	}
}

func TestSetDeviceInfo(t *testing.T) {
	s := newTestState()
	s.SetDeviceInfo(map[string]any{"name": "Pixel", "version": "2.0"})
	if got := s.Get(StateDeviceInfo); got["name"] != "Pixel" {
		t.Fatalf("unexpected device info: %#v", got)
	}
	s.SetDeviceInfo(map[string]any{"name": "Other"})
	if got := s.Get(StateDeviceInfo); got["name"] != "Other" || got["version"] != nil {
		t.Fatalf("expected overwrite, got %#v", got)
	}
}

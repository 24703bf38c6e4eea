package netutil

import (
	"net/netip"
	"testing"
)

func TestLocalIP(t *testing.T) {
	ip := LocalIP()
	if ip == "" {
		t.Fatalf("expected a non-empty address")
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		t.Fatalf("LocalIP returned %q: %v", ip, err)
	}
}

func TestPeerIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "ipv4 with port", input: "192.0.2.4:8080", expected: "192.0.2.4"},
		{name: "ipv6 with port", input: "[2001:db8::1]:443", expected: "2001:db8::1"},
		{name: "zoned ipv6 with port", input: "[fe80::1%eth0]:443", expected: "fe80::1"},
		{name: "bare ipv4", input: "203.0.113.9", expected: "203.0.113.9"},
		{name: "not an address", input: "somewhere", expected: "somewhere"},
		{name: "empty", input: "", expected: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := PeerIP(tc.input); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

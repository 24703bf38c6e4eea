package netutil

import (
	"net"
	"net/netip"
)

// LocalIP returns the IPv4 address of the interface that carries outbound
// traffic. The UDP dial never sends a packet; it only asks the kernel for a
// route. Falls back to loopback on hosts with no route.
func LocalIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// PeerIP strips the port and any IPv6 zone from a RemoteAddr-style
// "host:port" string. Input that is not an address comes back unchanged, so
// it is always safe to log.
func PeerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.WithZone("").String()
	}
	return host
}

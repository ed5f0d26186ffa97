// Package netinfo discovers the address displays should use to reach
// this host.
package netinfo

import (
	"net"
	"time"
)

// Loopback is returned when no LAN route is available.
const Loopback = "127.0.0.1"

// probeAddr is never contacted; dialing UDP only selects a route.
const probeAddr = "8.8.8.8:80"

// LanIP returns the local address of the default route, or Loopback.
func LanIP() string {
	return lanIP(probeAddr)
}

func lanIP(target string) string {
	conn, err := net.DialTimeout("udp", target, time.Second)
	if err != nil {
		return Loopback
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return Loopback
	}
	return addr.IP.String()
}

// Resolve returns override when set, otherwise LanIP().
func Resolve(override string) string {
	if override != "" {
		return override
	}
	return LanIP()
}

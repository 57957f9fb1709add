package util

import (
	"fmt"
	"net"
	"strconv"
)

// FormatAddr returns "host:port"; an empty host binds all addresses.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// PeerAddr renders a remote address for logs, tolerating nil.
func PeerAddr(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

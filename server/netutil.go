package server

import (
	"net"
	"strconv"
)

// GetHostPortFromAddr splits a net.Addr into host and port. Addresses
// without a port come back whole with port 0.
func GetHostPortFromAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

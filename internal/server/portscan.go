package server

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ListenRange tries binding TCP listeners for ports [from, to] in order on
// addr, returning the first that succeeds. A bind failure distinguished as
// "address already in use"
// (via syscall.EADDRINUSE) is retried on the next port; any other bind
// failure aborts the scan immediately.
func ListenRange(addr string, from, to uint16) (net.Listener, error) {
	if from > to {
		return nil, fmt.Errorf("httpd: invalid port range %d-%d", from, to)
	}
	for port := from; ; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		if port == to {
			return nil, fmt.Errorf("httpd: no free port in range %d-%d: %w", from, to, err)
		}
	}
}

package ports

import (
	"fmt"
	"net"
	"strconv"
)

// Listen binds the preferred TCP port, falling back to an OS-assigned one when
// it is taken. A preferred value <= 0 always asks the OS.
func Listen(preferred int) (net.Listener, error) {
	if preferred > 0 {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(preferred))
		if err == nil {
			return ln, nil
		}
	}

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to allocate a free port: %w", err)
	}
	return ln, nil
}

// Allocate returns the preferred port if it is free, otherwise a free port
// chosen by the OS. The port is released before returning, so a caller
// racing another process for it may still lose.
func Allocate(preferred int) (int, error) {
	ln, err := Listen(preferred)
	if err != nil {
		return 0, err
	}
	defer ln.Close()

	return PortOf(ln.Addr())
}

// PortOf extracts the TCP port from a listener address.
func PortOf(addr net.Addr) (int, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port, nil
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("failed to parse listener address %q: %w", addr.String(), err)
	}
	return strconv.Atoi(p)
}

package server

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsConnectionError reports whether err means the peer went away or the
// connection was torn down, as opposed to a server-side problem. Such
// errors are logged at debug level and otherwise ignored.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

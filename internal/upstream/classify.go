package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ClassifyError names the failure category of a transport error. Every
// transport error counts as a lost-connectivity signal here; the
// category only feeds logs and metrics.
func ClassifyError(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial", true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "reset", true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "eof", true
	}
	return "other", true
}

// IsConnectivityStatus reports whether a response status indicates an
// unreachable service behind an intermediary rather than an
// application-level verdict. 4xx and plain 500 are application
// responses and are never treated as offline.
func IsConnectivityStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// candidate can be listened on.
var ErrNoBindAddr = errors.New("no available API bind address")

// Listen opens a TCP listener on preferred, falling back to the first free
// candidate when autoFallback is set. Holding the listener avoids losing the
// port between selection and serving.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address unavailable: %s: %w", preferred, err)
		}
		slog.Warn("preferred bind address unavailable, trying candidates", "addr", preferred, "error", err)
	}

	seen := map[string]bool{preferred: true}
	for _, addr := range candidates {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Debug("bind candidate unavailable", "addr", addr, "error", err)
			continue
		}
		return ln, nil
	}

	return nil, ErrNoBindAddr
}

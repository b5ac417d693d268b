package chrome

import (
	"fmt"
	"net"

	"github.com/bnema/gmail-fleet/internal/domain"
)

// FreePort reserves an ephemeral loopback TCP port by binding, reading the
// assigned port and releasing the listener. Concurrently starting sessions
// use it to avoid debugging-port collisions; the OS refusing to bind is not
// retried here.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrResourceExhausted, err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		return 0, fmt.Errorf("release reserved port %d: %w", port, err)
	}

	return port, nil
}

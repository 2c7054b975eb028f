// Package transport provides the streaming transports the harness can open
// connections over: WebSocket, Server-Sent-Events, and raw newline-delimited
// TCP. The harness treats every received message as opaque bytes; nothing in
// this package inspects payload content.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/ctstream/stream-stress/config"
)

// ErrStreamClosed is returned by Conn.Receive when the peer ended the stream
// cleanly (normal WebSocket closure, EOF on an HTTP body or socket).
var ErrStreamClosed = errors.New("stream closed by peer")

// ErrReceiveTimeout is returned by Conn.Receive when no message arrived
// within the timeout. Transports that surface their own deadline errors
// (net.Error) are also recognized by IsTimeout.
var ErrReceiveTimeout = errors.New("timed out waiting for next message")

// Conn is one established streaming connection, owned exclusively by a
// single worker.
type Conn interface {
	// Receive blocks until the next message arrives, the stream ends
	// (ErrStreamClosed), the timeout expires, or an I/O error occurs.
	Receive(timeout time.Duration) ([]byte, error)

	// Close releases the connection. It is safe to call after a Receive
	// error, and safe to call more than once.
	Close() error
}

// Dialer establishes connections to one kind of endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint config.Endpoint) (Conn, error)
}

// ForURL selects a Dialer from the endpoint URL's scheme.
func ForURL(rawURL string) (Dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return WebSocketDialer{}, nil
	case "http", "https":
		return SSEDialer{}, nil
	case "tcp":
		return TCPDialer{}, nil
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

// IsTimeout reports whether a Receive error was a deadline expiring rather
// than a real failure. Callers treat timeouts as clean closures.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrReceiveTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

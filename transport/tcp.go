package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/ctstream/stream-stress/config"
)

// TCPDialer connects to tcp://host:port endpoints serving newline-delimited
// messages. Blank lines are skipped.
type TCPDialer struct{}

func (d TCPDialer) Dial(ctx context.Context, endpoint config.Endpoint) (Conn, error) {
	u, err := url.Parse(endpoint.URL)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: endpoint.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, err
	}
	return &tcpConn{conn: conn, reader: bufio.NewReader(conn)}, nil
}

type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (c *tcpConn) Receive(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil, ErrStreamClosed
			}
			return nil, err // deadline errors are recognized by IsTimeout
		}
		line = trimLineEnding(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func trimLineEnding(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

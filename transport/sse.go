package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ctstream/stream-stress/config"
)

// SSEDialer connects to http:// and https:// endpoints serving
// text/event-stream. Each "data:" line is one message; comment lines and
// blank separators keep the connection alive but are not counted.
type SSEDialer struct{}

func (d SSEDialer) Dial(ctx context.Context, endpoint config.Endpoint) (Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(connCtx, "GET", endpoint.URL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range endpoint.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: endpoint.DialTimeout}).DialContext,
			ResponseHeaderTimeout: endpoint.DialTimeout,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d from stream endpoint", resp.StatusCode)
	}

	c := &sseConn{
		body:   resp.Body,
		cancel: cancel,
		items:  make(chan streamItem, 100),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type streamItem struct {
	data []byte
	err  error
}

type sseConn struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	items     chan streamItem
	done      chan struct{}
	closeOnce sync.Once
}

// readLoop pulls lines off the response body in the background so that
// Receive can enforce a timeout with a plain select. It exits when the body
// is closed or the request context is canceled.
func (c *sseConn) readLoop() {
	defer close(c.items)
	scanner := bufio.NewScanner(c.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == ':' {
			continue // keepalive comment or event separator
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue // field we don't count (event:, id:, retry:)
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if !c.push(streamItem{data: append([]byte(nil), data...)}) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !isClosedError(err) {
		c.push(streamItem{err: err})
	}
}

// push delivers an item unless the connection was closed; it must not block
// forever on a full channel after Close, or the reader goroutine would leak.
func (c *sseConn) push(item streamItem) bool {
	select {
	case c.items <- item:
		return true
	case <-c.done:
		return false
	}
}

func (c *sseConn) Receive(timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case item, ok := <-c.items:
		if !ok {
			return nil, ErrStreamClosed
		}
		if item.err != nil {
			return nil, item.err
		}
		return item.data, nil
	case <-deadline.C:
		return nil, ErrReceiveTimeout
	}
}

func (c *sseConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.body.Close()
	})
	return nil
}

// isClosedError reports whether a read error is the expected result of our
// own Close, as opposed to a failure on a live connection.
func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "context canceled")
}

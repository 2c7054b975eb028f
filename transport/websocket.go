package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ctstream/stream-stress/config"
)

const closeWriteTimeout = time.Second

// WebSocketDialer connects to ws:// and wss:// endpoints. Each text or
// binary frame from the server is one message.
type WebSocketDialer struct{}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint config.Endpoint) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: endpoint.DialTimeout}
	header := make(http.Header)
	for k, v := range endpoint.Headers {
		header.Set(k, v)
	}
	c, resp, err := dialer.DialContext(ctx, endpoint.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (c *wsConn) Receive(timeout time.Duration) ([]byte, error) {
	_ = c.c.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.c.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrStreamClosed
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close() error {
	// Best effort: tell the server we're leaving before dropping the socket.
	_ = c.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	return c.c.Close()
}

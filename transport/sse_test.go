package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(chunks ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(200)
		flusher.Flush()
		for _, chunk := range chunks {
			fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	})
}

func TestSSEReceivesDataLinesAndThenCleanClose(t *testing.T) {
	server := httptest.NewServer(sseHandler(
		": keepalive\n\n",
		"data: {\"message_type\":\"heartbeat\"}\n\n",
		"event: certificate_update\nid: 42\ndata: second\n\n",
	))
	defer server.Close()

	conn, err := SSEDialer{}.Dial(context.Background(), endpointFor(server.URL))
	require.NoError(t, err)
	defer conn.Close()

	msg, err := conn.Receive(receiveTestTimeout)
	require.NoError(t, err)
	assert.Equal(t, `{"message_type":"heartbeat"}`, string(msg))

	msg, err = conn.Receive(receiveTestTimeout)
	require.NoError(t, err)
	assert.Equal(t, "second", string(msg))

	_, err = conn.Receive(receiveTestTimeout)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSSESendsStreamingRequestHeaders(t *testing.T) {
	handler, requestsCh := httphelpers.RecordingHandler(sseHandler("data: x\n\n"))
	server := httptest.NewServer(handler)
	defer server.Close()

	endpoint := endpointFor(server.URL)
	endpoint.Headers = map[string]string{"Authorization": "Bearer abc"}

	conn, err := SSEDialer{}.Dial(context.Background(), endpoint)
	require.NoError(t, err)
	defer conn.Close()

	info := <-requestsCh
	assert.Equal(t, "GET", info.Request.Method)
	assert.Equal(t, "text/event-stream", info.Request.Header.Get("Accept"))
	assert.Equal(t, "Bearer abc", info.Request.Header.Get("Authorization"))
}

func TestSSEDialFailsOnNon2xxStatus(t *testing.T) {
	server := httptest.NewServer(httphelpers.HandlerWithStatus(503))
	defer server.Close()

	_, err := SSEDialer{}.Dial(context.Background(), endpointFor(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSSEReceiveTimesOutOnQuietStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(200)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	conn, err := SSEDialer{}.Dial(context.Background(), endpointFor(server.URL))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Receive(50 * time.Millisecond)
	assert.True(t, IsTimeout(err), "expected a timeout, got %v", err)
}

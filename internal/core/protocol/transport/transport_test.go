package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	up := NewUpgrader(opts)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			frame, err := c.ReadFrame()
			if err != nil {
				return
			}
			if err := c.WriteFrame(frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv := echoServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialWebSocket(ctx, wsURL(srv), Options{})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, KindWebSocket, c.Kind())
	assert.NotEmpty(t, c.ID())

	for _, frame := range [][]byte{{1, 2, 3}, make([]byte, 64<<10)} {
		require.NoError(t, c.WriteFrame(frame))
		got, err := c.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, frame, got)
	}
	require.NoError(t, c.Ping())
}

func TestWebSocketRejectsOversizedWrite(t *testing.T) {
	srv := echoServer(t, Options{})
	c, err := DialWebSocket(context.Background(), wsURL(srv), Options{MaxFrameSize: 8})
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorIs(t, c.WriteFrame(make([]byte, 9)), ErrFrameTooLarge)
}

func TestWebSocketClose(t *testing.T) {
	srv := echoServer(t, Options{})
	c, err := DialWebSocket(context.Background(), wsURL(srv), Options{})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.WriteFrame([]byte{1}), ErrClosed)
	_, err = c.ReadFrame()
	assert.ErrorIs(t, err, ErrClosed)
}

// silentServer upgrades and never reads, so the client's writes back up.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := NewUpgrader(Options{})
	stop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		<-stop
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stop) })
	return srv
}

func TestWebSocketCloseDoesNotWaitForStuckWrite(t *testing.T) {
	srv := silentServer(t)
	opts := Options{WriteTimeout: 10 * time.Second, MaxFrameSize: 2 << 20}
	c, err := DialWebSocket(context.Background(), wsURL(srv), opts)
	require.NoError(t, err)

	writerDone := make(chan error, 1)
	go func() {
		frame := make([]byte, 1<<20)
		for {
			if err := c.WriteFrame(frame); err != nil {
				writerDone <- err
				return
			}
		}
	}()
	// Give the writer time to fill the socket buffers and block.
	time.Sleep(500 * time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Close())
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-writerDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked writer was not released by Close")
	}
}

func TestQUICRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ln, err := ListenQUIC("127.0.0.1:0", nil, Options{})
	require.NoError(t, err)
	defer ln.Close()
	go func() { _ = ln.Serve(ctx) }()

	client, err := DialQUIC(ctx, ln.Addr().String(), nil, Options{})
	require.NoError(t, err)
	defer client.Close()

	// the server only sees the stream once the client has written to it
	require.NoError(t, client.WriteFrame([]byte("hello")))

	server, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()
	assert.Equal(t, KindQUIC, server.Kind())

	got, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	big := make([]byte, 200<<10)
	big[len(big)-1] = 7
	require.NoError(t, server.WriteFrame(big))
	got, err = client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

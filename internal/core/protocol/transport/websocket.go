package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const KindWebSocket = "websocket"

// closeGrace bounds the close frame write.
const closeGrace = 100 * time.Millisecond

var _ Conn = (*WebSocketConn)(nil)

// WebSocketConn maps one binary WebSocket message to one frame.
type WebSocketConn struct {
	id      string
	conn    *websocket.Conn
	opts    Options
	writeMu sync.Mutex
	closed  atomic.Bool
}

func newWebSocketConn(conn *websocket.Conn, opts Options) *WebSocketConn {
	opts = opts.withDefaults()
	conn.SetReadLimit(int64(opts.MaxFrameSize))
	c := &WebSocketConn{id: uuid.NewString(), conn: conn, opts: opts}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})
	return c
}

// Upgrader accepts WebSocket connections on an HTTP handler.
type Upgrader struct {
	upgrader websocket.Upgrader
	opts     Options
}

func NewUpgrader(opts Options) *Upgrader {
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts: opts,
	}
}

// Upgrade hijacks the request. On failure the upgrader has already written
// an HTTP error.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket upgrade")
	}
	return newWebSocketConn(conn, u.opts), nil
}

// DialWebSocket connects to a ws:// or wss:// url.
func DialWebSocket(ctx context.Context, url string, opts Options) (*WebSocketConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return newWebSocketConn(conn, opts), nil
}

// ID returns the connection id.
func (c *WebSocketConn) ID() string { return c.id }

func (c *WebSocketConn) Kind() string { return KindWebSocket }

// RemoteAddr returns the peer's network address.
func (c *WebSocketConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ReadFrame blocks for the next data message. Control frames are handled
// by gorilla internally.
func (c *WebSocketConn) ReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrFrameTooLarge
			}
			return nil, errors.Wrap(err, "failed to read message")
		}
		if typ == websocket.BinaryMessage || typ == websocket.TextMessage {
			return data, nil
		}
	}
}

// WriteFrame writes one binary message.
func (c *WebSocketConn) WriteFrame(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(frame) > c.opts.MaxFrameSize {
		return ErrFrameTooLarge
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Ping sends a control ping; the peer's pong extends the read deadline.
func (c *WebSocketConn) Ping() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
}

// Close releases the socket without waiting for an in-flight write. The
// close frame is only sent when no writer holds the connection; closing the
// socket unblocks a stuck writer. Safe to call twice.
func (c *WebSocketConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.writeMu.TryLock() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		c.writeMu.Unlock()
	}
	return c.conn.Close()
}

package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

const (
	KindQUIC = "quic"
	// ALPN is the application protocol negotiated on QUIC handshakes.
	ALPN = "blobarena"

	prefixLen = 4
)

var _ Conn = (*QUICConn)(nil)

// QUICConn carries uint32 length-prefixed frames over a single
// bidirectional stream.
type QUICConn struct {
	id      string
	conn    *quic.Conn
	stream  *quic.Stream
	opts    Options
	writeMu sync.Mutex
	closed  atomic.Bool
	header  [prefixLen]byte
}

func newQUICConn(conn *quic.Conn, stream *quic.Stream, opts Options) *QUICConn {
	return &QUICConn{
		id:     uuid.NewString(),
		conn:   conn,
		stream: stream,
		opts:   opts.withDefaults(),
	}
}

func quicConfig(opts Options) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:     opts.ReadTimeout,
		KeepAlivePeriod:    opts.ReadTimeout / 3,
		MaxIncomingStreams: 4,
	}
}

// DialQUIC connects and opens the frame stream.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, opts Options) (*QUICConn, error) {
	opts = opts.withDefaults()
	if tlsConf == nil {
		tlsConf = ClientTLS(true)
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig(opts))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, errors.Wrap(err, "open stream")
	}
	return newQUICConn(conn, stream, opts), nil
}

// ID returns the connection id.
func (c *QUICConn) ID() string { return c.id }

func (c *QUICConn) Kind() string { return KindQUIC }

// RemoteAddr returns the peer's UDP address.
func (c *QUICConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ReadFrame reads one length-prefixed frame.
func (c *QUICConn) ReadFrame() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	_ = c.stream.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

	if _, err := io.ReadFull(c.stream, c.header[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read frame header")
	}
	n := binary.BigEndian.Uint32(c.header[:])
	if int64(n) > int64(c.opts.MaxFrameSize) {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(c.stream, frame); err != nil {
		return nil, errors.Wrap(err, "failed to read frame body")
	}
	return frame, nil
}

// WriteFrame writes the length prefix and frame as one buffer.
func (c *QUICConn) WriteFrame(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(frame) > c.opts.MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, prefixLen+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[prefixLen:], frame)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.stream.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := c.stream.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close closes the stream and the connection without waiting for an
// in-flight write. Safe to call twice.
func (c *QUICConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.writeMu.TryLock() {
		_ = c.stream.Close()
		c.writeMu.Unlock()
	}
	return c.conn.CloseWithError(0, "closed")
}

// QUICListener accepts QUIC connections and yields each once its peer has
// opened the frame stream.
type QUICListener struct {
	ln    *quic.Listener
	opts  Options
	conns chan *QUICConn
	done  chan struct{}
	once  sync.Once
}

func ListenQUIC(addr string, tlsConf *tls.Config, opts Options) (*QUICListener, error) {
	opts = opts.withDefaults()
	if tlsConf == nil {
		var err error
		if tlsConf, err = SelfSignedTLS(); err != nil {
			return nil, err
		}
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig(opts))
	if err != nil {
		return nil, errors.Wrap(err, "failed to start QUIC listener")
	}
	return &QUICListener{
		ln:    ln,
		opts:  opts,
		conns: make(chan *QUICConn, 16),
		done:  make(chan struct{}),
	}, nil
}

// Addr returns the bound UDP address.
func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx ends or the listener closes.
func (l *QUICListener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			select {
			case <-l.done:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go l.awaitStream(ctx, conn)
	}
}

func (l *QUICListener) awaitStream(ctx context.Context, conn *quic.Conn) {
	sctx, cancel := context.WithTimeout(ctx, l.opts.ReadTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(sctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return
	}
	c := newQUICConn(conn, stream, l.opts)
	select {
	case l.conns <- c:
	case <-l.done:
		_ = c.Close()
	case <-ctx.Done():
		_ = c.Close()
	}
}

// Accept returns the next ready connection.
func (l *QUICListener) Accept(ctx context.Context) (*QUICConn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *QUICListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

// SelfSignedTLS generates a development certificate for localhost.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"blobarena"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "create certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLS returns the client side config. insecure skips verification,
// which only makes sense against SelfSignedTLS servers.
func ClientTLS(insecure bool) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: insecure,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

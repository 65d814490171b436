package client

import (
	"context"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/protocol/transport"
)

func (c *Client) defaultDial(ctx context.Context) (transport.Conn, error) {
	switch c.cfg.Network {
	case transport.KindQUIC:
		conn, err := transport.DialQUIC(ctx, c.cfg.URL, transport.ClientTLS(c.cfg.InsecureTLS), c.cfg.Conn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		u, err := url.Parse(c.cfg.URL)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "url %q", c.cfg.URL)
		}
		q := u.Query()
		q.Set("codec", c.cfg.Codec.String())
		u.RawQuery = q.Encode()
		conn, err := transport.DialWebSocket(ctx, u.String(), c.cfg.Conn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// connectLoop keeps a connection up until ctx ends, retrying forever with
// jittered exponential backoff.
func (c *Client) connectLoop(ctx context.Context) error {
	backoff := c.cfg.ReconnectMin
	attempt := 0
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			backoff, attempt = c.cfg.ReconnectMin, 0
			err = c.serve(ctx, conn)
			c.emit(Event{Type: EventTypeDisconnected, Error: err})
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		c.reconnects.Add(1)
		wait := jitter(backoff)
		c.logger.Warn("Connection lost, attempting to reconnect",
			log.Int("attempt", attempt),
			log.Duration("backoff", wait),
			log.Error(err))
		c.emit(Event{Type: EventTypeReconnecting, Attempt: attempt, Error: err})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		backoff = min(backoff*2, c.cfg.ReconnectMax)
	}
}

// jitter spreads d over [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half)
}

// serve replays Join on conn and pumps frames until either side fails.
func (c *Client) serve(ctx context.Context, conn transport.Conn) error {
	join := protocol.JoinOf(c.Self())
	frame, err := c.framer.Encode(join)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.WriteFrame(frame); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "send join")
	}
	select {
	case c.mailbox <- join:
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}

	c.attach(conn)
	defer c.detach()
	c.logger.Info("Connected to server", log.String("kind", conn.Kind()), log.String("codec", c.framer.Codec().String()))
	c.emit(Event{Type: EventTypeConnected})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	return g.Wait()
}

func (c *Client) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		msg, _, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Debug("Rejected frame", log.Error(err))
			continue
		}
		select {
		case c.mailbox <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn transport.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-c.outbox:
			if err := conn.WriteFrame(frame); err != nil {
				return errors.Wrap(err, "write")
			}
		}
	}
}

func (c *Client) attach(conn transport.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) detach() {
	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
}

func (c *Client) writeNow(msg protocol.Message) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := c.framer.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame)
}

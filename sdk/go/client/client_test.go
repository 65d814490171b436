package client

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/authority"
	"github.com/zeusync/blobarena/internal/core/broadcast"
	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/prediction"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/protocol/transport"
	"github.com/zeusync/blobarena/internal/server"
)

var errNoServer = errors.New("no server")

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PlayerID = "player-self"
	cfg.ReconnectMin = 10 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	opts = append([]Option{
		WithLogger(log.NewNop()),
		WithDialer(func(context.Context) (transport.Conn, error) { return nil, errNoServer }),
	}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

// drainOutbox decodes every queued frame.
func drainOutbox(t *testing.T, c *Client) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for {
		select {
		case frame := <-c.outbox:
			msg, _, err := protocol.Decode(frame)
			require.NoError(t, err)
			out = append(out, msg)
		default:
			return out
		}
	}
}

func ofType(msgs []protocol.Message, typ protocol.Type) []protocol.Message {
	var out []protocol.Message
	for _, m := range msgs {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = "carrier-pigeon"
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ReconnectMax = cfg.ReconnectMin / 2
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Client.Codec = "json"
	cfg.Client.Transport = "quic"
	cfg.Client.URL = "localhost:4433"

	c, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodecJSON, c.Codec)
	assert.Equal(t, transport.KindQUIC, c.Network)
	assert.Equal(t, cfg.World.Size, c.World.Size)

	cfg.Client.Codec = "xml"
	_, err = FromConfig(cfg)
	assert.ErrorIs(t, err, protocol.ErrUnknownCodec)
}

func TestTickEatsFood(t *testing.T) {
	c := newTestClient(t)
	self := c.Self()
	c.store.UpsertFood(entity.Food{ID: "food-1", X: self.X, Y: self.Y, Radius: 8, Color: "hsl(1, 70%, 50%)"})

	require.Empty(t, c.tick(1))

	_, ok := c.store.Food("food-1")
	assert.False(t, ok)
	assert.Greater(t, c.Self().Radius, self.Radius)

	consumed := ofType(drainOutbox(t, c), protocol.TypeFoodConsumed)
	require.Len(t, consumed, 1)
	assert.Equal(t, "food-1", consumed[0].(*protocol.FoodConsumed).ID)
}

func TestTickEatsSmallerPlayer(t *testing.T) {
	c := newTestClient(t)
	self := c.Self()
	c.store.UpsertPlayer(entity.Player{ID: "player-prey", X: self.X, Y: self.Y, Radius: 10, Color: "hsl(1, 70%, 50%)"})

	require.Empty(t, c.tick(1))

	_, ok := c.store.Player("player-prey")
	assert.False(t, ok)
	assert.InDelta(t, 22.36, c.Self().Radius, 0.01)

	consumed := ofType(drainOutbox(t, c), protocol.TypePlayerConsumed)
	require.Len(t, consumed, 1)
	assert.Equal(t, "player-prey", consumed[0].(*protocol.PlayerConsumed).ID)

	// A late world update naming the prey must not bring it back.
	c.mailbox <- &protocol.PeriodicWorldUpdate{Players: []entity.Player{
		{ID: "player-prey", X: self.X, Y: self.Y, Radius: 10, Color: "hsl(1, 70%, 50%)"},
	}}
	c.tick(1)
	_, ok = c.store.Player("player-prey")
	assert.False(t, ok)
}

func TestPositionPrecedesConsumeIntent(t *testing.T) {
	c := newTestClient(t)
	c.SetInput(prediction.Input{X: 100, Active: true})
	c.tick(1)
	drainOutbox(t, c)

	self := c.Self()
	c.store.UpsertPlayer(entity.Player{ID: "player-prey", X: self.X, Y: self.Y, Radius: 10, Color: "hsl(1, 70%, 50%)"})
	c.SetInput(prediction.Input{X: 100, Active: true})
	require.Empty(t, c.tick(1))

	msgs := drainOutbox(t, c)
	require.GreaterOrEqual(t, len(msgs), 2)
	pos, ok := msgs[0].(*protocol.PositionUpdate)
	require.True(t, ok, "first frame was %s", msgs[0].Type())
	moved := c.Self()
	assert.Equal(t, moved.X, pos.X)
	assert.Equal(t, moved.Y, pos.Y)
	assert.Equal(t, entity.InitialRadius, pos.Radius)
	assert.Equal(t, protocol.TypePlayerConsumed, msgs[1].Type())
}

func TestTickConsumedByLargerPlayer(t *testing.T) {
	c := newTestClient(t)
	self := c.Self()
	c.mailbox <- &protocol.PeriodicWorldUpdate{Players: []entity.Player{
		{ID: "player-big", X: self.X, Y: self.Y, Radius: 80, Color: "hsl(1, 70%, 50%)"},
	}}
	assert.Equal(t, "player-big", c.tick(1))
}

func TestServerRemovalEndsAsConsumed(t *testing.T) {
	c := newTestClient(t)
	c.mailbox <- &protocol.PlayerRemoved{ID: "player-other"}
	require.Empty(t, c.tick(1))

	c.mailbox <- &protocol.PlayerRemoved{ID: c.Self().ID}
	assert.Equal(t, removedByServer, c.tick(1))
}

func TestRemovalFromPreviousSessionIgnored(t *testing.T) {
	c := newTestClient(t)
	self := c.Self()

	// Reconnect: the old session's disconnect lands between the greeting
	// snapshot and the answer to our Join.
	c.mailbox <- protocol.JoinOf(self)
	c.mailbox <- &protocol.StateSnapshot{Players: []entity.Player{self}, Food: []entity.Food{}}
	c.mailbox <- &protocol.PlayerRemoved{ID: self.ID}
	require.Empty(t, c.tick(1))

	c.mailbox <- &protocol.StateSnapshot{Players: []entity.Player{c.Self()}, Food: []entity.Food{}}
	require.Empty(t, c.tick(1))

	c.mailbox <- &protocol.PlayerRemoved{ID: self.ID}
	assert.Equal(t, removedByServer, c.tick(1))
}

func TestMergeNeverMovesSelf(t *testing.T) {
	c := newTestClient(t)
	self := c.Self()
	c.mailbox <- &protocol.StateSnapshot{
		Players: []entity.Player{{ID: self.ID, X: 1, Y: 1, Radius: 5, Color: self.Color}},
		Food:    []entity.Food{},
	}
	c.tick(1)
	assert.Equal(t, self.Position(), c.Self().Position())
	assert.Equal(t, self.Radius, c.Self().Radius)
}

func TestInputMovesSelf(t *testing.T) {
	c := newTestClient(t)
	before := c.Self()
	c.SetInput(prediction.Input{X: 100, Active: true})
	c.tick(1)
	after := c.Self()
	assert.InDelta(t, prediction.Speed(before.Radius), c.cfg.World.Distance(before.Position(), after.Position()), 1e-9)
}

func TestThrottles(t *testing.T) {
	var frames []Frame
	c := newTestClient(t, WithRenderer(RendererFunc(func(f Frame) { frames = append(frames, f) })))

	for i := 0; i < 30; i++ {
		require.Empty(t, c.tick(1))
	}
	updates := ofType(drainOutbox(t, c), protocol.TypePositionUpdate)
	assert.Len(t, updates, 10)
	require.Len(t, frames, 3)

	last := frames[2]
	assert.Equal(t, uint64(30), last.Tick)
	assert.Equal(t, c.Self().ID, last.Self.ID)
	assert.Equal(t, last.Self.Radius, last.Score)
	assert.False(t, last.Connected)
	require.NotEmpty(t, last.Leaderboard)
}

func TestOutboxDropsWhenFull(t *testing.T) {
	c := newTestClient(t)
	for i := 0; i < c.cfg.OutboxSize+5; i++ {
		c.send(&protocol.Leave{ID: "x"})
	}
	assert.Equal(t, uint64(5), c.dropped.Load())
}

// pipeConn is an in-memory transport.Conn.
type pipeConn struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 64), out: make(chan []byte, 256), done: make(chan struct{})}
}

func (p *pipeConn) ID() string { return "pipe" }

func (p *pipeConn) Kind() string { return "pipe" }

func (p *pipeConn) RemoteAddr() net.Addr { return nil }

func (p *pipeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		return nil, transport.ErrClosed
	}
}

func (p *pipeConn) WriteFrame(f []byte) error {
	select {
	case <-p.done:
		return transport.ErrClosed
	case p.out <- f:
		return nil
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// next waits for the client to write a frame of type typ.
func (p *pipeConn) next(t *testing.T, typ protocol.Type) protocol.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f := <-p.out:
			msg, _, err := protocol.Decode(f)
			require.NoError(t, err)
			if msg.Type() == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s frame", typ)
		}
	}
}

func pipeDialer(conns chan *pipeConn) Dialer {
	return func(ctx context.Context) (transport.Conn, error) {
		p := newPipeConn()
		select {
		case conns <- p:
			return p, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func awaitConn(t *testing.T, conns chan *pipeConn) *pipeConn {
	t.Helper()
	select {
	case p := <-conns:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("client never dialled")
		return nil
	}
}

func TestReconnectReplaysJoin(t *testing.T) {
	conns := make(chan *pipeConn)
	c := newTestClient(t, WithDialer(pipeDialer(conns)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Run(ctx)
	}()

	first := awaitConn(t, conns)
	join := first.next(t, protocol.TypeJoin).(*protocol.Join)
	assert.Equal(t, "player-self", join.ID)

	require.NoError(t, first.Close())

	second := awaitConn(t, conns)
	again := second.next(t, protocol.TypeJoin).(*protocol.Join)
	assert.Equal(t, join.ID, again.ID)
	assert.Equal(t, join.Color, again.Color)
	assert.GreaterOrEqual(t, c.Reconnects(), uint64(1))

	cancel()
	<-done
}

func TestConsumedSendsLeaveAndEnds(t *testing.T) {
	conns := make(chan *pipeConn, 1)
	c := newTestClient(t, WithDialer(pipeDialer(conns)))

	consumed := make(chan Event, 1)
	c.OnEvent(EventTypeConsumed, func(e Event) { consumed <- e })

	type result struct {
		score float64
		err   error
	}
	res := make(chan result, 1)
	go func() {
		score, err := c.Run(context.Background())
		res <- result{score, err}
	}()

	conn := awaitConn(t, conns)
	join := conn.next(t, protocol.TypeJoin).(*protocol.Join)

	f, err := protocol.NewFramer(protocol.CodecMsgpack, 0)
	require.NoError(t, err)
	frame, err := f.Encode(&protocol.StateSnapshot{
		Players: []entity.Player{{ID: "player-big", X: join.X, Y: join.Y, Radius: 90, Color: join.Color}},
		Food:    []entity.Food{},
	})
	require.NoError(t, err)
	conn.in <- frame

	leave := conn.next(t, protocol.TypeLeave).(*protocol.Leave)
	assert.Equal(t, join.ID, leave.ID)

	select {
	case r := <-res:
		require.NoError(t, r.err)
		assert.Equal(t, entity.InitialRadius, r.score)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	<-consumed

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestMissedHitEndsRunOnRemoval(t *testing.T) {
	conns := make(chan *pipeConn, 1)
	c := newTestClient(t, WithDialer(pipeDialer(conns)))

	consumed := make(chan Event, 1)
	c.OnEvent(EventTypeConsumed, func(e Event) { consumed <- e })
	res := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background())
		res <- err
	}()

	conn := awaitConn(t, conns)
	join := conn.next(t, protocol.TypeJoin).(*protocol.Join)

	f, err := protocol.NewFramer(protocol.CodecMsgpack, 0)
	require.NoError(t, err)
	for _, msg := range []protocol.Message{
		&protocol.StateSnapshot{Players: []entity.Player{}, Food: []entity.Food{}},
		&protocol.StateSnapshot{Players: []entity.Player{join.Player()}, Food: []entity.Food{}},
		&protocol.PlayerRemoved{ID: join.ID},
	} {
		frame, err := f.Encode(msg)
		require.NoError(t, err)
		conn.in <- frame
	}

	conn.next(t, protocol.TypeLeave)
	select {
	case err := <-res:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	<-consumed
}

func TestRunAgainstServer(t *testing.T) {
	cfg := config.Default()
	logger := log.NewNop()
	hub := server.NewHub(cfg.Server.CompressAbove, logger)
	opts := authority.DefaultCentralOptions()
	opts.TargetFood = 0
	central := authority.NewCentral(hub, logger, opts)
	srv := server.New(cfg, central, hub, broadcast.New(logger), logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer hub.CloseAll()

	for _, codec := range []protocol.CodecID{protocol.CodecJSON, protocol.CodecMsgpack} {
		t.Run(codec.String(), func(t *testing.T) {
			ccfg := DefaultConfig()
			ccfg.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
			ccfg.Codec = codec
			c, err := New(ccfg, WithLogger(logger))
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = c.Run(ctx)
			}()

			require.Eventually(t, func() bool { return central.Stats().Players == 1 }, 3*time.Second, 10*time.Millisecond)
			require.Eventually(t, c.Connected, 3*time.Second, 10*time.Millisecond)

			cancel()
			<-done
			require.Eventually(t, func() bool { return central.Stats().Players == 0 }, 3*time.Second, 10*time.Millisecond)
		})
	}
}

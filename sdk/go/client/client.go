// Package client runs one player against an arena server: local prediction,
// interpolated remote players, collision intents and automatic reconnects.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/blobarena/internal/core/collision"
	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/interp"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/prediction"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/protocol/transport"
)

// Frame is what a Renderer receives every RenderEvery ticks.
type Frame struct {
	Self        entity.Player
	Leaderboard []entity.Player
	Visible     []interp.Shadow
	Food        []entity.Food
	Scale       float64
	Score       float64
	Connected   bool
	Tick        uint64
}

type Renderer interface {
	Render(Frame)
}

type RendererFunc func(Frame)

func (f RendererFunc) Render(fr Frame) { f(fr) }

// EventType represents different client lifecycle events.
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeReconnecting EventType = "reconnecting"
	EventTypeConsumed     EventType = "consumed"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Attempt   int
	Error     error
}

// EventHandler is called on the goroutine that raised the event and must
// not block.
type EventHandler func(Event)

// Dialer opens one connection to the server.
type Dialer func(ctx context.Context) (transport.Conn, error)

type Option func(*Client)

func WithRenderer(r Renderer) Option { return func(c *Client) { c.renderer = r } }

func WithDialer(d Dialer) Option { return func(c *Client) { c.dial = d } }

func WithLogger(l log.Log) Option { return func(c *Client) { c.logger = l } }

// Client owns one player. All simulation state is touched only by the tick
// goroutine; the network goroutines talk to it through the mailbox and
// outbox channels.
type Client struct {
	cfg      Config
	logger   log.Log
	framer   *protocol.Framer
	dial     Dialer
	renderer Renderer

	store  *entity.Store
	merger *protocol.Merger
	loop   *prediction.Loop
	shadow *interp.Cache
	engine *collision.Engine
	camera *prediction.Camera
	ticks  uint64
	// greetings counts snapshots still owed on the current connection
	// before its Join takes effect.
	greetings int

	mailbox chan protocol.Message
	outbox  chan []byte

	inputMu sync.Mutex
	input   prediction.Input

	latest atomic.Pointer[entity.Player]

	connMu sync.Mutex
	conn   transport.Conn

	handlerMu sync.RWMutex
	handlers  map[EventType][]EventHandler

	running    atomic.Bool
	closed     atomic.Bool
	reconnects atomic.Uint64
	dropped    atomic.Uint64
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	framer, err := protocol.NewFramer(cfg.Codec, cfg.CompressAbove)
	if err != nil {
		return nil, err
	}
	if cfg.PlayerID == "" {
		cfg.PlayerID = entity.NewPlayerID()
	}
	self := entity.NewPlayer(cfg.PlayerID, cfg.Name, cfg.World)
	store := entity.NewStore("client:"+self.ID, entity.WithTombstoneWindow(cfg.TombstoneWindow))

	c := &Client{
		cfg:      cfg,
		logger:   log.Provide(),
		framer:   framer,
		store:    store,
		merger:   protocol.NewMerger(store, self.ID),
		loop:     prediction.New(cfg.World, self),
		shadow:   interp.New(cfg.World),
		engine:   collision.New(cfg.World),
		camera:   prediction.NewCamera(),
		mailbox:  make(chan protocol.Message, cfg.MailboxSize),
		outbox:   make(chan []byte, cfg.OutboxSize),
		handlers: make(map[EventType][]EventHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = c.defaultDial
	}
	c.logger = c.logger.With(log.String("component", "client"), log.String("player_id", self.ID))
	c.store.UpsertPlayer(c.loop.Self())
	c.publishSelf()
	return c, nil
}

func (c *Client) ID() string { return c.cfg.PlayerID }

// Self returns the latest predicted state of the owned player.
func (c *Client) Self() entity.Player { return *c.latest.Load() }

// SetInput records the pointer offset the next tick will steer by.
func (c *Client) SetInput(in prediction.Input) {
	c.inputMu.Lock()
	c.input = in
	c.inputMu.Unlock()
}

func (c *Client) Input() prediction.Input {
	c.inputMu.Lock()
	defer c.inputMu.Unlock()
	return c.input
}

func (c *Client) OnEvent(t EventType, h EventHandler) {
	c.handlerMu.Lock()
	c.handlers[t] = append(c.handlers[t], h)
	c.handlerMu.Unlock()
}

func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

func (c *Client) Reconnects() uint64 { return c.reconnects.Load() }

// Run joins the arena and plays until ctx is cancelled or the player is
// consumed. It returns the final radius as the session score. Connection
// loss never ends Run.
func (c *Client) Run(ctx context.Context) (float64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}
	if !c.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRunning
	}
	defer c.closed.Store(true)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var score float64
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.connectLoop(gctx) })
	g.Go(func() error {
		defer cancel()
		score = c.tickLoop(gctx)
		return nil
	})
	err := g.Wait()
	c.logger.Info("Client stopped", log.Float64("score", score))
	return score, err
}

func (c *Client) tickLoop(ctx context.Context) float64 {
	ticker := time.NewTicker(c.cfg.tickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.leave()
			return c.loop.Self().Radius
		case now := <-ticker.C:
			dt := prediction.DeltaFactor(now.Sub(last))
			last = now
			if by := c.tick(dt); by != "" {
				score := c.loop.Self().Radius
				c.logger.Info("Consumed", log.String("by", by), log.Float64("score", score))
				c.leave()
				c.emit(Event{Type: EventTypeConsumed})
				return score
			}
		}
	}
}

// tick runs one simulation step. It returns the predator id when the owned
// player was consumed.
func (c *Client) tick(dt float64) string {
	if c.drainMailbox() {
		return removedByServer
	}

	c.loop.Step(c.Input(), dt)
	res := c.engine.Resolve(c.loop.Self(), c.store)
	if len(res.Food) > 0 || len(res.Prey) > 0 {
		// The authority judges intents against the last position it saw.
		c.sendPosition(c.loop.Self())
	}
	for _, f := range res.Food {
		c.store.RemoveFood(f.ID)
		c.send(&protocol.FoodConsumed{ID: f.ID})
	}
	for _, p := range res.Prey {
		c.store.RemovePlayer(p.ID)
		c.send(&protocol.PlayerConsumed{ID: p.ID})
	}
	c.loop.Grow(res.Radius)

	self := c.loop.Self()
	c.store.UpsertPlayer(self)
	c.publishSelf()
	if res.ConsumedBy != "" {
		return res.ConsumedBy
	}

	c.shadow.Update(c.store.Players(), self.ID, dt)
	c.camera.Follow(self.Radius, dt)

	c.ticks++
	if c.ticks%c.cfg.PositionEvery == 0 {
		c.sendPosition(self)
	}
	if c.renderer != nil && c.ticks%c.cfg.RenderEvery == 0 {
		c.renderer.Render(c.frame())
	}
	return ""
}

func (c *Client) sendPosition(p entity.Player) {
	c.send(&protocol.PositionUpdate{ID: p.ID, X: p.X, Y: p.Y, Radius: p.Radius})
}

// drainMailbox merges every pending server message. It reports whether the
// server removed the owned player.
func (c *Client) drainMailbox() (removed bool) {
	for {
		select {
		case msg := <-c.mailbox:
			if err := c.merger.Apply(msg); err != nil {
				c.logger.Debug("Rejected message", log.String("type", msg.Type().String()), log.Error(err))
				continue
			}
			if c.removesSelf(msg) {
				removed = true
			}
		default:
			return removed
		}
	}
}

// The server greets every connection with a snapshot and answers Join with
// another one.
const joinGreetings = 2

// removedByServer is reported as the predator when the server removed the
// owned player without this client seeing the hit.
const removedByServer = "server"

// removesSelf tracks connection boundaries, marked by serve pushing our own
// Join into the mailbox. A removal of the owned player that arrives before
// the new Join took effect belongs to the previous session and is ignored.
func (c *Client) removesSelf(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.Join:
		if m.ID == c.cfg.PlayerID {
			c.greetings = joinGreetings
		}
	case *protocol.StateSnapshot:
		if c.greetings > 0 {
			c.greetings--
		}
	case *protocol.PlayerRemoved:
		return m.ID == c.cfg.PlayerID && c.greetings == 0
	}
	return false
}

func (c *Client) frame() Frame {
	self := c.loop.Self()
	lb := c.store.Leaderboard()
	if n := c.cfg.LeaderboardN; n > 0 && len(lb) > n {
		lb = lb[:n]
	}
	return Frame{
		Self:        self,
		Leaderboard: lb,
		Visible:     c.shadow.Shadows(),
		Food:        c.store.FoodItems(),
		Scale:       c.camera.Scale,
		Score:       self.Radius,
		Connected:   c.Connected(),
		Tick:        c.ticks,
	}
}

func (c *Client) publishSelf() {
	self := c.loop.Self()
	c.latest.Store(&self)
}

// send queues msg for the current connection. Frames are dropped while the
// outbox is full; position updates supersede each other anyway.
func (c *Client) send(msg protocol.Message) {
	frame, err := c.framer.Encode(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", log.String("type", msg.Type().String()), log.Error(err))
		return
	}
	select {
	case c.outbox <- frame:
	default:
		c.dropped.Add(1)
		c.logger.Debug("Outbox full, dropping message", log.String("type", msg.Type().String()))
	}
}

// leave writes Leave directly so it is not lost behind queued frames when
// the connection goes down right after.
func (c *Client) leave() {
	if err := c.writeNow(&protocol.Leave{ID: c.cfg.PlayerID}); err != nil {
		c.logger.Debug("Leave not delivered", log.Error(err))
	}
}

func (c *Client) emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	c.handlerMu.RLock()
	handlers := c.handlers[e.Type]
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

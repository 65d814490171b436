package authority

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/blobarena/internal/core/collision"
	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/events/bus"
	"github.com/zeusync/blobarena/internal/core/geometry"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/protocol"
)

type CentralOptions struct {
	World      geometry.World
	TargetFood int
	SpawnBatch int
	// PlayerTimeout removes players that sent nothing for this long.
	// Zero disables the sweep.
	PlayerTimeout time.Duration
	Now           func() time.Time
}

func DefaultCentralOptions() CentralOptions {
	return CentralOptions{
		World:         geometry.New(geometry.DefaultSize),
		TargetFood:    200,
		SpawnBatch:    5,
		PlayerTimeout: 30 * time.Second,
		Now:           time.Now,
	}
}

var _ Coordinator = (*Central)(nil)

const changeTopic = "authority"

// Central is the single authoritative process. One mutex serialises every
// mutation; outbound messages are queued in the order mutations happen.
type Central struct {
	mu     sync.Mutex
	opts   CentralOptions
	store  *entity.Store
	events bus.EventBus
	out    Outbox
	log    log.Log

	owner    map[string]string // player id -> session
	player   map[string]string // session -> player id
	lastSeen map[string]time.Time
}

// NewCentral creates the authority and its initial food population.
func NewCentral(out Outbox, logger log.Log, opts CentralOptions) *Central {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.World.Size <= 0 {
		opts.World = geometry.New(geometry.DefaultSize)
	}
	if logger == nil {
		logger = log.Provide()
	}
	events := bus.New()
	c := &Central{
		opts:     opts,
		store:    entity.NewStore("authority", entity.WithClock(opts.Now), entity.WithEvents(events, changeTopic)),
		events:   events,
		out:      out,
		log:      logger.With(log.String("component", "authority")),
		owner:    make(map[string]string),
		player:   make(map[string]string),
		lastSeen: make(map[string]time.Time),
	}
	for i := 0; i < opts.TargetFood; i++ {
		c.store.UpsertFood(entity.NewFood(opts.World))
	}
	return c
}

// Connect greets a new session with the full state.
func (c *Central) Connect(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Send(session, c.snapshotLocked())
}

func (c *Central) Join(ctx context.Context, session string, j *protocol.Join) error {
	if j == nil || j.ID == "" {
		return ErrEmptyID
	}
	p := j.Player()
	p.SetPosition(c.opts.World.WrapPoint(p.Position()))
	if p.Radius <= 0 {
		p.Radius = entity.InitialRadius
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.player[session]; ok && prev != p.ID {
		c.removeLocked(prev)
	}
	if oldSession, ok := c.owner[p.ID]; ok && oldSession != session {
		delete(c.player, oldSession)
	}
	c.store.UpsertPlayer(p)
	c.owner[p.ID] = session
	c.player[session] = p.ID
	c.lastSeen[p.ID] = c.opts.Now()

	c.log.WithContext(ctx).Info("Player joined", log.String("player_id", p.ID), log.String("name", p.Name))

	c.out.Send(session, c.snapshotLocked())
	c.out.Broadcast(c.worldLocked(), session)
	return nil
}

func (c *Central) UpdatePosition(_ context.Context, session string, u *protocol.PositionUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owner[u.ID] != session {
		return ErrNotOwner
	}
	p, ok := c.store.Player(u.ID)
	if !ok {
		return ErrUnknownPlayer
	}
	p.SetPosition(c.opts.World.WrapPoint(geometry.Vec2{X: u.X, Y: u.Y}))
	if u.Radius > p.Radius {
		p.Radius = u.Radius
	}
	c.store.UpsertPlayer(p)
	c.lastSeen[u.ID] = c.opts.Now()
	return nil
}

func (c *Central) ConsumeFood(_ context.Context, session, foodID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.sessionPlayerLocked(session); err != nil {
		return err
	}
	if c.store.RemoveFood(foodID) {
		c.out.Broadcast(&protocol.FoodRemoved{ID: foodID})
	}
	return nil
}

func (c *Central) ConsumePlayer(_ context.Context, session, preyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pred, err := c.sessionPlayerLocked(session)
	if err != nil {
		return err
	}
	prey, ok := c.store.Player(preyID)
	if !ok || prey.ID == pred.ID {
		return ErrUnknownPlayer
	}
	dist := c.opts.World.Distance(pred.Position(), prey.Position())
	if !collision.CanConsume(pred.Radius, prey.Radius, dist) {
		return ErrNotAllowed
	}

	c.log.Info("Player consumed",
		log.String("player_id", preyID),
		log.String("by", pred.ID),
		log.Float64("radius", prey.Radius))

	c.removeLocked(preyID)
	pred.Radius = collision.GrowByPlayer(pred.Radius, prey.Radius)
	c.store.UpsertPlayer(pred)
	return nil
}

func (c *Central) Leave(_ context.Context, session, playerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owner[playerID] != session {
		return ErrNotOwner
	}
	c.removeLocked(playerID)
	return nil
}

// Disconnect removes the session's player unless a newer session has taken
// it over.
func (c *Central) Disconnect(ctx context.Context, session string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.player[session]
	if !ok {
		return nil
	}
	if c.owner[id] == session {
		c.log.WithContext(ctx).Info("Player disconnected", log.String("player_id", id))
		c.removeLocked(id)
	}
	delete(c.player, session)
	return nil
}

// Upkeep spawns at most SpawnBatch food toward TargetFood and sweeps players
// that went quiet.
func (c *Central) Upkeep(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < c.opts.SpawnBatch && c.store.FoodCount() < c.opts.TargetFood; i++ {
		f := entity.NewFood(c.opts.World)
		c.store.UpsertFood(f)
		c.out.Broadcast(&protocol.FoodAdded{Food: &f})
	}

	if c.opts.PlayerTimeout > 0 {
		now := c.opts.Now()
		for id, seen := range c.lastSeen {
			if now.Sub(seen) > c.opts.PlayerTimeout {
				c.log.Warn("Player timed out", log.String("player_id", id), log.Duration("idle", now.Sub(seen)))
				c.removeLocked(id)
			}
		}
	}
	c.store.SweepTombstones()
	return nil
}

// BroadcastWorld pushes every player's position. It reports false when
// there was nobody to send to.
func (c *Central) BroadcastWorld() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.PlayerCount() == 0 {
		return false
	}
	c.out.Broadcast(c.worldLocked())
	return true
}

func (c *Central) Snapshot() *protocol.StateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

type Stats struct {
	Players  int `json:"players"`
	Food     int `json:"food"`
	Sessions int `json:"sessions"`
	// Changes counts store mutations published on the change topic.
	Changes uint64 `json:"changes"`
}

func (c *Central) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Players:  c.store.PlayerCount(),
		Food:     c.store.FoodCount(),
		Sessions: len(c.player),
		Changes:  c.events.GetMetrics().Published,
	}
}

func (c *Central) sessionPlayerLocked(session string) (entity.Player, error) {
	id, ok := c.player[session]
	if !ok || c.owner[id] != session {
		return entity.Player{}, ErrNotOwner
	}
	p, ok := c.store.Player(id)
	if !ok {
		return entity.Player{}, ErrUnknownPlayer
	}
	return p, nil
}

func (c *Central) removeLocked(id string) {
	if session, ok := c.owner[id]; ok {
		if c.player[session] == id {
			delete(c.player, session)
		}
		delete(c.owner, id)
	}
	delete(c.lastSeen, id)
	if c.store.RemovePlayer(id) {
		c.out.Broadcast(&protocol.PlayerRemoved{ID: id})
	}
}

func (c *Central) snapshotLocked() *protocol.StateSnapshot {
	return &protocol.StateSnapshot{Players: c.store.Players(), Food: c.store.FoodItems()}
}

func (c *Central) worldLocked() *protocol.PeriodicWorldUpdate {
	return &protocol.PeriodicWorldUpdate{Players: c.store.Players()}
}

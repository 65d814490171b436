package authority

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/blobarena/internal/core/collision"
	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/geometry"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/storage"
)

type PeerOptions struct {
	World        geometry.World
	TargetFood   int
	SpawnBatch   int
	HostInterval time.Duration
}

func DefaultPeerOptions() PeerOptions {
	return PeerOptions{
		World:        geometry.New(geometry.DefaultSize),
		TargetFood:   150,
		SpawnBatch:   5,
		HostInterval: time.Second,
	}
}

var _ Coordinator = (*Peer)(nil)

// Peer mirrors the shared store and, while it holds the smallest known
// player id, keeps the food topped up. Two peers may briefly both believe
// they are host; the extra food that produces is tolerated.
//
// Peer never holds its own lock while writing to the shared store, because
// the store delivers change events synchronously.
type Peer struct {
	id     string
	shared storage.Shared
	opts   PeerOptions
	log    log.Log

	mu     sync.Mutex
	mirror *entity.Store
	cancel func()
}

// NewPeer subscribes to shared and then loads its current contents.
func NewPeer(ctx context.Context, id string, shared storage.Shared, logger log.Log, opts PeerOptions) (*Peer, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if logger == nil {
		logger = log.Provide()
	}
	if opts.World.Size <= 0 {
		opts.World = geometry.New(geometry.DefaultSize)
	}
	p := &Peer{
		id:     id,
		shared: shared,
		opts:   opts,
		log:    logger.With(log.String("component", "peer"), log.String("peer_id", id)),
		mirror: entity.NewStore("peer:" + id),
	}

	cancel, err := shared.Watch(p.apply)
	if err != nil {
		return nil, errors.Wrap(err, "watch shared store")
	}
	p.cancel = cancel

	recs, err := shared.List(ctx, "")
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "load shared store")
	}
	p.mu.Lock()
	for _, rec := range recs {
		switch {
		case rec.Player != nil:
			p.mirror.UpsertPlayer(*rec.Player)
		case rec.Food != nil:
			p.mirror.UpsertFood(*rec.Food)
		}
	}
	p.mu.Unlock()
	return p, nil
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) apply(c entity.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case c.Kind == entity.KindPlayer && c.Op == entity.OpRemoved:
		p.mirror.RemovePlayer(c.ID)
	case c.Kind == entity.KindPlayer:
		p.mirror.UpsertPlayer(c.Player)
	case c.Kind == entity.KindFood && c.Op == entity.OpRemoved:
		p.mirror.RemoveFood(c.ID)
	case c.Kind == entity.KindFood:
		p.mirror.UpsertFood(c.Food)
	}
	return nil
}

// View calls fn with the mirror under the peer's lock.
func (p *Peer) View(fn func(*entity.Store)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.mirror)
}

// Host returns the id this peer currently believes is elected.
func (p *Peer) Host() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Elect(p.mirror.PlayerIDs())
}

func (p *Peer) IsHost() bool { return p.Host() == p.id }

func (p *Peer) Join(ctx context.Context, session string, j *protocol.Join) error {
	if j == nil || j.ID == "" {
		return ErrEmptyID
	}
	pl := j.Player()
	pl.SetPosition(p.opts.World.WrapPoint(pl.Position()))
	return p.write(ctx, storage.PlayerRecord(session, pl))
}

func (p *Peer) UpdatePosition(ctx context.Context, session string, u *protocol.PositionUpdate) error {
	rec, err := p.shared.Read(ctx, storage.PlayerKey(u.ID))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownPlayer
	}
	if err != nil {
		return err
	}
	pl := *rec.Player
	pl.SetPosition(p.opts.World.WrapPoint(geometry.Vec2{X: u.X, Y: u.Y}))
	if u.Radius > pl.Radius {
		pl.Radius = u.Radius
	}
	return p.write(ctx, storage.PlayerRecord(session, pl))
}

func (p *Peer) ConsumeFood(ctx context.Context, session, foodID string) error {
	if _, err := p.owned(ctx, session); err != nil {
		return err
	}
	return p.shared.Delete(ctx, storage.FoodKey(foodID))
}

// ConsumePlayer deletes the prey directly, as any peer may, once the size
// rule holds on the stored radii.
func (p *Peer) ConsumePlayer(ctx context.Context, session, preyID string) error {
	pred, err := p.owned(ctx, session)
	if err != nil {
		return err
	}
	rec, err := p.shared.Read(ctx, storage.PlayerKey(preyID))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && preyID == pred.ID) {
		return ErrUnknownPlayer
	}
	if err != nil {
		return err
	}
	prey := *rec.Player
	if !collision.CanConsume(pred.Radius, prey.Radius, p.opts.World.Distance(pred.Position(), prey.Position())) {
		return ErrNotAllowed
	}
	if err := p.shared.Delete(ctx, storage.PlayerKey(preyID)); err != nil {
		return err
	}
	pred.Radius = collision.GrowByPlayer(pred.Radius, prey.Radius)
	return p.write(ctx, storage.PlayerRecord(session, pred))
}

func (p *Peer) Leave(ctx context.Context, session, playerID string) error {
	rec, err := p.shared.Read(ctx, storage.PlayerKey(playerID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Owner != session {
		return ErrNotOwner
	}
	return p.shared.Delete(ctx, storage.PlayerKey(playerID))
}

// Disconnect drops everything session owned in the shared store.
func (p *Peer) Disconnect(ctx context.Context, session string) error {
	n, err := p.shared.Release(ctx, session)
	if err != nil {
		return err
	}
	p.log.Debug("Released keys", log.String("owner", session), log.Int("count", n))
	return nil
}

// Upkeep spawns up to SpawnBatch food toward TargetFood when this peer is
// the elected host, and does nothing otherwise.
func (p *Peer) Upkeep(ctx context.Context) error {
	p.mu.Lock()
	host := Elect(p.mirror.PlayerIDs())
	have := p.mirror.FoodCount()
	p.mu.Unlock()

	if host != p.id || have >= p.opts.TargetFood {
		return nil
	}
	batch := make(map[string]storage.Record, p.opts.SpawnBatch)
	for i := 0; i < p.opts.SpawnBatch && have+i < p.opts.TargetFood; i++ {
		rec := storage.FoodRecord(entity.NewFood(p.opts.World))
		batch[rec.Key()] = rec
	}
	if err := p.shared.BatchCreate(ctx, batch); err != nil {
		return errors.Wrap(err, "spawn food")
	}
	p.log.Debug("Spawned food", log.Int("count", len(batch)), log.Int("total", have+len(batch)))
	return nil
}

// Run calls Upkeep every HostInterval until ctx ends.
func (p *Peer) Run(ctx context.Context) error {
	interval := p.opts.HostInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Upkeep(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn("Upkeep failed", log.Error(err))
			}
		}
	}
}

// Close stops mirroring. It does not release the peer's keys.
func (p *Peer) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Peer) owned(ctx context.Context, session string) (entity.Player, error) {
	rec, err := p.shared.Read(ctx, storage.PlayerKey(p.id))
	if errors.Is(err, storage.ErrNotFound) {
		return entity.Player{}, ErrUnknownPlayer
	}
	if err != nil {
		return entity.Player{}, err
	}
	if rec.Owner != session {
		return entity.Player{}, ErrNotOwner
	}
	return *rec.Player, nil
}

func (p *Peer) write(ctx context.Context, rec storage.Record) error {
	err := p.shared.Update(ctx, rec.Key(), rec)
	if errors.Is(err, storage.ErrNotOwner) {
		return ErrNotOwner
	}
	return err
}

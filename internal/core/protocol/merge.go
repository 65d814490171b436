package protocol

import (
	"github.com/zeusync/blobarena/internal/core/entity"
)

// Merger applies inbound messages to a client's mirror store. The entry for
// selfID is never overwritten or pruned by a message; it belongs to the
// prediction loop.
type Merger struct {
	store  *entity.Store
	selfID string
}

func NewMerger(store *entity.Store, selfID string) *Merger {
	return &Merger{store: store, selfID: selfID}
}

func (m *Merger) Store() *entity.Store { return m.store }

// SetSelf changes which id is protected, for a player that rejoined fresh.
func (m *Merger) SetSelf(id string) { m.selfID = id }

// Apply validates msg and merges it. An invalid message leaves the store
// untouched and returns ErrMalformed. Intent messages are ignored.
func (m *Merger) Apply(msg Message) error {
	if msg == nil {
		return ErrMalformed
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	switch v := msg.(type) {
	case *StateSnapshot:
		m.snapshot(v)
	case *PeriodicWorldUpdate:
		m.worldUpdate(v)
	case *Join:
		m.upsertPlayer(v.Player())
	case *PositionUpdate:
		m.position(v)
	case *FoodAdded:
		if !m.store.Tombstoned(entity.KindFood, v.Food.ID) {
			m.store.UpsertFood(*v.Food)
		}
	case *FoodRemoved:
		m.store.RemoveFood(v.ID)
	case *PlayerRemoved:
		if v.ID != m.selfID {
			m.store.RemovePlayer(v.ID)
		}
	}
	return nil
}

func (m *Merger) snapshot(s *StateSnapshot) {
	m.store.SweepTombstones()

	players := make(map[string]struct{}, len(s.Players))
	for _, p := range s.Players {
		players[p.ID] = struct{}{}
		m.upsertPlayer(p)
	}
	m.store.RetainPlayers(func(id string) bool {
		_, ok := players[id]
		return ok || id == m.selfID
	})

	food := make(map[string]struct{}, len(s.Food))
	for _, f := range s.Food {
		if m.store.Tombstoned(entity.KindFood, f.ID) {
			continue
		}
		food[f.ID] = struct{}{}
		m.store.UpsertFood(f)
	}
	m.store.RetainFood(func(id string) bool {
		_, ok := food[id]
		return ok
	})
}

func (m *Merger) worldUpdate(u *PeriodicWorldUpdate) {
	listed := make(map[string]struct{}, len(u.Players))
	for _, p := range u.Players {
		listed[p.ID] = struct{}{}
		m.upsertPlayer(p)
	}
	m.store.RetainPlayers(func(id string) bool {
		_, ok := listed[id]
		return ok || id == m.selfID
	})
}

func (m *Merger) position(u *PositionUpdate) {
	if u.ID == m.selfID {
		return
	}
	p, ok := m.store.Player(u.ID)
	if !ok {
		return
	}
	p.X, p.Y, p.Radius = u.X, u.Y, u.Radius
	m.store.UpsertPlayer(p)
}

func (m *Merger) upsertPlayer(p entity.Player) {
	if p.ID == m.selfID || m.store.Tombstoned(entity.KindPlayer, p.ID) {
		return
	}
	m.store.UpsertPlayer(p)
}

package entity

import (
	"sort"
	"time"

	"github.com/zeusync/blobarena/internal/core/events/bus"
)

// DefaultTombstoneWindow is how long a removed id is remembered so that late
// or reordered adds for it are ignored.
const DefaultTombstoneWindow = time.Second

type key struct {
	kind Kind
	id   string
}

// Store maps ids to players and food. A Store has exactly one writer: the
// client tick loop, or the authority behind its own lock. It is not safe for
// concurrent use.
type Store struct {
	name       string
	players    map[string]Player
	food       map[string]Food
	tombstones map[key]time.Time
	window     time.Duration
	now        func() time.Time

	events bus.EventBus
	topic  string
}

type Option func(*Store)

// WithEvents publishes a Change on topic for every mutation.
func WithEvents(b bus.EventBus, topic string) Option {
	return func(s *Store) {
		s.events = b
		s.topic = topic
	}
}

func WithTombstoneWindow(d time.Duration) Option {
	return func(s *Store) { s.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(name string, opts ...Option) *Store {
	s := &Store{
		name:       name,
		players:    make(map[string]Player),
		food:       make(map[string]Food),
		tombstones: make(map[key]time.Time),
		window:     DefaultTombstoneWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string { return s.name }

func (s *Store) Player(id string) (Player, bool) {
	p, ok := s.players[id]
	return p, ok
}

func (s *Store) Food(id string) (Food, bool) {
	f, ok := s.food[id]
	return f, ok
}

func (s *Store) PlayerCount() int { return len(s.players) }
func (s *Store) FoodCount() int   { return len(s.food) }

// Players returns a copy of every player ordered by id.
func (s *Store) Players() []Player {
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) PlayerIDs() []string {
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FoodItems returns a copy of every food entity ordered by id.
func (s *Store) FoodItems() []Food {
	out := make([]Food, 0, len(s.food))
	for _, f := range s.food {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForEachFood visits food in map order. fn must not mutate the store.
func (s *Store) ForEachFood(fn func(Food) bool) {
	for _, f := range s.food {
		if !fn(f) {
			return
		}
	}
}

// ForEachPlayer visits players in map order. fn must not mutate the store.
func (s *Store) ForEachPlayer(fn func(Player) bool) {
	for _, p := range s.players {
		if !fn(p) {
			return
		}
	}
}

// Leaderboard returns players ordered by descending radius, ties by id.
func (s *Store) Leaderboard() []Player {
	out := s.Players()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Radius > out[j].Radius })
	return out
}

// UpsertPlayer stores p, last arrival wins. It reports whether p was new.
func (s *Store) UpsertPlayer(p Player) bool {
	prev, existed := s.players[p.ID]
	s.players[p.ID] = p
	delete(s.tombstones, key{KindPlayer, p.ID})
	switch {
	case !existed:
		s.emit(Change{Kind: KindPlayer, Op: OpAdded, ID: p.ID, Player: p})
	case prev != p:
		s.emit(Change{Kind: KindPlayer, Op: OpChanged, ID: p.ID, Player: p})
	}
	return !existed
}

// RemovePlayer deletes id and tombstones it. Removing an absent id only
// refreshes the tombstone.
func (s *Store) RemovePlayer(id string) bool {
	s.tombstones[key{KindPlayer, id}] = s.now()
	p, ok := s.players[id]
	if !ok {
		return false
	}
	delete(s.players, id)
	s.emit(Change{Kind: KindPlayer, Op: OpRemoved, ID: id, Player: p})
	return true
}

func (s *Store) UpsertFood(f Food) bool {
	prev, existed := s.food[f.ID]
	s.food[f.ID] = f
	delete(s.tombstones, key{KindFood, f.ID})
	switch {
	case !existed:
		s.emit(Change{Kind: KindFood, Op: OpAdded, ID: f.ID, Food: f})
	case prev != f:
		s.emit(Change{Kind: KindFood, Op: OpChanged, ID: f.ID, Food: f})
	}
	return !existed
}

func (s *Store) RemoveFood(id string) bool {
	s.tombstones[key{KindFood, id}] = s.now()
	f, ok := s.food[id]
	if !ok {
		return false
	}
	delete(s.food, id)
	s.emit(Change{Kind: KindFood, Op: OpRemoved, ID: id, Food: f})
	return true
}

// Tombstoned reports whether id of kind was removed within the window.
// Expired tombstones are dropped as they are observed.
func (s *Store) Tombstoned(kind Kind, id string) bool {
	k := key{kind, id}
	at, ok := s.tombstones[k]
	if !ok {
		return false
	}
	if s.now().Sub(at) >= s.window {
		delete(s.tombstones, k)
		return false
	}
	return true
}

// SweepTombstones drops every expired tombstone.
func (s *Store) SweepTombstones() {
	now := s.now()
	for k, at := range s.tombstones {
		if now.Sub(at) >= s.window {
			delete(s.tombstones, k)
		}
	}
}

// RetainPlayers removes every player for which keep returns false, without
// leaving tombstones: the ids simply left the active set.
func (s *Store) RetainPlayers(keep func(id string) bool) {
	for id, p := range s.players {
		if keep(id) {
			continue
		}
		delete(s.players, id)
		s.emit(Change{Kind: KindPlayer, Op: OpRemoved, ID: id, Player: p})
	}
}

func (s *Store) RetainFood(keep func(id string) bool) {
	for id, f := range s.food {
		if keep(id) {
			continue
		}
		delete(s.food, id)
		s.emit(Change{Kind: KindFood, Op: OpRemoved, ID: id, Food: f})
	}
}

func (s *Store) emit(c Change) {
	if s.events == nil {
		return
	}
	c.Origin = s.name
	c.At = s.now()
	_ = s.events.PublishToTopic(s.topic, c)
}

// Package protocol defines the arena's wire messages, how they are framed,
// and how a receiver merges them into its store.
package protocol

import (
	"math"

	"github.com/zeusync/blobarena/internal/core/entity"
)

// Type is the one-byte message discriminator carried in every frame.
type Type uint8

const (
	TypeJoin Type = iota + 1
	TypeStateSnapshot
	TypePositionUpdate
	TypeFoodAdded
	TypeFoodRemoved
	TypePlayerRemoved
	TypePeriodicWorldUpdate
	TypeFoodConsumed
	TypePlayerConsumed
	TypeLeave
)

var typeNames = map[Type]string{
	TypeJoin:                "join",
	TypeStateSnapshot:       "state_snapshot",
	TypePositionUpdate:      "position_update",
	TypeFoodAdded:           "food_added",
	TypeFoodRemoved:         "food_removed",
	TypePlayerRemoved:       "player_removed",
	TypePeriodicWorldUpdate: "periodic_world_update",
	TypeFoodConsumed:        "food_consumed",
	TypePlayerConsumed:      "player_consumed",
	TypeLeave:               "leave",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Message is any value that can travel in a frame.
type Message interface {
	Type() Type
	Validate() error
}

// newMessage returns an empty value for t to decode into.
func newMessage(t Type) (Message, bool) {
	switch t {
	case TypeJoin:
		return &Join{}, true
	case TypeStateSnapshot:
		return &StateSnapshot{}, true
	case TypePositionUpdate:
		return &PositionUpdate{}, true
	case TypeFoodAdded:
		return &FoodAdded{}, true
	case TypeFoodRemoved:
		return &FoodRemoved{}, true
	case TypePlayerRemoved:
		return &PlayerRemoved{}, true
	case TypePeriodicWorldUpdate:
		return &PeriodicWorldUpdate{}, true
	case TypeFoodConsumed:
		return &FoodConsumed{}, true
	case TypePlayerConsumed:
		return &PlayerConsumed{}, true
	case TypeLeave:
		return &Leave{}, true
	default:
		return nil, false
	}
}

// Join announces or refreshes a player. Repeating it is an upsert.
type Join struct {
	ID     string  `json:"id" msgpack:"id"`
	Name   string  `json:"name" msgpack:"name"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Radius float64 `json:"radius" msgpack:"radius"`
	Color  string  `json:"color" msgpack:"color"`
}

func JoinOf(p entity.Player) *Join {
	j := Join(p)
	return &j
}

func (j *Join) Player() entity.Player { return entity.Player(*j) }
func (*Join) Type() Type              { return TypeJoin }
func (j *Join) Validate() error       { return malformed(j.Player().Validate()) }

// StateSnapshot replaces a receiver's mirrors wholesale.
type StateSnapshot struct {
	Players []entity.Player `json:"players" msgpack:"players"`
	Food    []entity.Food   `json:"food" msgpack:"food"`
}

func (*StateSnapshot) Type() Type { return TypeStateSnapshot }

func (s *StateSnapshot) Validate() error {
	if s.Players == nil || s.Food == nil {
		return ErrMalformed
	}
	if err := validatePlayers(s.Players); err != nil {
		return err
	}
	for _, f := range s.Food {
		if err := f.Validate(); err != nil {
			return malformed(err)
		}
	}
	return nil
}

type PositionUpdate struct {
	ID     string  `json:"id" msgpack:"id"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Radius float64 `json:"radius" msgpack:"radius"`
}

func (*PositionUpdate) Type() Type { return TypePositionUpdate }

func (u *PositionUpdate) Validate() error {
	if u.ID == "" || !finite(u.X) || !finite(u.Y) || !(u.Radius > 0) || !finite(u.Radius) {
		return ErrMalformed
	}
	return nil
}

type FoodAdded struct {
	Food *entity.Food `json:"food" msgpack:"food"`
}

func (*FoodAdded) Type() Type { return TypeFoodAdded }

func (a *FoodAdded) Validate() error {
	if a.Food == nil {
		return ErrMalformed
	}
	return malformed(a.Food.Validate())
}

// PeriodicWorldUpdate carries every live player's position.
type PeriodicWorldUpdate struct {
	Players []entity.Player `json:"players" msgpack:"players"`
}

func (*PeriodicWorldUpdate) Type() Type { return TypePeriodicWorldUpdate }

func (u *PeriodicWorldUpdate) Validate() error {
	if u.Players == nil {
		return ErrMalformed
	}
	return validatePlayers(u.Players)
}

// Messages that only name an id.
type (
	FoodRemoved struct {
		ID string `json:"id" msgpack:"id"`
	}
	PlayerRemoved struct {
		ID string `json:"id" msgpack:"id"`
	}
	FoodConsumed struct {
		ID string `json:"id" msgpack:"id"`
	}
	PlayerConsumed struct {
		ID string `json:"id" msgpack:"id"`
	}
	Leave struct {
		ID string `json:"id" msgpack:"id"`
	}
)

func (*FoodRemoved) Type() Type    { return TypeFoodRemoved }
func (*PlayerRemoved) Type() Type  { return TypePlayerRemoved }
func (*FoodConsumed) Type() Type   { return TypeFoodConsumed }
func (*PlayerConsumed) Type() Type { return TypePlayerConsumed }
func (*Leave) Type() Type          { return TypeLeave }

func (m *FoodRemoved) Validate() error    { return requireID(m.ID) }
func (m *PlayerRemoved) Validate() error  { return requireID(m.ID) }
func (m *FoodConsumed) Validate() error   { return requireID(m.ID) }
func (m *PlayerConsumed) Validate() error { return requireID(m.ID) }
func (m *Leave) Validate() error          { return requireID(m.ID) }

func validatePlayers(players []entity.Player) error {
	for _, p := range players {
		if err := p.Validate(); err != nil {
			return malformed(err)
		}
	}
	return nil
}

func requireID(id string) error {
	if id == "" {
		return ErrMalformed
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Package entity holds the arena's data model and the per-process store that
// maps ids to players and food.
package entity

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/zeusync/blobarena/internal/core/geometry"
)

const (
	InitialRadius = 20.0
	MinFoodRadius = 6.0
	MaxFoodRadius = 10.0
)

var (
	ErrMissingID     = errors.New("entity: missing id")
	ErrBadRadius     = errors.New("entity: radius must be positive")
	ErrNonFinite     = errors.New("entity: non-finite coordinate")
	ErrUnknownPlayer = errors.New("entity: unknown player")
	ErrUnknownFood   = errors.New("entity: unknown food")
)

type Player struct {
	ID     string  `json:"id" msgpack:"id"`
	Name   string  `json:"name" msgpack:"name"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Radius float64 `json:"radius" msgpack:"radius"`
	Color  string  `json:"color" msgpack:"color"`
}

func (p Player) Position() geometry.Vec2 { return geometry.Vec2{X: p.X, Y: p.Y} }

func (p *Player) SetPosition(v geometry.Vec2) {
	p.X, p.Y = v.X, v.Y
}

func (p Player) Validate() error {
	return validate(p.ID, p.X, p.Y, p.Radius)
}

type Food struct {
	ID     string  `json:"id" msgpack:"id"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Radius float64 `json:"radius" msgpack:"radius"`
	Color  string  `json:"color" msgpack:"color"`
}

func (f Food) Position() geometry.Vec2 { return geometry.Vec2{X: f.X, Y: f.Y} }

func (f Food) Validate() error {
	return validate(f.ID, f.X, f.Y, f.Radius)
}

func validate(id string, x, y, r float64) error {
	if id == "" {
		return ErrMissingID
	}
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return fmt.Errorf("%w: %s", ErrNonFinite, id)
	}
	if !(r > 0) || math.IsInf(r, 0) {
		return fmt.Errorf("%w: %s", ErrBadRadius, id)
	}
	return nil
}

var hues = [...]int{0, 60, 120, 180, 240, 300, 330}

// RandomColor returns one of the arena's CSS hsl colours.
func RandomColor() string {
	return fmt.Sprintf("hsl(%d, 70%%, 60%%)", hues[rand.IntN(len(hues))])
}

func NewPlayerID() string { return "player-" + uuid.NewString() }

func NewFoodID() string { return "food-" + uuid.NewString() }

// NewPlayer creates a fresh entity at a random position with the initial radius.
func NewPlayer(id, name string, world geometry.World) Player {
	if id == "" {
		id = NewPlayerID()
	}
	return Player{
		ID:     id,
		Name:   name,
		X:      math.Floor(rand.Float64() * world.Size),
		Y:      math.Floor(rand.Float64() * world.Size),
		Radius: InitialRadius,
		Color:  RandomColor(),
	}
}

func NewFood(world geometry.World) Food {
	return Food{
		ID:     NewFoodID(),
		X:      math.Floor(rand.Float64() * world.Size),
		Y:      math.Floor(rand.Float64() * world.Size),
		Radius: MinFoodRadius + rand.Float64()*(MaxFoodRadius-MinFoodRadius),
		Color:  RandomColor(),
	}
}

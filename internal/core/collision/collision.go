// Package collision evaluates consumption between the local entity and the
// rest of a store.
package collision

import (
	"math"

	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/geometry"
)

const (
	// SizeAdvantage is how much larger a predator must be than its prey.
	SizeAdvantage = 1.1
	// Overlap is the share of the prey's radius that may stay outside the
	// predator at the moment of consumption.
	Overlap = 0.3
	// FoodYield is the share of a food's area a player absorbs.
	FoodYield = 0.5
)

// EatsFood reports whether a circle of radius pr at p overlaps food f.
func EatsFood(w geometry.World, p geometry.Vec2, pr float64, f entity.Food) bool {
	return w.Distance(p, f.Position()) < pr+f.Radius
}

// CanConsume is the asymmetric player rule. Swapping predR and preyR never
// lets both directions succeed.
func CanConsume(predR, preyR, dist float64) bool {
	return predR > preyR*SizeAdvantage && dist < predR-preyR*Overlap
}

// GrowByFood returns the radius after absorbing half the food's area.
func GrowByFood(r, food float64) float64 {
	return math.Sqrt(r*r + FoodYield*food*food)
}

// GrowByPlayer returns the radius after absorbing the prey's whole area.
func GrowByPlayer(r, prey float64) float64 {
	return math.Sqrt(r*r + prey*prey)
}

// Result is what one evaluation found for the local entity.
type Result struct {
	Food       []entity.Food
	Prey       []entity.Player
	ConsumedBy string
	Radius     float64
}

type Engine struct {
	world geometry.World
}

func New(w geometry.World) *Engine {
	return &Engine{world: w}
}

// Resolve tests self against every food and every other player in store.
// Result.Radius is self's radius after applying all food and prey hits in
// that order. The store is not modified.
func (e *Engine) Resolve(self entity.Player, store *entity.Store) Result {
	res := Result{Radius: self.Radius}
	pos := self.Position()

	store.ForEachFood(func(f entity.Food) bool {
		if EatsFood(e.world, pos, self.Radius, f) {
			res.Food = append(res.Food, f)
		}
		return true
	})
	for _, f := range res.Food {
		res.Radius = GrowByFood(res.Radius, f.Radius)
	}

	store.ForEachPlayer(func(other entity.Player) bool {
		if other.ID == self.ID {
			return true
		}
		dist := e.world.Distance(pos, other.Position())
		switch {
		case CanConsume(self.Radius, other.Radius, dist):
			res.Prey = append(res.Prey, other)
		case res.ConsumedBy == "" && CanConsume(other.Radius, self.Radius, dist):
			res.ConsumedBy = other.ID
		}
		return true
	})
	for _, p := range res.Prey {
		res.Radius = GrowByPlayer(res.Radius, p.Radius)
	}
	return res
}

// Package interp smooths remote players for display. Shadows are never fed
// back into a store.
package interp

import (
	"math"
	"sort"

	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/geometry"
)

// Smoothing is the per-tick blend factor at dt == 1.
const Smoothing = 0.1

// Shadow is the render copy of one remote player.
type Shadow struct {
	ID     string
	Name   string
	X, Y   float64
	Radius float64
	Color  string
}

func (s Shadow) Position() geometry.Vec2 { return geometry.Vec2{X: s.X, Y: s.Y} }

func shadowOf(p entity.Player) Shadow {
	return Shadow{ID: p.ID, Name: p.Name, X: p.X, Y: p.Y, Radius: p.Radius, Color: p.Color}
}

type Cache struct {
	world   geometry.World
	shadows map[string]*Shadow
	seen    map[string]struct{}
}

func New(w geometry.World) *Cache {
	return &Cache{
		world:   w,
		shadows: make(map[string]*Shadow),
		seen:    make(map[string]struct{}),
	}
}

// Update blends every remote player toward its authoritative state and purges
// shadows for ids no longer present. selfID is skipped.
func (c *Cache) Update(players []entity.Player, selfID string, dt float64) {
	clear(c.seen)
	k := math.Min(1, Smoothing*dt)
	if !(k > 0) {
		k = 0
	}

	for _, p := range players {
		if p.ID == selfID {
			continue
		}
		c.seen[p.ID] = struct{}{}

		sh, ok := c.shadows[p.ID]
		if !ok {
			s := shadowOf(p)
			c.shadows[p.ID] = &s
			continue
		}
		from, to := sh.Position(), p.Position()
		if c.world.Distance(from, to) > c.world.Size/2 || c.world.CrossedSeam(from, to) {
			*sh = shadowOf(p)
			continue
		}
		sh.X += (p.X - sh.X) * k
		sh.Y += (p.Y - sh.Y) * k
		sh.Radius += (p.Radius - sh.Radius) * k
		sh.Color = p.Color
		sh.Name = p.Name
	}

	for id := range c.shadows {
		if _, ok := c.seen[id]; !ok {
			delete(c.shadows, id)
		}
	}
}

func (c *Cache) Get(id string) (Shadow, bool) {
	sh, ok := c.shadows[id]
	if !ok {
		return Shadow{}, false
	}
	return *sh, true
}

func (c *Cache) Len() int { return len(c.shadows) }

// Shadows returns copies ordered by id.
func (c *Cache) Shadows() []Shadow {
	out := make([]Shadow, 0, len(c.shadows))
	for _, sh := range c.shadows {
		out = append(out, *sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

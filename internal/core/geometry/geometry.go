// Package geometry implements arithmetic on the toroidal arena plane. Both
// axes wrap modulo Size, so the largest true separation along an axis is
// Size/2.
package geometry

import "math"

// DefaultSize is the side length of the arena.
const DefaultSize = 3000.0

type Vec2 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }
func (v Vec2) Equal(o Vec2) bool    { return v.X == o.X && v.Y == o.Y }
func (v Vec2) IsFinite() bool       { return isFinite(v.X) && isFinite(v.Y) }

// Normalize returns the unit vector of v, or the zero vector when v is zero.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

type World struct {
	Size float64
}

func New(size float64) World {
	if size <= 0 || !isFinite(size) {
		size = DefaultSize
	}
	return World{Size: size}
}

func (w World) size() float64 {
	if w.Size <= 0 {
		return DefaultSize
	}
	return w.Size
}

// Wrap maps v into [0, Size).
func (w World) Wrap(v float64) float64 {
	s := w.size()
	r := math.Mod(math.Mod(v, s)+s, s)
	// math.Mod of a tiny negative value can round up to s
	if r >= s {
		r = 0
	}
	return r
}

func (w World) WrapPoint(p Vec2) Vec2 {
	return Vec2{w.Wrap(p.X), w.Wrap(p.Y)}
}

// Delta is the shortest signed path from a to b on the circle.
func (w World) Delta(a, b float64) float64 {
	s := w.size()
	raw := b - a
	if raw > s/2 {
		raw -= s
	}
	if raw < -s/2 {
		raw += s
	}
	return raw
}

func (w World) DeltaPoint(p, q Vec2) Vec2 {
	return Vec2{w.Delta(p.X, q.X), w.Delta(p.Y, q.Y)}
}

func (w World) Distance(p, q Vec2) float64 {
	return math.Hypot(w.Delta(p.X, q.X), w.Delta(p.Y, q.Y))
}

// CrossedSeam reports whether the unwrapped separation between p and q is
// longer than half the world, which happens when an entity moved across the
// wrap seam rather than travelling that far.
func (w World) CrossedSeam(p, q Vec2) bool {
	return math.Hypot(q.X-p.X, q.Y-p.Y) > w.size()/2
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

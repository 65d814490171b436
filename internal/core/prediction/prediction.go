// Package prediction integrates local input into the one entity a client owns.
package prediction

import (
	"math"
	"time"

	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/geometry"
)

const (
	// DeadZone is the input magnitude below which the entity holds still.
	DeadZone = 5.0
	MinSpeed = 2.0
	// BaseFrame is the tick length at which dt equals 1.
	BaseFrame = time.Second / 60
)

// Input is a pointer offset from the viewport centre.
type Input struct {
	X      float64
	Y      float64
	Active bool
}

func (in Input) Vec() geometry.Vec2 { return geometry.Vec2{X: in.X, Y: in.Y} }

// Speed is the per-tick distance travelled at radius r.
func Speed(r float64) float64 {
	return math.Max(MinSpeed, 25*math.Pow(r, -0.4))
}

// DeltaFactor converts an elapsed duration into the dt the loop expects.
func DeltaFactor(elapsed time.Duration) float64 {
	return float64(elapsed) / float64(BaseFrame)
}

// Loop owns the locally predicted player. It is the only writer of that
// player's position.
type Loop struct {
	world geometry.World
	self  entity.Player
}

func New(w geometry.World, self entity.Player) *Loop {
	self.SetPosition(w.WrapPoint(self.Position()))
	return &Loop{world: w, self: self}
}

func (l *Loop) Self() entity.Player { return l.self }

// Step advances the entity by one tick. It returns true when the entity moved.
func (l *Loop) Step(in Input, dt float64) bool {
	v := in.Vec()
	if !in.Active || v.Len() <= DeadZone || !v.IsFinite() || !(dt > 0) {
		return false
	}
	move := v.Normalize().Scale(Speed(l.self.Radius) * dt)
	l.self.SetPosition(l.world.WrapPoint(l.self.Position().Add(move)))
	return true
}

// Grow raises the radius. Smaller values are ignored.
func (l *Loop) Grow(r float64) {
	if r > l.self.Radius {
		l.self.Radius = r
	}
}

// Reset replaces the owned entity, used when the player rejoins fresh.
func (l *Loop) Reset(self entity.Player) {
	self.SetPosition(l.world.WrapPoint(self.Position()))
	l.self = self
}

// Camera tracks the zoom a renderer should use around the local entity.
type Camera struct {
	Scale float64
}

func NewCamera() *Camera { return &Camera{Scale: 1} }

// TargetScale is clamp(50/r, 0.15, 1.2).
func TargetScale(r float64) float64 {
	if r <= 0 {
		return 1.2
	}
	return math.Min(1.2, math.Max(0.15, 50/r))
}

// Follow eases the scale toward the target for radius r.
func (c *Camera) Follow(r, dt float64) {
	k := math.Min(1, 0.1*dt)
	c.Scale += (TargetScale(r) - c.Scale) * k
}

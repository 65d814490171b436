package client

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/zeusync/blobarena/internal/core/prediction"
)

// Wanderer steers a headless player along a heading that drifts by a random
// turn every few steps.
type Wanderer struct {
	rng       *rand.Rand
	heading   float64
	reach     float64
	turnEvery int
	steps     int
}

func NewWanderer(seed uint64) *Wanderer {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &Wanderer{
		rng:       rng,
		heading:   rng.Float64() * 2 * math.Pi,
		reach:     100,
		turnEvery: 20,
	}
}

func (w *Wanderer) Heading() float64 { return w.heading }

func (w *Wanderer) Next() prediction.Input {
	w.steps++
	if w.steps%w.turnEvery == 0 {
		w.heading += (w.rng.Float64() - 0.5) * math.Pi / 2
	}
	return prediction.Input{
		X:      math.Cos(w.heading) * w.reach,
		Y:      math.Sin(w.heading) * w.reach,
		Active: true,
	}
}

// Drive feeds the wanderer's input into c every interval until ctx ends.
func (w *Wanderer) Drive(ctx context.Context, c *Client, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.SetInput(w.Next())
		}
	}
}

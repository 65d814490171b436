package collision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/geometry"
)

func TestGrowByFood(t *testing.T) {
	got := GrowByFood(20, 8)
	want := math.Sqrt((math.Pi*400 + 0.5*math.Pi*64) / math.Pi)
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, 20.78, got, 0.01)

	for _, rf := range []float64{0.001, 6, 9.99} {
		assert.Greater(t, GrowByFood(20, rf), 20.0)
	}
}

func TestGrowByPlayer(t *testing.T) {
	assert.InDelta(t, math.Sqrt(30*30+10*10), GrowByPlayer(30, 10), 1e-9)
}

func TestCanConsumeIsAsymmetric(t *testing.T) {
	assert.True(t, CanConsume(30, 10, 15))
	assert.False(t, CanConsume(10, 30, 15))

	cases := []struct {
		name         string
		pred, prey   float64
		dist         float64
		wantConsumed bool
	}{
		{"exactly 1.1x is not enough", 11, 10, 0, false},
		{"just over 1.1x, deep overlap", 11.01, 10, 0, true},
		{"too far", 30, 10, 27, false},
		{"just inside", 30, 10, 26.99, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.wantConsumed, CanConsume(c.pred, c.prey, c.dist))
		})
	}
}

func TestEatsFoodAcrossSeam(t *testing.T) {
	w := geometry.New(3000)
	f := entity.Food{ID: "f", X: 2995, Y: 10, Radius: 8}
	assert.True(t, EatsFood(w, geometry.Vec2{X: 5, Y: 10}, 20, f))
	assert.False(t, EatsFood(w, geometry.Vec2{X: 100, Y: 10}, 20, f))
}

func TestResolve(t *testing.T) {
	w := geometry.New(3000)
	store := entity.NewStore("test")
	self := entity.Player{ID: "me", X: 100, Y: 100, Radius: 30}
	store.UpsertPlayer(self)
	store.UpsertFood(entity.Food{ID: "near", X: 110, Y: 100, Radius: 8})
	store.UpsertFood(entity.Food{ID: "far", X: 900, Y: 900, Radius: 8})
	store.UpsertPlayer(entity.Player{ID: "small", X: 115, Y: 100, Radius: 10})
	store.UpsertPlayer(entity.Player{ID: "equal", X: 90, Y: 100, Radius: 30})

	res := New(w).Resolve(self, store)
	require.Len(t, res.Food, 1)
	assert.Equal(t, "near", res.Food[0].ID)
	require.Len(t, res.Prey, 1)
	assert.Equal(t, "small", res.Prey[0].ID)
	assert.Empty(t, res.ConsumedBy)

	want := GrowByPlayer(GrowByFood(30, 8), 10)
	assert.InDelta(t, want, res.Radius, 1e-9)

	_, stillThere := store.Food("near")
	assert.True(t, stillThere, "resolve must not mutate the store")
}

func TestResolveDetectsBeingConsumed(t *testing.T) {
	w := geometry.New(3000)
	store := entity.NewStore("test")
	self := entity.Player{ID: "me", X: 2995, Y: 0, Radius: 10}
	store.UpsertPlayer(entity.Player{ID: "big", X: 5, Y: 0, Radius: 40})

	res := New(w).Resolve(self, store)
	assert.Equal(t, "big", res.ConsumedBy)
	assert.Empty(t, res.Prey)
}

package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blobarena/internal/core/entity"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newMerger(self string) (*Merger, *clock) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	store := entity.NewStore("client", entity.WithClock(c.Now))
	return NewMerger(store, self), c
}

func pl(id string, x float64) entity.Player {
	return entity.Player{ID: id, X: x, Y: 1, Radius: 20, Color: "c"}
}

func fd(id string) entity.Food {
	return entity.Food{ID: id, X: 1, Y: 1, Radius: 7}
}

func TestSnapshotReplacesMirrorsButKeepsSelf(t *testing.T) {
	m, _ := newMerger("me")
	s := m.Store()
	s.UpsertPlayer(pl("me", 42))
	s.UpsertPlayer(pl("stale", 1))
	s.UpsertFood(fd("old"))

	require.NoError(t, m.Apply(&StateSnapshot{
		Players: []entity.Player{pl("a", 10), pl("me", 999)},
		Food:    []entity.Food{fd("f1")},
	}))

	assert.Equal(t, []string{"a", "me"}, s.PlayerIDs())
	me, _ := s.Player("me")
	assert.Equal(t, 42.0, me.X, "self is never overwritten by the network")
	_, ok := s.Food("old")
	assert.False(t, ok)
	assert.Equal(t, 1, s.FoodCount())

	require.NoError(t, m.Apply(&StateSnapshot{Players: []entity.Player{}, Food: []entity.Food{}}))
	assert.Equal(t, []string{"me"}, s.PlayerIDs())
}

func TestSnapshotIsIdempotent(t *testing.T) {
	m, _ := newMerger("me")
	snap := &StateSnapshot{Players: []entity.Player{pl("a", 1)}, Food: []entity.Food{fd("f")}}
	require.NoError(t, m.Apply(snap))
	first := m.Store().Players()
	require.NoError(t, m.Apply(snap))
	assert.Equal(t, first, m.Store().Players())
	assert.Equal(t, 1, m.Store().FoodCount())
}

func TestWorldUpdateOmittingSelfKeepsSelf(t *testing.T) {
	m, _ := newMerger("me")
	m.Store().UpsertPlayer(pl("me", 5))
	m.Store().UpsertPlayer(pl("gone", 5))

	require.NoError(t, m.Apply(&PeriodicWorldUpdate{Players: []entity.Player{pl("a", 3)}}))
	assert.Equal(t, []string{"a", "me"}, m.Store().PlayerIDs())
}

func TestPlayerRemovedNeverRemovesSelf(t *testing.T) {
	m, _ := newMerger("me")
	m.Store().UpsertPlayer(pl("me", 5))
	require.NoError(t, m.Apply(&PlayerRemoved{ID: "me"}))
	_, ok := m.Store().Player("me")
	assert.True(t, ok)
}

func TestRemovedThenStaleSnapshotConverges(t *testing.T) {
	m, clk := newMerger("me")
	snap := &StateSnapshot{Players: []entity.Player{pl("a", 1)}, Food: []entity.Food{fd("f")}}

	require.NoError(t, m.Apply(snap))
	require.NoError(t, m.Apply(&PlayerRemoved{ID: "ghost"}))
	require.NoError(t, m.Apply(&PlayerRemoved{ID: "a"}))
	require.NoError(t, m.Apply(&FoodRemoved{ID: "f"}))

	clk.now = clk.now.Add(500 * time.Millisecond)
	require.NoError(t, m.Apply(snap))
	require.NoError(t, m.Apply(&StateSnapshot{Players: []entity.Player{pl("ghost", 1)}, Food: []entity.Food{}}))

	_, ok := m.Store().Player("a")
	assert.False(t, ok, "stale duplicate snapshot must not resurrect a removed id")
	_, ok = m.Store().Player("ghost")
	assert.False(t, ok)
	assert.Zero(t, m.Store().FoodCount())
}

func TestAddedRemovedEitherOrder(t *testing.T) {
	added := &FoodAdded{Food: &entity.Food{ID: "f", X: 1, Y: 1, Radius: 7}}
	removed := &FoodRemoved{ID: "f"}

	for name, order := range map[string][]Message{
		"added first":   {added, removed},
		"removed first": {removed, added},
	} {
		t.Run(name, func(t *testing.T) {
			m, _ := newMerger("me")
			for _, msg := range order {
				require.NoError(t, m.Apply(msg))
			}
			_, ok := m.Store().Food("f")
			assert.False(t, ok)
		})
	}
}

func TestTombstoneExpires(t *testing.T) {
	m, clk := newMerger("me")
	require.NoError(t, m.Apply(&PlayerRemoved{ID: "a"}))
	clk.now = clk.now.Add(entity.DefaultTombstoneWindow)

	require.NoError(t, m.Apply(&PeriodicWorldUpdate{Players: []entity.Player{pl("a", 1)}}))
	_, ok := m.Store().Player("a")
	assert.True(t, ok, "a rejoin outside the window is accepted")
}

func TestPositionUpdateOnlyTouchesKnownOthers(t *testing.T) {
	m, _ := newMerger("me")
	m.Store().UpsertPlayer(pl("me", 5))
	m.Store().UpsertPlayer(pl("a", 5))

	require.NoError(t, m.Apply(&PositionUpdate{ID: "a", X: 7, Y: 8, Radius: 22}))
	require.NoError(t, m.Apply(&PositionUpdate{ID: "me", X: 100, Y: 100, Radius: 30}))
	require.NoError(t, m.Apply(&PositionUpdate{ID: "nobody", X: 1, Y: 1, Radius: 30}))

	a, _ := m.Store().Player("a")
	assert.Equal(t, 7.0, a.X)
	assert.Equal(t, 22.0, a.Radius)
	me, _ := m.Store().Player("me")
	assert.Equal(t, 5.0, me.X)
	assert.Equal(t, 2, m.Store().PlayerCount())
}

func TestMalformedLeavesStateUntouched(t *testing.T) {
	m, _ := newMerger("me")
	m.Store().UpsertPlayer(pl("a", 1))
	m.Store().UpsertFood(fd("f"))

	bad := []Message{
		nil,
		&StateSnapshot{Players: nil, Food: []entity.Food{}},
		&StateSnapshot{Players: []entity.Player{pl("b", 1), {ID: ""}}, Food: []entity.Food{}},
		&PeriodicWorldUpdate{},
		&FoodAdded{},
	}
	for _, msg := range bad {
		assert.ErrorIs(t, m.Apply(msg), ErrMalformed)
	}
	assert.Equal(t, []string{"a"}, m.Store().PlayerIDs())
	assert.Equal(t, 1, m.Store().FoodCount())
}

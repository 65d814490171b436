package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/storage"
)

func player(id string) entity.Player {
	return entity.Player{ID: id, X: 1, Y: 1, Radius: 20}
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	s := New(4)

	rec := storage.PlayerRecord("peer-a", player("a"))
	require.NoError(t, s.Create(ctx, rec.Key(), rec))
	assert.ErrorIs(t, s.Create(ctx, rec.Key(), rec), storage.ErrExists)

	got, err := s.Read(ctx, storage.PlayerKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "peer-a", got.Owner)
	assert.Equal(t, "a", got.Player.ID)

	_, err = s.Read(ctx, storage.PlayerKey("missing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Delete(ctx, rec.Key()))
	require.NoError(t, s.Delete(ctx, rec.Key()), "absent delete is a no-op")
	assert.Zero(t, s.Statistics().Keys)
}

func TestKeyMustMatchRecord(t *testing.T) {
	s := New(1)
	rec := storage.FoodRecord(entity.Food{ID: "f", Radius: 7})
	assert.ErrorIs(t, s.Update(context.Background(), storage.FoodKey("other"), rec), storage.ErrBadRecord)
	assert.ErrorIs(t, s.Create(context.Background(), "", storage.Record{}), storage.ErrBadRecord)
}

func TestOwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	s := New(4)
	key := storage.PlayerKey("a")

	require.NoError(t, s.Update(ctx, key, storage.PlayerRecord("peer-a", player("a"))))

	moved := player("a")
	moved.X = 99
	assert.ErrorIs(t, s.Update(ctx, key, storage.PlayerRecord("peer-b", moved)), storage.ErrNotOwner)

	got, _ := s.Read(ctx, key)
	assert.Equal(t, 1.0, got.Player.X)
	assert.Equal(t, uint64(1), s.Statistics().Rejected)

	require.NoError(t, s.Update(ctx, key, storage.PlayerRecord("peer-a", moved)))
	got, _ = s.Read(ctx, key)
	assert.Equal(t, 99.0, got.Player.X)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	s := New(8)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		require.NoError(t, s.Update(ctx, storage.PlayerKey(id), storage.PlayerRecord("peer-a", player(id))))
	}
	require.NoError(t, s.Update(ctx, storage.PlayerKey("b"), storage.PlayerRecord("peer-b", player("b"))))
	require.NoError(t, s.Update(ctx, storage.FoodKey("f"), storage.FoodRecord(entity.Food{ID: "f", Radius: 7})))

	n, err := s.Release(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	players, err := s.List(ctx, storage.PlayersPrefix)
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "b", players[0].Player.ID)

	n, err = s.Release(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, n, "unowned food is never released")
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	s := New(4)
	values := map[string]storage.Record{}
	for i := 0; i < 10; i++ {
		rec := storage.FoodRecord(entity.Food{ID: fmt.Sprintf("f%d", i), Radius: 7})
		values[rec.Key()] = rec
	}
	require.NoError(t, s.BatchCreate(ctx, values))
	require.NoError(t, s.BatchCreate(ctx, values), "existing keys are skipped")

	got, err := s.BatchRead(ctx, []string{storage.FoodKey("f1"), storage.FoodKey("nope")})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.BatchDelete(ctx, []string{storage.FoodKey("f1"), storage.FoodKey("f2")}))
	food, err := s.List(ctx, storage.FoodPrefix)
	require.NoError(t, err)
	assert.Len(t, food, 8)
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	s := New(2)
	var mu sync.Mutex
	var got []entity.Change
	cancel, err := s.Watch(func(c entity.Change) error {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, storage.PlayerKey("a"), storage.PlayerRecord("p", player("a"))))
	require.NoError(t, s.Update(ctx, storage.PlayerKey("a"), storage.PlayerRecord("p", player("a"))))
	require.NoError(t, s.Delete(ctx, storage.PlayerKey("a")))
	cancel()
	require.NoError(t, s.Create(ctx, storage.FoodKey("f"), storage.FoodRecord(entity.Food{ID: "f", Radius: 6})))

	require.Len(t, got, 3)
	assert.Equal(t, []entity.Op{entity.OpAdded, entity.OpChanged, entity.OpRemoved},
		[]entity.Op{got[0].Op, got[1].Op, got[2].Op})
	assert.Equal(t, entity.KindPlayer, got[0].Kind)
	assert.Equal(t, "a", got[2].ID)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rec := storage.FoodRecord(entity.Food{ID: fmt.Sprintf("w%d-%d", w, i), Radius: 7})
				_ = s.Update(ctx, rec.Key(), rec)
			}
		}(w)
	}
	wg.Wait()
	st := s.Statistics()
	assert.Equal(t, 800, st.Keys)
	assert.Equal(t, defaultShards, st.Shards)
}

func TestClosed(t *testing.T) {
	s := New(1)
	require.NoError(t, s.Close())
	_, err := s.List(context.Background(), "")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

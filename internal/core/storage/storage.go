// Package storage defines the key-value store peers share in the leaderless
// topology. Keys are "players/<id>" and "food/<id>".
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/zeusync/blobarena/internal/core/entity"
)

const (
	PlayersPrefix = "players/"
	FoodPrefix    = "food/"
)

var (
	ErrNotFound  = errors.New("storage: key not found")
	ErrExists    = errors.New("storage: key already exists")
	ErrNotOwner  = errors.New("storage: key owned by another writer")
	ErrBadRecord = errors.New("storage: record does not match key")
	ErrClosed    = errors.New("storage: closed")
)

// Record is one stored entity. Owner is empty for food.
type Record struct {
	Owner  string
	Player *entity.Player
	Food   *entity.Food
}

func PlayerRecord(owner string, p entity.Player) Record {
	return Record{Owner: owner, Player: &p}
}

func FoodRecord(f entity.Food) Record {
	return Record{Food: &f}
}

// Key derives the record's key from its entity.
func (r Record) Key() string {
	switch {
	case r.Player != nil:
		return PlayerKey(r.Player.ID)
	case r.Food != nil:
		return FoodKey(r.Food.ID)
	default:
		return ""
	}
}

func PlayerKey(id string) string { return PlayersPrefix + id }
func FoodKey(id string) string   { return FoodPrefix + id }

// ParseKey splits a key into its entity kind and id.
func ParseKey(key string) (entity.Kind, string, bool) {
	switch {
	case strings.HasPrefix(key, PlayersPrefix):
		return entity.KindPlayer, key[len(PlayersPrefix):], true
	case strings.HasPrefix(key, FoodPrefix):
		return entity.KindFood, key[len(FoodPrefix):], true
	default:
		return 0, "", false
	}
}

type Storage interface {
	Create(ctx context.Context, key string, rec Record) error
	Read(ctx context.Context, key string) (Record, error)
	// Update upserts rec. A key owned by someone else rejects with
	// ErrNotOwner and is left unchanged.
	Update(ctx context.Context, key string, rec Record) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Statistics() Statistics
}

type BatchedStorage interface {
	Storage

	BatchCreate(ctx context.Context, values map[string]Record) error
	BatchRead(ctx context.Context, keys []string) (map[string]Record, error)
	BatchDelete(ctx context.Context, keys []string) error
}

// Shared is what every peer reads and writes. Watch delivers an
// entity.Change for each mutation, in the order the store applied them.
type Shared interface {
	BatchedStorage

	List(ctx context.Context, prefix string) ([]Record, error)
	// Release deletes every key held by owner, as when its connection drops.
	Release(ctx context.Context, owner string) (int, error)
	Watch(fn func(entity.Change) error) (cancel func(), err error)
}

type Statistics struct {
	Keys     int
	Shards   int
	Writes   uint64
	Rejected uint64
}

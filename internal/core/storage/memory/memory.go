// Package memory is an in-process storage.Shared sharded by key hash.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/events/bus"
	"github.com/zeusync/blobarena/internal/core/storage"
)

const (
	defaultShards = 16
	topic         = "storage.shared"
	source        = "shared"
)

var _ storage.Shared = (*Store)(nil)

type shard struct {
	mu   sync.RWMutex
	data map[string]storage.Record
}

// Store keeps records in hash shards. Change events are published while the
// owning shard is still locked, so watchers see per-key order.
type Store struct {
	shards []shard
	events bus.EventBus
	closed atomic.Bool

	writes   atomic.Uint64
	rejected atomic.Uint64
}

func New(shards int) *Store {
	if shards <= 0 {
		shards = defaultShards
	}
	s := &Store{
		shards: make([]shard, shards),
		events: bus.New(),
	}
	for i := range s.shards {
		s.shards[i].data = make(map[string]storage.Record)
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return ctx.Err()
}

func validKey(key string, rec storage.Record) error {
	if key == "" || rec.Key() != key {
		return storage.ErrBadRecord
	}
	return nil
}

func (s *Store) Create(ctx context.Context, key string, rec storage.Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := validKey(key, rec); err != nil {
		return err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.data[key]; ok {
		return storage.ErrExists
	}
	sh.data[key] = rec
	s.writes.Add(1)
	s.publish(entity.OpAdded, rec)
	return nil
}

func (s *Store) Read(ctx context.Context, key string) (storage.Record, error) {
	if err := s.check(ctx); err != nil {
		return storage.Record{}, err
	}
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.data[key]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, key string, rec storage.Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := validKey(key, rec); err != nil {
		return err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, existed := sh.data[key]
	if existed && prev.Owner != "" && prev.Owner != rec.Owner {
		s.rejected.Add(1)
		return storage.ErrNotOwner
	}
	sh.data[key] = rec
	s.writes.Add(1)
	if existed {
		s.publish(entity.OpChanged, rec)
	} else {
		s.publish(entity.OpAdded, rec)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s.deleteLocked(sh, key)
	return nil
}

func (s *Store) deleteLocked(sh *shard, key string) {
	rec, ok := sh.data[key]
	if !ok {
		return
	}
	delete(sh.data, key)
	s.writes.Add(1)
	s.publish(entity.OpRemoved, rec)
}

// BatchCreate inserts every record whose key is free. Existing keys are
// skipped, not overwritten.
func (s *Store) BatchCreate(ctx context.Context, values map[string]storage.Record) error {
	for key, rec := range values {
		if err := s.Create(ctx, key, rec); err != nil && err != storage.ErrExists {
			return err
		}
	}
	return nil
}

func (s *Store) BatchRead(ctx context.Context, keys []string) (map[string]storage.Record, error) {
	out := make(map[string]storage.Record, len(keys))
	for _, key := range keys {
		rec, err := s.Read(ctx, key)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = rec
	}
	return out, nil
}

func (s *Store) BatchDelete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// List returns records whose key starts with prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []storage.Record
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key, rec := range sh.data {
			if strings.HasPrefix(key, prefix) {
				out = append(out, rec)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Store) Release(ctx context.Context, owner string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	if owner == "" {
		return 0, nil
	}
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, rec := range sh.data {
			if rec.Owner == owner {
				s.deleteLocked(sh, key)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n, nil
}

// Watch subscribes fn to every change. fn runs on the writer's goroutine
// and must not write back to the store.
func (s *Store) Watch(fn func(entity.Change) error) (func(), error) {
	return entity.Subscribe(s.events, topic, fn)
}

func (s *Store) Statistics() storage.Statistics {
	keys := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		keys += len(sh.data)
		sh.mu.RUnlock()
	}
	return storage.Statistics{
		Keys:     keys,
		Shards:   len(s.shards),
		Writes:   s.writes.Load(),
		Rejected: s.rejected.Load(),
	}
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) publish(op entity.Op, rec storage.Record) {
	c := entity.Change{Op: op, Origin: source, At: time.Now()}
	switch {
	case rec.Player != nil:
		c.Kind, c.ID, c.Player = entity.KindPlayer, rec.Player.ID, *rec.Player
	case rec.Food != nil:
		c.Kind, c.ID, c.Food = entity.KindFood, rec.Food.ID, *rec.Food
	}
	_ = s.events.PublishToTopic(topic, c)
}

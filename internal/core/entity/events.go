package entity

import (
	"time"

	"github.com/zeusync/blobarena/internal/core/events/bus"
)

type Kind uint8

const (
	KindPlayer Kind = iota + 1
	KindFood
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindFood:
		return "food"
	default:
		return "unknown"
	}
}

type Op uint8

const (
	OpAdded Op = iota + 1
	OpChanged
	OpRemoved
)

func (o Op) String() string {
	switch o {
	case OpAdded:
		return "added"
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event type names published on a store's bus topic.
const (
	EventAdded   = "entity.added"
	EventChanged = "entity.changed"
	EventRemoved = "entity.removed"
)

// Change is the typed event a Store dispatches for every mutation. It
// satisfies bus.Event so it travels over the shared event bus unchanged.
type Change struct {
	Kind   Kind
	Op     Op
	ID     string
	Player Player
	Food   Food
	Origin string
	At     time.Time
}

var _ bus.Event = Change{}

func (c Change) Type() string {
	switch c.Op {
	case OpAdded:
		return EventAdded
	case OpChanged:
		return EventChanged
	default:
		return EventRemoved
	}
}

func (c Change) Source() string       { return c.Origin }
func (c Change) Timestamp() time.Time { return c.At }
func (c Change) Data() any            { return c }

// Subscribe registers fn for every Added/Changed/Removed event on topic.
// The returned cancel func removes all three subscriptions.
func Subscribe(b bus.EventBus, topic string, fn func(Change) error) (cancel func(), err error) {
	var subs []bus.Subscription
	cancel = func() {
		for _, s := range subs {
			_ = s.Cancel()
		}
	}
	handler := func(e bus.Event) error {
		if c, ok := e.Data().(Change); ok {
			return fn(c)
		}
		return nil
	}
	for _, typ := range []string{EventAdded, EventChanged, EventRemoved} {
		sub, err := b.SubscribeTopic(topic, typ, handler)
		if err != nil {
			cancel()
			return nil, err
		}
		subs = append(subs, sub)
	}
	return cancel, nil
}

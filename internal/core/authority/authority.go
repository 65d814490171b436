// Package authority owns global mutations of the arena: joins, movement
// validation, consumption and food upkeep. Central runs everything in one
// process; Peer is the leaderless alternative where the peer with the
// smallest id tends the food.
package authority

import (
	"context"
	"errors"

	"github.com/zeusync/blobarena/internal/core/protocol"
)

var (
	ErrEmptyID       = errors.New("authority: empty player id")
	ErrNotOwner      = errors.New("authority: session does not own player")
	ErrUnknownPlayer = errors.New("authority: unknown player")
	ErrNotAllowed    = errors.New("authority: consumption rule not met")
)

// IsDrop reports whether err is an expected rejection that callers should
// drop quietly instead of surfacing.
func IsDrop(err error) bool {
	return errors.Is(err, ErrNotOwner) || errors.Is(err, ErrUnknownPlayer) ||
		errors.Is(err, ErrNotAllowed) || errors.Is(err, ErrEmptyID)
}

// Coordinator is the contract both topologies implement. session names the
// connection (central) or the peer (leaderless) issuing the intent.
type Coordinator interface {
	Join(ctx context.Context, session string, j *protocol.Join) error
	UpdatePosition(ctx context.Context, session string, u *protocol.PositionUpdate) error
	ConsumeFood(ctx context.Context, session, foodID string) error
	ConsumePlayer(ctx context.Context, session, preyID string) error
	Leave(ctx context.Context, session, playerID string) error
	Disconnect(ctx context.Context, session string) error
	Upkeep(ctx context.Context) error
}

// Outbox delivers messages to sessions. Implementations must not block.
type Outbox interface {
	Send(session string, msg protocol.Message)
	Broadcast(msg protocol.Message, except ...string)
}

// Elect returns the lexicographically smallest id, or "" for none. Every
// peer computes it from its own view; there is no agreement step.
func Elect(ids []string) string {
	var min string
	for i, id := range ids {
		if i == 0 || id < min {
			min = id
		}
	}
	return min
}

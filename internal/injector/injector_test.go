package injector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/authority"
	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/storage/memory"
)

func TestInitializeApp(t *testing.T) {
	cfg := config.Default()
	cfg.World.TargetFood = 7
	app := InitializeApp(cfg)
	require.NotNil(t, app)
	require.NotNil(t, app.Server)

	h := app.Server.Health()
	assert.Equal(t, 7, h.Food)
	assert.Zero(t, h.Players)
	assert.Len(t, h.Jobs, 3)
}

func TestProvidePeerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.World.PeerTargetFood = 12
	cfg.World.Size = 500

	opts := ProvidePeerOptions(cfg)
	assert.Equal(t, 12, opts.TargetFood)
	assert.Equal(t, 500.0, opts.World.Size)

	shared := memory.New(4)
	defer shared.Close()
	peer, err := authority.NewPeer(context.Background(), "peer-a", shared, log.NewNop(), opts)
	require.NoError(t, err)
	defer peer.Close()
	assert.False(t, peer.IsHost())

	self := entity.NewPlayer("peer-a", "a", opts.World)
	require.NoError(t, peer.Join(context.Background(), "peer-a", protocol.JoinOf(self)))
	assert.True(t, peer.IsHost())
}

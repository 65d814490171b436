package client

import (
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/entity"
	"github.com/zeusync/blobarena/internal/core/geometry"
	"github.com/zeusync/blobarena/internal/core/protocol"
	"github.com/zeusync/blobarena/internal/core/protocol/transport"
)

// Config holds everything a Client needs to join an arena.
type Config struct {
	// URL is a ws:// URL for websocket or host:port for quic.
	URL     string
	Network string
	Codec   protocol.CodecID

	// PlayerID defaults to a fresh entity.NewPlayerID.
	PlayerID string
	Name     string
	World    geometry.World

	TickRate      int
	PositionEvery uint64
	RenderEvery   uint64
	LeaderboardN  int

	MailboxSize int
	OutboxSize  int

	ReconnectMin time.Duration
	ReconnectMax time.Duration
	InsecureTLS  bool

	CompressAbove   int
	TombstoneWindow time.Duration
	Conn            transport.Options
}

func DefaultConfig() Config {
	return Config{
		URL:             "ws://localhost:3000/ws",
		Network:         transport.KindWebSocket,
		Codec:           protocol.CodecMsgpack,
		Name:            "blob",
		World:           geometry.New(geometry.DefaultSize),
		TickRate:        60,
		PositionEvery:   3,
		RenderEvery:     10,
		LeaderboardN:    10,
		MailboxSize:     256,
		OutboxSize:      64,
		ReconnectMin:    250 * time.Millisecond,
		ReconnectMax:    5 * time.Second,
		InsecureTLS:     true,
		CompressAbove:   protocol.DefaultCompressAbove,
		TombstoneWindow: entity.DefaultTombstoneWindow,
		Conn:            transport.DefaultOptions(),
	}
}

// FromConfig maps the shared application config onto a client Config.
func FromConfig(cfg *config.Config) (Config, error) {
	c := DefaultConfig()
	codec, err := protocol.ParseCodec(cfg.Client.Codec)
	if err != nil {
		return c, err
	}
	c.URL = cfg.Client.URL
	c.Network = cfg.Client.Transport
	c.Codec = codec
	c.Name = cfg.Client.Name
	c.World = geometry.New(cfg.World.Size)
	c.ReconnectMin = cfg.Client.ReconnectMin
	c.ReconnectMax = cfg.Client.ReconnectMax
	c.InsecureTLS = cfg.Client.InsecureTLS
	c.CompressAbove = cfg.Server.CompressAbove
	c.TombstoneWindow = cfg.World.TombstoneWindow
	c.Conn.MaxFrameSize = cfg.Server.MaxFrameSize
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Network != transport.KindWebSocket && c.Network != transport.KindQUIC:
		return errors.Wrapf(ErrInvalidConfig, "network %q", c.Network)
	case c.URL == "":
		return errors.Wrap(ErrInvalidConfig, "empty url")
	case c.TickRate <= 0:
		return errors.Wrap(ErrInvalidConfig, "tick rate must be positive")
	case c.PositionEvery == 0 || c.RenderEvery == 0:
		return errors.Wrap(ErrInvalidConfig, "throttles must be positive")
	case c.MailboxSize <= 0 || c.OutboxSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "queue sizes must be positive")
	case c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin:
		return errors.Wrap(ErrInvalidConfig, "bad reconnect backoff")
	}
	return nil
}

func (c Config) tickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

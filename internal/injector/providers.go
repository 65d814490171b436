package injector

import (
	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/authority"
	"github.com/zeusync/blobarena/internal/core/geometry"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/server"
)

// App is the assembled server process.
type App struct {
	Server *server.Server
	Log    log.Log
}

func ProvideApp(srv *server.Server, logger log.Log) *App {
	return &App{Server: srv, Log: logger}
}

func ProvideLogger(cfg *config.Config) log.Log {
	return log.New(log.ParseLevel(cfg.Log.Level))
}

func ProvideHub(cfg *config.Config, logger log.Log) *server.Hub {
	return server.NewHub(cfg.Server.CompressAbove, logger)
}

func ProvideCentralOptions(cfg *config.Config) authority.CentralOptions {
	opts := authority.DefaultCentralOptions()
	opts.World = geometry.New(cfg.World.Size)
	opts.TargetFood = cfg.World.TargetFood
	opts.SpawnBatch = cfg.World.SpawnBatch
	opts.PlayerTimeout = cfg.Server.PlayerTimeout
	return opts
}

// ProvidePeerOptions configures a leaderless peer from the same world
// settings. The server binary does not use it.
func ProvidePeerOptions(cfg *config.Config) authority.PeerOptions {
	opts := authority.DefaultPeerOptions()
	opts.World = geometry.New(cfg.World.Size)
	opts.TargetFood = cfg.World.PeerTargetFood
	opts.SpawnBatch = cfg.World.SpawnBatch
	return opts
}

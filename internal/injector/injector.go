//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/authority"
	"github.com/zeusync/blobarena/internal/core/broadcast"
	"github.com/zeusync/blobarena/internal/server"
)

var serverSet = wire.NewSet(
	ProvideLogger,
	ProvideHub,
	ProvideCentralOptions,
	authority.NewCentral,
	broadcast.New,
	server.New,
	ProvideApp,
	wire.Bind(new(authority.Outbox), new(*server.Hub)),
	wire.Bind(new(server.Authority), new(*authority.Central)),
)

func InitializeApp(cfg *config.Config) *App {
	wire.Build(serverSet)
	return nil
}

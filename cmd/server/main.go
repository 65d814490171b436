package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "dotenv file applied before BLOBARENA_* variables")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := injector.InitializeApp(cfg)
	defer func() { _ = app.Log.Sync() }()

	if err := app.Server.Run(ctx); err != nil {
		app.Log.Error("Server failed", log.Error(err))
		os.Exit(1)
	}
}

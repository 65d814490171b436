package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/blobarena/internal/config"
	"github.com/zeusync/blobarena/internal/core/observability/log"
	"github.com/zeusync/blobarena/internal/render/terminal"
	"github.com/zeusync/blobarena/sdk/go/client"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "dotenv file applied before BLOBARENA_* variables")
	headless := flag.Bool("headless", false, "run a wandering bot without a terminal UI")
	name := flag.String("name", "", "player name")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if *headless {
		cfg.Client.Headless = true
	}
	if *name != "" {
		cfg.Client.Name = *name
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	score, err := run(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Printf("Final score: %.1f\n", score)
}

func run(ctx context.Context, cfg *config.Config) (float64, error) {
	ccfg, err := client.FromConfig(cfg)
	if err != nil {
		return 0, err
	}

	if cfg.Client.Headless {
		logger := log.New(log.ParseLevel(cfg.Log.Level))
		defer func() { _ = logger.Sync() }()

		c, err := client.New(ccfg, client.WithLogger(logger))
		if err != nil {
			return 0, err
		}
		go client.NewWanderer(uint64(time.Now().UnixNano())).Drive(ctx, c, 500*time.Millisecond)
		return c.Run(ctx)
	}

	term, err := terminal.Open(ccfg.World)
	if err != nil {
		return 0, err
	}
	defer term.Close()

	// Log lines would tear the screen.
	c, err := client.New(ccfg, client.WithLogger(log.NewNop()), client.WithRenderer(term))
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var score float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		s, err := c.Run(gctx)
		score = s
		return err
	})
	g.Go(func() error {
		defer cancel()
		if err := term.Poll(gctx, c); err != nil && !errors.Is(err, terminal.ErrQuit) {
			return err
		}
		return nil
	})
	return score, g.Wait()
}

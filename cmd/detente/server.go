package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/detentegame/detente/cmd/detente/shared"
	"github.com/detentegame/detente/internal/lobby"
	"github.com/detentegame/detente/internal/server"
)

// ServerCmd contains core server configuration. Flags override the config
// file where both are set.
type ServerCmd struct {
	Addr                string `kong:"help='Server address (overrides config file)'"`
	Config              string `kong:"default='detente.hcl',help='Path to HCL config file'"`
	Debug               bool   `kong:"help='Enable debug logging'"`
	DisconnectTimeoutMs int    `kong:"help='Disconnect debounce window in milliseconds (overrides config file)'"`
}

func (c *ServerCmd) Run() error {
	cfg, err := server.LoadFileConfig(c.Config)
	if err != nil {
		return err
	}

	logger := shared.SetupLogger(c.Debug, cfg.Server.LogLevel)

	addr := cfg.Server.Address
	if c.Addr != "" {
		addr = c.Addr
	}

	timeout := lobby.DefaultDisconnectTimeout
	if cfg.Server.DisconnectTimeoutMs > 0 {
		timeout = time.Duration(cfg.Server.DisconnectTimeoutMs) * time.Millisecond
	}
	if c.DisconnectTimeoutMs > 0 {
		timeout = time.Duration(c.DisconnectTimeoutMs) * time.Millisecond
	}

	lobbies := lobby.NewManager(lobby.Config{
		DisconnectTimeout: timeout,
		Presets:           cfg.GamePresets(),
	}, logger)
	srv := server.NewServer(lobbies, logger)

	logger.Info("Starting detente server",
		"addr", addr,
		"disconnect_timeout", timeout,
		"presets", len(cfg.GamePresets()))

	ctx := shared.SetupSignalHandler(logger)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

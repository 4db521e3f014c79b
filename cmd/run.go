package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livepool/internal/adapters/discord"
	"livepool/internal/application"
	"livepool/internal/ports"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(*configPath, nil)
			if err != nil {
				return err
			}
			log := newLogger(store.Daemon().LogLevel)

			token, err := resolveToken(store)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rest := discord.NewRestClient(token, log)
			dispatcher := application.NewDispatcher(rest, store, ports.SystemClock{}, log)

			interval := time.Duration(store.Daemon().WatchIntervalSeconds) * time.Second
			watchdog := application.NewWatchdog(dispatcher, interval, log)

			go dispatcher.Run(ctx)
			go watchdog.Run(ctx)

			gateway := discord.NewGateway(token, dispatcher, rest, log)
			log.Info("daemon starting", "config", *configPath, "guilds", len(store.Guilds()))
			if err := gateway.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("daemon stopped")
			return nil
		},
	}
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"livepool/internal/adapters/settings"
)

const defaultConfigPath = "livepool.toml"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "livepool",
		Short:         "livepool: a pooled live-channel bot for Discord guilds",
		Long:          "livepool manages a bounded pool of live channels per guild: link posts in the accept channel open sessions, webhook markers persist session state across restarts, and inactive sessions age out automatically.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the TOML config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(&configPath),
		newStatusCmd(&configPath),
		newSettingsCmd(&configPath),
		newConfigCmd(&configPath),
	)

	return rootCmd
}

func openStore(configPath string, log *slog.Logger) (*settings.Store, error) {
	store, err := settings.NewStore(configPath, log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store, nil
}

// resolveToken prefers the environment over the config file so tokens can be
// kept out of the config.
func resolveToken(store *settings.Store) (string, error) {
	if token := os.Getenv("LIVEPOOL_TOKEN"); token != "" {
		return token, nil
	}
	if token := store.Daemon().Token; token != "" && token != "YOUR_BOT_TOKEN" {
		return token, nil
	}
	return "", fmt.Errorf("no bot token: set LIVEPOOL_TOKEN or daemon.token in the config")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

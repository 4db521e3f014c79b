package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"livepool/internal/adapters/settings"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(newConfigInitCmd(configPath))
	return cmd
}

func newConfigInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init <guild-id>",
		Short: "Write a starter config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := settings.Scaffold(*configPath, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; fill in daemon.token and the accept channel id\n", *configPath)
			return nil
		},
	}
}

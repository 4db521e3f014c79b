package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSettingsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect per-guild settings",
	}
	cmd.AddCommand(newSettingsShowCmd(configPath))
	return cmd
}

func newSettingsShowCmd(configPath *string) *cobra.Command {
	var guildID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings of a guild",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(*configPath, nil)
			if err != nil {
				return err
			}
			if guildID == "" {
				guilds := store.Guilds()
				if len(guilds) != 1 {
					return fmt.Errorf("config has %d guilds, pick one with --guild", len(guilds))
				}
				guildID = guilds[0]
			}

			settings, err := store.Read(cmd.Context(), guildID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "guild: %s\n", guildID)
			fmt.Fprintf(out, "accept_channel: %s\n", settings.AcceptChannelID)
			fmt.Fprintf(out, "naming_pattern: %s\n", settings.NamingPattern)
			fmt.Fprintf(out, "min_size: %d\n", settings.MinSize)
			fmt.Fprintf(out, "max_size: %d\n", settings.MaxSize)
			fmt.Fprintf(out, "close_emoji: %s\n", settings.CloseEmoji)
			fmt.Fprintf(out, "allow_roles: %s\n", joinOrNone(settings.AllowRoles))
			fmt.Fprintf(out, "admin_roles: %s\n", joinOrNone(settings.AdminRoles))
			fmt.Fprintf(out, "restriction_roles: %s\n", joinOrNone(settings.RestrictionRoles))
			fmt.Fprintf(out, "auto_close_minutes: %d\n", settings.AutoCloseMinutes)
			fmt.Fprintf(out, "pin_on_open: %t\n", settings.PinOnOpen)
			fmt.Fprintf(out, "only_trigger_author_can_close: %t\n", settings.OnlyTriggerAuthorCanClose)
			fmt.Fprintf(out, "topic: %s\n", settings.Topic)
			fmt.Fprintf(out, "slow_mode_seconds: %d\n", settings.SlowModeSeconds)
			return nil
		},
	}
	cmd.Flags().StringVar(&guildID, "guild", "", "guild id to show")
	return cmd
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}

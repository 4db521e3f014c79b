package cmd

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"livepool/internal/adapters/discord"
	"livepool/internal/adapters/render/status"
	"livepool/internal/domain"
	"livepool/internal/ports"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the configured guilds and show pool state",
		Long:  "status reads each guild's pool channels and their persisted markers over the REST API. It works without the daemon running; resumable state is in-memory only and shows as idle here.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(*configPath, nil)
			if err != nil {
				return err
			}
			token, err := resolveToken(store)
			if err != nil {
				return err
			}
			rest := discord.NewRestClient(token, newLogger(store.Daemon().LogLevel))

			now := time.Now().UTC()
			var guilds []status.GuildView
			for _, guildID := range store.Guilds() {
				settings, err := store.Read(cmd.Context(), guildID)
				if err != nil {
					return err
				}
				view, err := probeGuild(cmd.Context(), rest, guildID, settings)
				if err != nil {
					return fmt.Errorf("probe guild %s: %w", guildID, err)
				}
				guilds = append(guilds, view)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), status.Render(guilds, status.RenderOptions{Now: now}))
			return err
		},
	}
}

func probeGuild(ctx context.Context, platform ports.Platform, guildID string, settings domain.Settings) (status.GuildView, error) {
	view := status.GuildView{
		GuildID: guildID,
		MinSize: settings.MinSize,
		MaxSize: settings.MaxSize,
	}

	channels, err := platform.ListChannels(ctx, guildID)
	if err != nil {
		return view, err
	}

	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(settings.NamingPattern) + `\d{1,3}$`)
	if err != nil {
		return view, fmt.Errorf("naming pattern: %w", err)
	}

	parentID := ""
	for _, ch := range channels {
		if ch.ID == settings.AcceptChannelID {
			view.AcceptChannel = ch.Name
			parentID = ch.ParentID
		}
	}

	var matched []ports.Channel
	for _, ch := range channels {
		if parentID != "" && ch.ParentID != parentID {
			continue
		}
		if pattern.MatchString(ch.Name) {
			matched = append(matched, ch)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Position < matched[j].Position })

	for _, ch := range matched {
		view.Slots = append(view.Slots, probeSlot(ctx, platform, settings.AcceptChannelID, ch))
	}
	return view, nil
}

// probeSlot reads one channel's marker and classifies it the way recovery
// would, without repairing anything.
func probeSlot(ctx context.Context, platform ports.Platform, acceptID string, ch ports.Channel) status.SlotView {
	view := status.SlotView{Name: ch.Name, Status: domain.StatusIdle}

	markers, err := platform.ListMarkers(ctx, ch.ID)
	if err != nil {
		return view
	}
	for _, marker := range markers {
		if !marker.OwnedByBot || !domain.IsStateDescriptor(marker.Name) {
			continue
		}
		session := domain.DecodeState(marker.Name)
		if session == nil {
			return view
		}
		view.Status = domain.StatusLive
		if notice, err := platform.FetchMessage(ctx, acceptID, session.NoticeID); err == nil {
			view.OpenedAt = notice.CreatedAt
		}
		return view
	}
	return view
}

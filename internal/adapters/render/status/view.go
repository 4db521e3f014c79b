// Package status renders pool state for the CLI.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"livepool/internal/domain"
)

type SlotView struct {
	Name     string
	Status   domain.SlotStatus
	OpenedAt time.Time
}

type GuildView struct {
	GuildID       string
	AcceptChannel string
	MinSize       int
	MaxSize       int
	Slots         []SlotView
}

type RenderOptions struct {
	Now time.Time
}

// Render produces the pool status listing for every guild.
func Render(guilds []GuildView, opts RenderOptions) string {
	return renderView(guilds, opts, newStyles())
}

func renderView(guilds []GuildView, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Live Channel Pools"),
		s.header.Render(fmt.Sprintf("guilds: %d", len(guilds))),
	}

	if len(guilds) == 0 {
		lines = append(lines, s.empty.Render("No guilds configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, guild := range guilds {
		lines = append(lines, s.section.Render(renderGuild(guild, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderGuild(guild GuildView, opts RenderOptions, s styles) string {
	live := 0
	for _, slot := range guild.Slots {
		if slot.Status == domain.StatusLive {
			live++
		}
	}

	parts := []string{
		s.guild.Render(fmt.Sprintf("Guild %s", guild.GuildID)),
		s.detail.Render(fmt.Sprintf("accept: %s  slots: %d (%d live, min %d, max %d)",
			orUnset(guild.AcceptChannel), len(guild.Slots), live, guild.MinSize, guild.MaxSize)),
	}

	if len(guild.Slots) == 0 {
		parts = append(parts, s.empty.Render("no pool channels discovered"))
	}
	for _, slot := range guild.Slots {
		parts = append(parts, renderSlot(slot, opts, s))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderSlot(slot SlotView, opts RenderOptions, s styles) string {
	label := s.key.Render(fmt.Sprintf("%-16s", slot.Name))
	state := statusLabel(slot.Status, s)

	line := lipgloss.JoinHorizontal(lipgloss.Top, label, " ", state)
	if slot.Status == domain.StatusLive && !slot.OpenedAt.IsZero() && !opts.Now.IsZero() {
		elapsed := domain.FormatLiveTime(opts.Now.Sub(slot.OpenedAt))
		line += " " + s.detail.Render(fmt.Sprintf("(live for %s)", elapsed))
	}
	return line
}

func statusLabel(status domain.SlotStatus, s styles) string {
	switch status {
	case domain.StatusLive:
		return s.live.Render("live")
	case domain.StatusResumable:
		return s.resumable.Render("resumable")
	default:
		return s.idle.Render("idle")
	}
}

func orUnset(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unset"
	}
	return value
}

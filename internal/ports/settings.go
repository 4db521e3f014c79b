package ports

import (
	"context"

	"livepool/internal/domain"
)

// SettingsChange names a configuration mutation the core reacts to.
type SettingsChange string

const (
	SettingsAcceptChanged      SettingsChange = "accept-changed"
	SettingsNamingChanged      SettingsChange = "naming-changed"
	SettingsMinSizeChanged     SettingsChange = "min-size-changed"
	SettingsRestrictionChanged SettingsChange = "restriction-changed"
)

// SettingsEvent is one named change notification for one guild.
type SettingsEvent struct {
	GuildID string
	Change  SettingsChange
}

// SettingsStore supplies per-guild configuration snapshots. The core only
// reads; writes happen elsewhere and surface as events.
type SettingsStore interface {
	Read(ctx context.Context, guildID string) (domain.Settings, error)
	// Events delivers change notifications until the store is closed.
	Events() <-chan SettingsEvent
}

// Package settings persists daemon and per-guild configuration in a TOML
// file and turns file edits into typed change notifications.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"livepool/internal/domain"
	"livepool/internal/ports"
)

const eventBuffer = 32

// Daemon is the process-level configuration block.
type Daemon struct {
	Token                string `mapstructure:"token"`
	WatchIntervalSeconds int    `mapstructure:"watch_interval_seconds"`
	LogLevel             string `mapstructure:"log_level"`
}

type guildConfig struct {
	AcceptChannel             string   `mapstructure:"accept_channel"`
	NamingPattern             string   `mapstructure:"naming_pattern"`
	MinSize                   int      `mapstructure:"min_size"`
	MaxSize                   int      `mapstructure:"max_size"`
	CloseEmoji                string   `mapstructure:"close_emoji"`
	AllowRoles                []string `mapstructure:"allow_roles"`
	AdminRoles                []string `mapstructure:"admin_roles"`
	RestrictionRoles          []string `mapstructure:"restriction_roles"`
	AutoCloseMinutes          int      `mapstructure:"auto_close_minutes"`
	PinOnOpen                 bool     `mapstructure:"pin_on_open"`
	OnlyTriggerAuthorCanClose bool     `mapstructure:"only_trigger_author_can_close"`
	Topic                     string   `mapstructure:"topic"`
	SlowModeSeconds           int      `mapstructure:"slow_mode_seconds"`
}

func (g guildConfig) toDomain() domain.Settings {
	return domain.Settings{
		AcceptChannelID:           g.AcceptChannel,
		NamingPattern:             g.NamingPattern,
		MinSize:                   g.MinSize,
		MaxSize:                   g.MaxSize,
		CloseEmoji:                g.CloseEmoji,
		AllowRoles:                g.AllowRoles,
		AdminRoles:                g.AdminRoles,
		RestrictionRoles:          g.RestrictionRoles,
		AutoCloseMinutes:          g.AutoCloseMinutes,
		PinOnOpen:                 g.PinOnOpen,
		OnlyTriggerAuthorCanClose: g.OnlyTriggerAuthorCanClose,
		Topic:                     g.Topic,
		SlowModeSeconds:           g.SlowModeSeconds,
	}
}

// Store reads the config file once at startup and again on every file change,
// diffing guild snapshots into SettingsEvents.
type Store struct {
	v   *viper.Viper
	log *slog.Logger

	mu       sync.Mutex
	daemon   Daemon
	snapshot map[string]domain.Settings
	events   chan ports.SettingsEvent
}

func NewStore(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	s := &Store{
		v:      v,
		log:    log,
		events: make(chan ports.SettingsEvent, eventBuffer),
	}
	daemon, snapshot, err := s.decode()
	if err != nil {
		return nil, err
	}
	s.daemon = daemon
	s.snapshot = snapshot

	v.OnConfigChange(func(fsnotify.Event) { s.reload() })
	v.WatchConfig()
	return s, nil
}

func (s *Store) decode() (Daemon, map[string]domain.Settings, error) {
	var daemon Daemon
	if err := s.v.UnmarshalKey("daemon", &daemon); err != nil {
		return Daemon{}, nil, fmt.Errorf("decode daemon config: %w", err)
	}

	var guilds map[string]guildConfig
	if err := s.v.UnmarshalKey("guilds", &guilds); err != nil {
		return Daemon{}, nil, fmt.Errorf("decode guild config: %w", err)
	}

	snapshot := make(map[string]domain.Settings, len(guilds))
	for guildID, cfg := range guilds {
		settings := cfg.toDomain()
		settings.ApplyDefaults()
		if err := settings.Validate(); err != nil {
			return Daemon{}, nil, fmt.Errorf("guild %s: %w", guildID, err)
		}
		snapshot[guildID] = settings
	}
	return daemon, snapshot, nil
}

// reload re-decodes the file and emits one event per changed concern per
// guild. A file that no longer decodes keeps the previous snapshot.
func (s *Store) reload() {
	if err := s.v.ReadInConfig(); err != nil {
		s.log.Error("config reload failed", "error", err)
		return
	}
	daemon, next, err := s.decode()
	if err != nil {
		s.log.Error("config reload rejected", "error", err)
		return
	}

	s.mu.Lock()
	previous := s.snapshot
	s.daemon = daemon
	s.snapshot = next
	s.mu.Unlock()

	for guildID, settings := range next {
		old, known := previous[guildID]
		if !known {
			continue
		}
		for _, change := range diffSettings(old, settings) {
			s.emit(ports.SettingsEvent{GuildID: guildID, Change: change})
		}
	}
	s.log.Info("config reloaded", "guilds", len(next))
}

func diffSettings(old, next domain.Settings) []ports.SettingsChange {
	var changes []ports.SettingsChange
	if old.AcceptChannelID != next.AcceptChannelID {
		changes = append(changes, ports.SettingsAcceptChanged)
	}
	if old.NamingPattern != next.NamingPattern {
		changes = append(changes, ports.SettingsNamingChanged)
	}
	if old.MinSize != next.MinSize {
		changes = append(changes, ports.SettingsMinSizeChanged)
	}
	if !slices.Equal(old.RestrictionRoles, next.RestrictionRoles) {
		changes = append(changes, ports.SettingsRestrictionChanged)
	}
	return changes
}

func (s *Store) emit(event ports.SettingsEvent) {
	select {
	case s.events <- event:
	default:
		s.log.Warn("settings event dropped, consumer too slow", "guild", event.GuildID, "change", string(event.Change))
	}
}

func (s *Store) Read(_ context.Context, guildID string) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.snapshot[guildID]
	if !ok {
		return domain.Settings{}, fmt.Errorf("guild %s: %w", guildID, domain.ErrGuildNotFound)
	}
	return settings, nil
}

func (s *Store) Events() <-chan ports.SettingsEvent { return s.events }

// Daemon returns the process-level configuration read at the last load.
func (s *Store) Daemon() Daemon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daemon
}

// Guilds lists the configured guild ids.
func (s *Store) Guilds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.snapshot))
	for guildID := range s.snapshot {
		out = append(out, guildID)
	}
	slices.Sort(out)
	return out
}

var _ ports.SettingsStore = (*Store)(nil)

package settings

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"livepool/internal/domain"
)

const (
	configFileMode = 0o600
	configDirMode  = 0o700
	tempPattern    = ".livepool-*.toml.tmp"
)

type scaffoldFile struct {
	Daemon scaffoldDaemon           `toml:"daemon"`
	Guilds map[string]scaffoldGuild `toml:"guilds"`
}

type scaffoldDaemon struct {
	Token                string `toml:"token"`
	WatchIntervalSeconds int    `toml:"watch_interval_seconds"`
	LogLevel             string `toml:"log_level"`
}

type scaffoldGuild struct {
	AcceptChannel    string `toml:"accept_channel"`
	NamingPattern    string `toml:"naming_pattern"`
	MinSize          int    `toml:"min_size"`
	MaxSize          int    `toml:"max_size"`
	CloseEmoji       string `toml:"close_emoji"`
	AutoCloseMinutes int    `toml:"auto_close_minutes"`
	PinOnOpen        bool   `toml:"pin_on_open"`
}

// Scaffold writes a starter config at path, refusing to clobber an existing
// file. The temp-write-then-rename keeps a concurrent watcher from seeing a
// half-written file.
func Scaffold(path, guildID string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config %s: %w", path, err)
	}

	file := scaffoldFile{
		Daemon: scaffoldDaemon{
			Token:                "YOUR_BOT_TOKEN",
			WatchIntervalSeconds: 60,
			LogLevel:             "info",
		},
		Guilds: map[string]scaffoldGuild{
			guildID: {
				AcceptChannel:    "ACCEPT_CHANNEL_ID",
				NamingPattern:    domain.DefaultNamingPattern,
				MinSize:          domain.DefaultMinSize,
				MaxSize:          domain.DefaultMaxSize,
				CloseEmoji:       domain.DefaultCloseEmoji,
				AutoCloseMinutes: 30,
				PinOnOpen:        true,
			},
		},
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tempName := temp.Name()
	defer func() { _ = os.Remove(tempName) }()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := temp.Chmod(configFileMode); err != nil {
		_ = temp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("install config: %w", err)
	}
	return nil
}

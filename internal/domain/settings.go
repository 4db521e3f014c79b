package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultNamingPattern = "live"
	DefaultMinSize       = 1
	DefaultMaxSize       = 10
	DefaultCloseEmoji    = "💤"

	// MaxPoolSize caps max_size; channel suffixes are 1-3 digits.
	MaxPoolSize = 999
)

// Settings is the per-guild configuration snapshot the pool reads. The store
// that persists it is a collaborator; the core never writes it back.
type Settings struct {
	AcceptChannelID           string
	NamingPattern             string
	MinSize                   int
	MaxSize                   int
	CloseEmoji                string
	AllowRoles                []string
	AdminRoles                []string
	RestrictionRoles          []string
	AutoCloseMinutes          int
	PinOnOpen                 bool
	OnlyTriggerAuthorCanClose bool
	Topic                     string
	SlowModeSeconds           int
}

func (s *Settings) ApplyDefaults() {
	if s == nil {
		return
	}
	if strings.TrimSpace(s.NamingPattern) == "" {
		s.NamingPattern = DefaultNamingPattern
	}
	if s.MinSize == 0 {
		s.MinSize = DefaultMinSize
	}
	if s.MaxSize == 0 {
		s.MaxSize = DefaultMaxSize
	}
	if s.CloseEmoji == "" {
		s.CloseEmoji = DefaultCloseEmoji
	}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.NamingPattern) == "" {
		return fmt.Errorf("naming pattern is required")
	}
	if s.MinSize < 0 {
		return fmt.Errorf("min size must not be negative")
	}
	if s.MaxSize < s.MinSize {
		return fmt.Errorf("max size %d is below min size %d", s.MaxSize, s.MinSize)
	}
	if s.MaxSize > MaxPoolSize {
		return fmt.Errorf("max size %d exceeds limit %d", s.MaxSize, MaxPoolSize)
	}
	if s.AutoCloseMinutes < 0 {
		return fmt.Errorf("auto close minutes must not be negative")
	}
	return nil
}

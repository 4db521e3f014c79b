package domain

import (
	"fmt"
	"strings"
	"time"
)

// SlotStatus is the lifecycle state of one live channel.
type SlotStatus string

const (
	StatusIdle      SlotStatus = "idle"
	StatusLive      SlotStatus = "live"
	StatusResumable SlotStatus = "resumable"
)

// Session binds a live channel to the trigger message that opened it, the
// mirror copy posted inside the channel, and the public notice in the accept
// channel. OpenedAt is derived from the notice's creation time; there is no
// separate stored timestamp.
type Session struct {
	TriggerID string
	MirrorID  string
	NoticeID  string
	OpenedAt  time.Time
	// TriggerAuthorID is resolved from the trigger message, not persisted in
	// the descriptor; used for the author-only close rule.
	TriggerAuthorID string
}

// StateClosed is the persisted descriptor of a channel with no session.
const StateClosed = "CLOSED"

const stateOpenedPrefix = "OPENED:"

// EncodeState renders the descriptor persisted in a channel's marker. A nil
// session encodes as the closed marker.
func EncodeState(s *Session) string {
	if s == nil {
		return StateClosed
	}
	return fmt.Sprintf("%s%s:%s:%s", stateOpenedPrefix, s.TriggerID, s.MirrorID, s.NoticeID)
}

// DecodeState parses a persisted descriptor back into session references.
// Anything that is not a well-formed OPENED descriptor decodes to nil:
// corrupt markers fail open to an idle channel, never to a phantom live one.
func DecodeState(raw string) *Session {
	if !strings.HasPrefix(raw, stateOpenedPrefix) {
		return nil
	}

	parts := strings.Split(strings.TrimPrefix(raw, stateOpenedPrefix), ":")
	if len(parts) != 3 {
		return nil
	}
	for _, part := range parts {
		if !isSnowflake(part) {
			return nil
		}
	}

	return &Session{TriggerID: parts[0], MirrorID: parts[1], NoticeID: parts[2]}
}

// IsStateDescriptor reports whether a marker name belongs to the session
// state namespace, well formed or not. Markers outside it belong to someone
// else and must not be adopted or rewritten.
func IsStateDescriptor(raw string) bool {
	return raw == StateClosed || strings.HasPrefix(raw, stateOpenedPrefix)
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

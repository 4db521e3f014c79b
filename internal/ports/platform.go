package ports

import (
	"context"
	"time"
)

// Message is the platform-agnostic view of a chat message.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	AuthorID  string
	Content   string
	AuthorBot bool
	CreatedAt time.Time
}

// Channel is the platform-agnostic view of a text channel.
type Channel struct {
	ID       string
	GuildID  string
	Name     string
	ParentID string
	Position int
}

// Reaction describes one emoji reaction event on a message.
type Reaction struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
	// Count is the number of reactions with this emoji remaining on the
	// message after the event.
	Count     int
	UserIsBot bool
}

// Marker is a channel-scoped, bot-writable metadata holder. Its name carries
// the persisted session descriptor and survives process restarts; ordinary
// users can neither see nor rewrite it.
type Marker struct {
	ID         string
	ChannelID  string
	Name       string
	OwnedByBot bool
}

// ChannelCreate carries the attributes of a channel to provision.
type ChannelCreate struct {
	Name            string
	ParentID        string
	Position        int
	Topic           string
	SlowModeSeconds int
}

// Platform is the narrow capability surface the session core needs from the
// chat platform. Every call can suspend and can fail with a platform error;
// the core treats all such failures as recoverable.
type Platform interface {
	ListChannels(ctx context.Context, guildID string) ([]Channel, error)
	CreateChannel(ctx context.Context, guildID string, create ChannelCreate) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	// ChannelCount reports how many channels exist in the guild, or under
	// parentID when it is non-empty. Used for insertion-position ceilings.
	ChannelCount(ctx context.Context, guildID, parentID string) (int, error)

	SendMessage(ctx context.Context, channelID, content string) (Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (Message, error)
	PinMessage(ctx context.Context, channelID, messageID string) error
	UnpinMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// SetSendPermission toggles the send-messages overwrite for a role in a
	// channel. Restriction roles are denied while a channel is idle and
	// allowed while it is live.
	SetSendPermission(ctx context.Context, channelID, roleID string, allow bool) error

	// LastActivity reports the creation time of the newest message in the
	// channel. Drives the auto-close watchdog.
	LastActivity(ctx context.Context, channelID string) (time.Time, error)

	ListMarkers(ctx context.Context, channelID string) ([]Marker, error)
	CreateMarker(ctx context.Context, channelID, name string) (Marker, error)
	RenameMarker(ctx context.Context, channelID, markerID, name string) error
	DeleteMarker(ctx context.Context, channelID, markerID string) error

	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	// MemberCanManageChannels reports whether the member holds the
	// platform-level channel management permission.
	MemberCanManageChannels(ctx context.Context, guildID, userID string) (bool, error)
}

// EventHandler receives the inbound platform event stream. The gateway
// adapter delivers events one at a time per connection.
type EventHandler interface {
	HandleGuildAvailable(ctx context.Context, guildID string)
	HandleMessageCreate(ctx context.Context, msg Message)
	HandleMessageUpdate(ctx context.Context, msg Message)
	HandleMessageDelete(ctx context.Context, channelID, messageID string)
	HandleReactionAdd(ctx context.Context, r Reaction)
	HandleReactionRemove(ctx context.Context, r Reaction)
}

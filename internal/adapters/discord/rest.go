package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livepool/internal/ports"
)

const (
	defaultAPIBase   = "https://discord.com/api/v10"
	maxResponseBytes = 1 << 20

	channelTypeGuildText = 0

	// Permission bits.
	permManageChannels = 1 << 4
	permAdministrator  = 1 << 3
	permSendMessages   = 1 << 11

	// Role permission overwrite type.
	overwriteTypeRole = 0
)

// ErrNotFound reports a 404 from the API; callers use it to detect vanished
// messages and channels.
var ErrNotFound = errors.New("discord: not found")

// RestClient talks to the Discord REST API and implements ports.Platform.
// A shared limiter keeps the client under the global request budget; 429
// responses are retried after the advertised delay.
type RestClient struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Log        *slog.Logger

	mu        sync.Mutex
	botUserID string
}

func NewRestClient(token string, log *slog.Logger) *RestClient {
	if log == nil {
		log = slog.Default()
	}
	return &RestClient{
		Token:      token,
		BaseURL:    defaultAPIBase,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(45), 5),
		Log:        log,
	}
}

type restUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

type restChannel struct {
	ID            string `json:"id"`
	GuildID       string `json:"guild_id"`
	Name          string `json:"name"`
	Type          int    `json:"type"`
	ParentID      string `json:"parent_id"`
	Position      int    `json:"position"`
	LastMessageID string `json:"last_message_id"`
}

type restMessage struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channel_id"`
	GuildID   string         `json:"guild_id"`
	Author    restUser       `json:"author"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Reactions []restReaction `json:"reactions"`
}

type restReaction struct {
	Count int `json:"count"`
	Emoji struct {
		Name string `json:"name"`
	} `json:"emoji"`
}

type restWebhook struct {
	ID        string   `json:"id"`
	ChannelID string   `json:"channel_id"`
	Name      string   `json:"name"`
	User      restUser `json:"user"`
}

type restMember struct {
	Roles []string `json:"roles"`
}

type restRole struct {
	ID          string `json:"id"`
	Permissions string `json:"permissions"`
}

func (m restMessage) toPort() ports.Message {
	return ports.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
		AuthorBot: m.Author.Bot,
		CreatedAt: m.Timestamp,
	}
}

func (c restChannel) toPort() ports.Channel {
	return ports.Channel{
		ID:       c.ID,
		GuildID:  c.GuildID,
		Name:     c.Name,
		ParentID: c.ParentID,
		Position: c.Position,
	}
}

// do performs one rate-limited API call, retrying 429 responses.
func (c *RestClient) do(ctx context.Context, method, path string, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	base := c.BaseURL
	if base == "" {
		base = defaultAPIBase
	}

	for attempt := 0; ; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+c.Token)
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient().Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < 3 {
			retry := parseRetryAfter(resp)
			_ = resp.Body.Close()
			c.Log.Warn("rate limited", "path", path, "retry_after", retry)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry):
			}
			continue
		}

		return c.finish(resp, method, path, out)
	}
}

func (c *RestClient) finish(resp *http.Response, method, path string, out any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return time.Second
}

func (c *RestClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// me fetches and caches the bot's own user id, used to recognize bot-owned
// webhooks.
func (c *RestClient) me(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.botUserID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	var user restUser
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, &user); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.botUserID = user.ID
	c.mu.Unlock()
	return user.ID, nil
}

func (c *RestClient) ListChannels(ctx context.Context, guildID string) ([]ports.Channel, error) {
	var channels []restChannel
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/channels", nil, &channels); err != nil {
		return nil, err
	}
	out := make([]ports.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Type != channelTypeGuildText {
			continue
		}
		if ch.GuildID == "" {
			ch.GuildID = guildID
		}
		out = append(out, ch.toPort())
	}
	return out, nil
}

func (c *RestClient) CreateChannel(ctx context.Context, guildID string, create ports.ChannelCreate) (ports.Channel, error) {
	body := map[string]any{
		"name": create.Name,
		"type": channelTypeGuildText,
	}
	if create.ParentID != "" {
		body["parent_id"] = create.ParentID
	}
	if create.Position > 0 {
		body["position"] = create.Position
	}
	if create.Topic != "" {
		body["topic"] = create.Topic
	}
	if create.SlowModeSeconds > 0 {
		body["rate_limit_per_user"] = create.SlowModeSeconds
	}

	var channel restChannel
	if err := c.do(ctx, http.MethodPost, "/guilds/"+guildID+"/channels", body, &channel); err != nil {
		return ports.Channel{}, err
	}
	if channel.GuildID == "" {
		channel.GuildID = guildID
	}
	return channel.toPort(), nil
}

func (c *RestClient) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
}

func (c *RestClient) ChannelCount(ctx context.Context, guildID, parentID string) (int, error) {
	channels, err := c.ListChannels(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if parentID == "" {
		return len(channels), nil
	}
	count := 0
	for _, ch := range channels {
		if ch.ParentID == parentID {
			count++
		}
	}
	return count, nil
}

func (c *RestClient) SendMessage(ctx context.Context, channelID, content string) (ports.Message, error) {
	var msg restMessage
	err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", map[string]string{"content": content}, &msg)
	if err != nil {
		return ports.Message{}, err
	}
	return msg.toPort(), nil
}

func (c *RestClient) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	return c.do(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, map[string]string{"content": content}, nil)
}

func (c *RestClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil)
}

func (c *RestClient) FetchMessage(ctx context.Context, channelID, messageID string) (ports.Message, error) {
	var msg restMessage
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/messages/"+messageID, nil, &msg); err != nil {
		return ports.Message{}, err
	}
	return msg.toPort(), nil
}

func (c *RestClient) PinMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodPut, "/channels/"+channelID+"/pins/"+messageID, nil, nil)
}

func (c *RestClient) UnpinMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+channelID+"/pins/"+messageID, nil, nil)
}

func (c *RestClient) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	path := "/channels/" + channelID + "/messages/" + messageID + "/reactions/" + url.PathEscape(emoji) + "/@me"
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// SetSendPermission writes a role overwrite on the channel: allow flips the
// send bit to allow, otherwise it is denied.
func (c *RestClient) SetSendPermission(ctx context.Context, channelID, roleID string, allow bool) error {
	body := map[string]any{"type": overwriteTypeRole}
	if allow {
		body["allow"] = strconv.Itoa(permSendMessages)
		body["deny"] = "0"
	} else {
		body["allow"] = "0"
		body["deny"] = strconv.Itoa(permSendMessages)
	}
	return c.do(ctx, http.MethodPut, "/channels/"+channelID+"/permissions/"+roleID, body, nil)
}

// LastActivity derives the channel's most recent message time from the last
// message id snowflake; an empty channel falls back to its creation time.
func (c *RestClient) LastActivity(ctx context.Context, channelID string) (time.Time, error) {
	var channel restChannel
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &channel); err != nil {
		return time.Time{}, err
	}
	if channel.LastMessageID != "" {
		return SnowflakeTime(channel.LastMessageID), nil
	}
	return SnowflakeTime(channel.ID), nil
}

func (c *RestClient) ListMarkers(ctx context.Context, channelID string) ([]ports.Marker, error) {
	me, err := c.me(ctx)
	if err != nil {
		return nil, err
	}

	var webhooks []restWebhook
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/webhooks", nil, &webhooks); err != nil {
		return nil, err
	}

	out := make([]ports.Marker, 0, len(webhooks))
	for _, w := range webhooks {
		out = append(out, ports.Marker{
			ID:         w.ID,
			ChannelID:  w.ChannelID,
			Name:       w.Name,
			OwnedByBot: w.User.ID == me,
		})
	}
	return out, nil
}

func (c *RestClient) CreateMarker(ctx context.Context, channelID, name string) (ports.Marker, error) {
	var webhook restWebhook
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/webhooks", map[string]string{"name": name}, &webhook); err != nil {
		return ports.Marker{}, err
	}
	return ports.Marker{ID: webhook.ID, ChannelID: channelID, Name: webhook.Name, OwnedByBot: true}, nil
}

func (c *RestClient) RenameMarker(ctx context.Context, channelID, markerID, name string) error {
	return c.do(ctx, http.MethodPatch, "/webhooks/"+markerID, map[string]string{"name": name}, nil)
}

func (c *RestClient) DeleteMarker(ctx context.Context, channelID, markerID string) error {
	return c.do(ctx, http.MethodDelete, "/webhooks/"+markerID, nil, nil)
}

// ReactionCount reports how many reactions with the emoji remain on a
// message. Gateway removal events carry no count, so it is read back here.
func (c *RestClient) ReactionCount(ctx context.Context, channelID, messageID, emoji string) (int, error) {
	var msg restMessage
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID+"/messages/"+messageID, nil, &msg); err != nil {
		return 0, err
	}
	for _, r := range msg.Reactions {
		if r.Emoji.Name == emoji {
			return r.Count, nil
		}
	}
	return 0, nil
}

func (c *RestClient) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	var member restMember
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, nil, &member); err != nil {
		return nil, err
	}
	return member.Roles, nil
}

// MemberCanManageChannels folds the member's role permissions, including the
// guild's everyone role.
func (c *RestClient) MemberCanManageChannels(ctx context.Context, guildID, userID string) (bool, error) {
	memberRoles, err := c.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return false, err
	}

	var roles []restRole
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, &roles); err != nil {
		return false, err
	}

	wanted := map[string]bool{guildID: true}
	for _, id := range memberRoles {
		wanted[id] = true
	}

	var perms uint64
	for _, role := range roles {
		if !wanted[role.ID] {
			continue
		}
		p, err := strconv.ParseUint(role.Permissions, 10, 64)
		if err != nil {
			continue
		}
		perms |= p
	}
	return perms&permAdministrator != 0 || perms&permManageChannels != 0, nil
}

var _ ports.Platform = (*RestClient)(nil)

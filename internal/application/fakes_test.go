package application

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"livepool/internal/domain"
	"livepool/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSettings struct {
	mu      sync.Mutex
	byGuild map[string]domain.Settings
	events  chan ports.SettingsEvent
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		byGuild: map[string]domain.Settings{},
		events:  make(chan ports.SettingsEvent, 16),
	}
}

func (s *fakeSettings) set(guildID string, settings domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGuild[guildID] = settings
}

func (s *fakeSettings) Read(_ context.Context, guildID string) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.byGuild[guildID]
	if !ok {
		return domain.Settings{}, domain.ErrGuildNotFound
	}
	return settings, nil
}

func (s *fakeSettings) Events() <-chan ports.SettingsEvent { return s.events }

// fakePlatform is an in-memory chat platform. Failures are injected per
// operation ("SendMessage") or per operation and channel
// ("SendMessage:1234"); blocking gates let tests hold an operation open
// across a concurrent claim.
type fakePlatform struct {
	clock ports.Clock

	mu           sync.Mutex
	nextID       int
	channels     []ports.Channel
	messages     map[string]ports.Message
	msgOrder     map[string][]string
	pinned       map[string]bool
	markers      map[string][]ports.Marker
	overwrites   map[string]map[string]bool
	reactions    map[string][]string
	lastActivity map[string]time.Time
	memberRoles  map[string][]string
	managers     map[string]bool
	deleted      map[string]bool
	failOn       map[string]error
	blockOn      map[string]chan struct{}
	calls        map[string]int
}

func newFakePlatform(clock ports.Clock) *fakePlatform {
	return &fakePlatform{
		clock:        clock,
		nextID:       1000,
		messages:     map[string]ports.Message{},
		msgOrder:     map[string][]string{},
		pinned:       map[string]bool{},
		markers:      map[string][]ports.Marker{},
		overwrites:   map[string]map[string]bool{},
		reactions:    map[string][]string{},
		lastActivity: map[string]time.Time{},
		memberRoles:  map[string][]string{},
		managers:     map[string]bool{},
		deleted:      map[string]bool{},
		failOn:       map[string]error{},
		blockOn:      map[string]chan struct{}{},
		calls:        map[string]int{},
	}
}

func (f *fakePlatform) gate(op, channelID string) error {
	f.mu.Lock()
	f.calls[op]++
	block := f.blockOn[op]
	err, ok := f.failOn[op+":"+channelID]
	if !ok {
		err = f.failOn[op]
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return err
}

func (f *fakePlatform) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakePlatform) fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, key)
		return
	}
	f.failOn[key] = err
}

func (f *fakePlatform) block(op string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blockOn[op] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakePlatform) newID() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *fakePlatform) addChannel(guildID, id, name, parentID string, position int) ports.Channel {
	ch := ports.Channel{ID: id, GuildID: guildID, Name: name, ParentID: parentID, Position: position}
	f.mu.Lock()
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakePlatform) addMessage(channelID, authorID, content string) ports.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putMessage(channelID, authorID, content, false)
}

func (f *fakePlatform) putMessage(channelID, authorID, content string, bot bool) ports.Message {
	f.nextID++
	msg := ports.Message{
		ID:        strconv.Itoa(f.nextID),
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		AuthorBot: bot,
		CreatedAt: f.clock.Now(),
	}
	f.messages[msg.ID] = msg
	f.msgOrder[channelID] = append(f.msgOrder[channelID], msg.ID)
	f.lastActivity[channelID] = msg.CreatedAt
	return msg
}

func (f *fakePlatform) messagesIn(channelID string) []ports.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.Message, 0, len(f.msgOrder[channelID]))
	for _, id := range f.msgOrder[channelID] {
		if msg, ok := f.messages[id]; ok {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakePlatform) message(id string) (ports.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	return msg, ok
}

func (f *fakePlatform) markerName(channelID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.markers[channelID]) == 0 {
		return ""
	}
	return f.markers[channelID][0].Name
}

func (f *fakePlatform) markerNames(channelID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.markers[channelID]))
	for _, marker := range f.markers[channelID] {
		out = append(out, marker.Name)
	}
	return out
}

func (f *fakePlatform) setMarker(channelID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers[channelID] = []ports.Marker{{ID: f.newIDLocked(), ChannelID: channelID, Name: name, OwnedByBot: true}}
}

func (f *fakePlatform) newIDLocked() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *fakePlatform) isPinned(messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinned[messageID]
}

func (f *fakePlatform) hasReaction(messageID, emoji string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.reactions[messageID] {
		if e == emoji {
			return true
		}
	}
	return false
}

func (f *fakePlatform) overwrite(channelID, roleID string) (allow, set bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byRole, ok := f.overwrites[channelID]
	if !ok {
		return false, false
	}
	allow, set = byRole[roleID]
	return allow, set
}

func (f *fakePlatform) channelByName(guildID, name string) (ports.Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.GuildID == guildID && ch.Name == name {
			return ch, true
		}
	}
	return ports.Channel{}, false
}

// --- ports.Platform ---

func (f *fakePlatform) ListChannels(_ context.Context, guildID string) ([]ports.Channel, error) {
	if err := f.gate("ListChannels", guildID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		if ch.GuildID == guildID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakePlatform) CreateChannel(_ context.Context, guildID string, create ports.ChannelCreate) (ports.Channel, error) {
	if err := f.gate("CreateChannel", guildID); err != nil {
		return ports.Channel{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := ports.Channel{
		ID:       f.newIDLocked(),
		GuildID:  guildID,
		Name:     create.Name,
		ParentID: create.ParentID,
		Position: create.Position,
	}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	if err := f.gate("DeleteChannel", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ch := range f.channels {
		if ch.ID == channelID {
			f.channels = append(f.channels[:i], f.channels[i+1:]...)
			f.deleted["channel:"+channelID] = true
			return nil
		}
	}
	return fmt.Errorf("channel %s not found", channelID)
}

func (f *fakePlatform) ChannelCount(_ context.Context, guildID, parentID string) (int, error) {
	if err := f.gate("ChannelCount", guildID); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, ch := range f.channels {
		if ch.GuildID != guildID {
			continue
		}
		if parentID != "" && ch.ParentID != parentID {
			continue
		}
		count++
	}
	return count, nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channelID, content string) (ports.Message, error) {
	if err := f.gate("SendMessage", channelID); err != nil {
		return ports.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putMessage(channelID, "bot", content, true), nil
}

func (f *fakePlatform) EditMessage(_ context.Context, channelID, messageID, content string) error {
	if err := f.gate("EditMessage", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return fmt.Errorf("message %s not found in channel %s", messageID, channelID)
	}
	msg.Content = content
	f.messages[messageID] = msg
	return nil
}

func (f *fakePlatform) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if err := f.gate("DeleteMessage", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return fmt.Errorf("message %s not found in channel %s", messageID, channelID)
	}
	delete(f.messages, messageID)
	f.deleted["message:"+messageID] = true
	return nil
}

func (f *fakePlatform) FetchMessage(_ context.Context, channelID, messageID string) (ports.Message, error) {
	if err := f.gate("FetchMessage", channelID); err != nil {
		return ports.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return ports.Message{}, fmt.Errorf("message %s not found in channel %s", messageID, channelID)
	}
	return msg, nil
}

func (f *fakePlatform) PinMessage(_ context.Context, channelID, messageID string) error {
	if err := f.gate("PinMessage", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	f.pinned[messageID] = true
	return nil
}

func (f *fakePlatform) UnpinMessage(_ context.Context, channelID, messageID string) error {
	if err := f.gate("UnpinMessage", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned[messageID] = false
	return nil
}

func (f *fakePlatform) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	if err := f.gate("AddReaction", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[messageID] = append(f.reactions[messageID], emoji)
	return nil
}

func (f *fakePlatform) SetSendPermission(_ context.Context, channelID, roleID string, allow bool) error {
	if err := f.gate("SetSendPermission", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overwrites[channelID] == nil {
		f.overwrites[channelID] = map[string]bool{}
	}
	f.overwrites[channelID][roleID] = allow
	return nil
}

func (f *fakePlatform) LastActivity(_ context.Context, channelID string) (time.Time, error) {
	if err := f.gate("LastActivity", channelID); err != nil {
		return time.Time{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if at, ok := f.lastActivity[channelID]; ok {
		return at, nil
	}
	return f.clock.Now(), nil
}

func (f *fakePlatform) setLastActivity(channelID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastActivity[channelID] = at
}

func (f *fakePlatform) ListMarkers(_ context.Context, channelID string) ([]ports.Marker, error) {
	if err := f.gate("ListMarkers", channelID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ports.Marker, len(f.markers[channelID]))
	copy(out, f.markers[channelID])
	return out, nil
}

func (f *fakePlatform) CreateMarker(_ context.Context, channelID, name string) (ports.Marker, error) {
	if err := f.gate("CreateMarker", channelID); err != nil {
		return ports.Marker{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	marker := ports.Marker{ID: f.newIDLocked(), ChannelID: channelID, Name: name, OwnedByBot: true}
	f.markers[channelID] = append(f.markers[channelID], marker)
	return marker, nil
}

func (f *fakePlatform) RenameMarker(_ context.Context, channelID, markerID, name string) error {
	if err := f.gate("RenameMarker", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.markers[channelID] {
		if f.markers[channelID][i].ID == markerID {
			f.markers[channelID][i].Name = name
			return nil
		}
	}
	return fmt.Errorf("marker %s not found in channel %s", markerID, channelID)
}

func (f *fakePlatform) DeleteMarker(_ context.Context, channelID, markerID string) error {
	if err := f.gate("DeleteMarker", channelID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	markers := f.markers[channelID]
	for i := range markers {
		if markers[i].ID == markerID {
			f.markers[channelID] = append(markers[:i], markers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("marker %s not found in channel %s", markerID, channelID)
}

func (f *fakePlatform) MemberRoles(_ context.Context, guildID, userID string) ([]string, error) {
	if err := f.gate("MemberRoles", guildID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memberRoles[userID], nil
}

func (f *fakePlatform) MemberCanManageChannels(_ context.Context, guildID, userID string) (bool, error) {
	if err := f.gate("MemberCanManageChannels", guildID); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.managers[userID], nil
}

var _ ports.Platform = (*fakePlatform)(nil)
var _ ports.SettingsStore = (*fakeSettings)(nil)

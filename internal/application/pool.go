package application

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"livepool/internal/domain"
	"livepool/internal/ports"
)

// SessionPool manages one guild's live channels: accept channel binding, the
// ordered slot list, size reconciliation, and request routing.
type SessionPool struct {
	guildID  string
	platform ports.Platform
	store    ports.SettingsStore
	reg      *registry
	clock    ports.Clock
	log      *slog.Logger

	mu          sync.Mutex
	settings    domain.Settings
	accept      *ports.Channel
	parentID    string
	slots       []*SessionSlot
	fullNotices map[string]fullNotice
}

// fullNotice remembers which trigger a "pool full" notice was posted for, so
// an operator's extension reaction can replay it.
type fullNotice struct {
	triggerChannelID string
	triggerID        string
}

func newSessionPool(guildID string, platform ports.Platform, store ports.SettingsStore, reg *registry, clock ports.Clock, log *slog.Logger) *SessionPool {
	return &SessionPool{
		guildID:     guildID,
		platform:    platform,
		store:       store,
		reg:         reg,
		clock:       clock,
		log:         log.With("guild", guildID),
		fullNotices: map[string]fullNotice{},
	}
}

// Init loads settings, binds the accept channel, discovers slots and recovers
// their state. The dispatcher registers the pool for routing only after Init
// returns, so no trigger is routed against unrecovered slots.
func (p *SessionPool) Init(ctx context.Context) error {
	if err := p.refreshSettings(ctx); err != nil {
		return err
	}
	if err := p.bindAccept(ctx); err != nil {
		return err
	}
	if err := p.discoverSlots(ctx); err != nil {
		return err
	}
	p.recoverAll(ctx)
	return nil
}

func (p *SessionPool) refreshSettings(ctx context.Context) error {
	settings, err := p.store.Read(ctx, p.guildID)
	if err != nil {
		return fmt.Errorf("read settings for guild %s: %w", p.guildID, err)
	}
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("settings for guild %s: %w", p.guildID, err)
	}
	p.mu.Lock()
	p.settings = settings
	p.mu.Unlock()
	return nil
}

func (p *SessionPool) Settings() domain.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// AcceptChannelID returns the bound accept channel id, empty when unbound.
func (p *SessionPool) AcceptChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accept == nil {
		return ""
	}
	return p.accept.ID
}

func (p *SessionPool) bindAccept(ctx context.Context) error {
	settings := p.Settings()

	p.mu.Lock()
	p.accept = nil
	p.parentID = ""
	p.mu.Unlock()

	if settings.AcceptChannelID == "" {
		return nil
	}

	channels, err := p.platform.ListChannels(ctx, p.guildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	for i := range channels {
		if channels[i].ID == settings.AcceptChannelID {
			p.mu.Lock()
			p.accept = &channels[i]
			p.parentID = channels[i].ParentID
			p.mu.Unlock()
			return nil
		}
	}

	p.log.Warn("configured accept channel not found", "channel", settings.AcceptChannelID)
	return nil
}

// discoverSlots rebuilds the slot list from the channels matching the naming
// pattern under the accept channel's parent scope, ordered by display
// position. Slot count always equals discovered channel count.
func (p *SessionPool) discoverSlots(ctx context.Context) error {
	for _, slot := range p.Slots() {
		p.reg.dropSlot(slot)
	}

	p.mu.Lock()
	accept := p.accept
	parentID := p.parentID
	settings := p.settings
	p.slots = nil
	p.mu.Unlock()

	if accept == nil {
		return nil
	}

	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(settings.NamingPattern) + `\d{1,3}$`)
	if err != nil {
		return fmt.Errorf("naming pattern: %w", err)
	}

	channels, err := p.platform.ListChannels(ctx, p.guildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	matched := make([]ports.Channel, 0, len(channels))
	for _, ch := range channels {
		if parentID != "" && ch.ParentID != parentID {
			continue
		}
		if pattern.MatchString(ch.Name) {
			matched = append(matched, ch)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Position < matched[j].Position })

	slots := make([]*SessionSlot, 0, len(matched))
	for _, ch := range matched {
		slots = append(slots, newSessionSlot(p, ch))
	}

	p.mu.Lock()
	p.slots = slots
	p.mu.Unlock()
	return nil
}

// recoverAll runs CheckLiving over every slot concurrently. Per-slot failures
// are isolated: one corrupt slot never blocks the rest of the scan.
func (p *SessionPool) recoverAll(ctx context.Context) {
	slots := p.Slots()

	var wg sync.WaitGroup
	for _, slot := range slots {
		wg.Add(1)
		go func(slot *SessionSlot) {
			defer wg.Done()
			if err := slot.CheckLiving(ctx); err != nil {
				p.log.Error("slot recovery failed", "slot", slot.ChannelName(), "error", err)
			}
		}(slot)
	}
	wg.Wait()
}

func (p *SessionPool) Slots() []*SessionSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*SessionSlot, len(p.slots))
	copy(out, p.slots)
	return out
}

// HandleTrigger routes an inbound trigger: first idle slot in pool order,
// else a freshly provisioned slot while below max size, else a "pool full"
// notice carrying the extension affordance.
func (p *SessionPool) HandleTrigger(ctx context.Context, msg ports.Message) error {
	allowed, err := p.authorMayTrigger(ctx, msg.AuthorID)
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	slot := p.claimIdle()
	if slot == nil {
		settings := p.Settings()
		if len(p.Slots()) < settings.MaxSize {
			provisioned, err := p.provisionSlot(ctx)
			if err != nil {
				return err
			}
			if provisioned.tryClaim() {
				slot = provisioned
			}
		}
	}
	if slot == nil {
		return p.reportFull(ctx, msg)
	}

	return slot.Open(ctx, msg)
}

func (p *SessionPool) claimIdle() *SessionSlot {
	p.mu.Lock()
	slots := p.slots
	p.mu.Unlock()
	for _, slot := range slots {
		if slot.tryClaim() {
			return slot
		}
	}
	return nil
}

func (p *SessionPool) authorMayTrigger(ctx context.Context, userID string) (bool, error) {
	settings := p.Settings()
	if len(settings.AllowRoles) == 0 {
		return true, nil
	}

	roles, err := p.platform.MemberRoles(ctx, p.guildID, userID)
	if err != nil {
		return false, fmt.Errorf("member roles: %w", err)
	}
	if hasAnyRole(roles, settings.AllowRoles) {
		return true, nil
	}
	return p.isOperator(ctx, userID)
}

// isOperator reports whether the member may use admin affordances: the
// channel-management permission or one of the configured admin roles.
func (p *SessionPool) isOperator(ctx context.Context, userID string) (bool, error) {
	canManage, err := p.platform.MemberCanManageChannels(ctx, p.guildID, userID)
	if err != nil {
		return false, fmt.Errorf("member permissions: %w", err)
	}
	if canManage {
		return true, nil
	}

	settings := p.Settings()
	if len(settings.AdminRoles) == 0 {
		return false, nil
	}
	roles, err := p.platform.MemberRoles(ctx, p.guildID, userID)
	if err != nil {
		return false, fmt.Errorf("member roles: %w", err)
	}
	return hasAnyRole(roles, settings.AdminRoles), nil
}

func hasAnyRole(roles, wanted []string) bool {
	for _, role := range roles {
		for _, w := range wanted {
			if role == w {
				return true
			}
		}
	}
	return false
}

func (p *SessionPool) reportFull(ctx context.Context, trigger ports.Message) error {
	acceptID := p.AcceptChannelID()
	if acceptID == "" {
		return domain.ErrNoAcceptChannel
	}

	notice, err := p.platform.SendMessage(ctx, acceptID, poolFullText)
	if err != nil {
		return fmt.Errorf("post full notice: %w", err)
	}
	if err := p.platform.AddReaction(ctx, notice.ChannelID, notice.ID, extensionEmoji); err != nil {
		p.log.Warn("could not attach extension reaction", "error", err)
	}

	p.mu.Lock()
	p.fullNotices[notice.ID] = fullNotice{triggerChannelID: trigger.ChannelID, triggerID: trigger.ID}
	p.mu.Unlock()

	p.log.Info("pool full", "trigger", trigger.ID)
	return nil
}

// HandleExtension reacts to an operator's extension emoji on a "pool full"
// notice: provision one extra channel and replay the original trigger.
func (p *SessionPool) HandleExtension(ctx context.Context, r ports.Reaction) error {
	if r.Emoji != extensionEmoji {
		return nil
	}

	p.mu.Lock()
	pending, ok := p.fullNotices[r.MessageID]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	operator, err := p.isOperator(ctx, r.UserID)
	if err != nil {
		return err
	}
	if !operator {
		return nil
	}

	trigger, err := p.platform.FetchMessage(ctx, pending.triggerChannelID, pending.triggerID)
	if err != nil {
		// The trigger vanished while waiting; nothing left to extend for.
		p.mu.Lock()
		delete(p.fullNotices, r.MessageID)
		p.mu.Unlock()
		return nil
	}

	if err := p.platform.DeleteMessage(ctx, r.ChannelID, r.MessageID); err != nil {
		p.log.Warn("could not delete full notice", "error", err)
	}
	p.mu.Lock()
	delete(p.fullNotices, r.MessageID)
	p.mu.Unlock()

	if _, err := p.provisionSlot(ctx); err != nil {
		return err
	}
	return p.HandleTrigger(ctx, trigger)
}

// provisionSlot creates the next live channel: sequential 1-3 digit suffix,
// insertion after the last slot (reset to the scope front when past the
// channel-count ceiling), restriction overwrites applied before use. Failure
// is reported to the accept channel and leaves pool state untouched.
func (p *SessionPool) provisionSlot(ctx context.Context) (*SessionSlot, error) {
	p.mu.Lock()
	settings := p.settings
	accept := p.accept
	parentID := p.parentID
	var last *SessionSlot
	if len(p.slots) > 0 {
		last = p.slots[len(p.slots)-1]
	}
	p.mu.Unlock()

	if accept == nil {
		return nil, domain.ErrNoAcceptChannel
	}

	name := settings.NamingPattern + strconv.Itoa(p.nextNumber(last, settings.NamingPattern))
	position, err := p.nextPosition(ctx, last, accept, parentID)
	if err != nil {
		return nil, err
	}

	channel, err := p.platform.CreateChannel(ctx, p.guildID, ports.ChannelCreate{
		Name:            name,
		ParentID:        parentID,
		Position:        position,
		Topic:           settings.Topic,
		SlowModeSeconds: settings.SlowModeSeconds,
	})
	if err != nil {
		if _, nerr := p.platform.SendMessage(ctx, accept.ID, provisionFailedText); nerr != nil {
			p.log.Warn("could not report provisioning failure", "error", nerr)
		}
		return nil, fmt.Errorf("create channel %s: %w", name, err)
	}

	for _, roleID := range settings.RestrictionRoles {
		if err := p.platform.SetSendPermission(ctx, channel.ID, roleID, false); err != nil {
			p.log.Warn("could not apply send restriction", "channel", channel.ID, "role", roleID, "error", err)
		}
	}

	slot := newSessionSlot(p, channel)
	if err := slot.CheckLiving(ctx); err != nil {
		p.log.Warn("could not initialize marker for new slot", "slot", name, "error", err)
	}

	p.mu.Lock()
	p.slots = append(p.slots, slot)
	p.mu.Unlock()

	p.log.Info("provisioned slot", "slot", name)
	return slot, nil
}

func (p *SessionPool) nextNumber(last *SessionSlot, namingPattern string) int {
	if last == nil || len(last.ChannelName()) <= len(namingPattern) {
		return 1
	}
	suffix := last.ChannelName()[len(namingPattern):]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 1
	}
	return n + 1
}

func (p *SessionPool) nextPosition(ctx context.Context, last *SessionSlot, accept *ports.Channel, parentID string) (int, error) {
	count, err := p.platform.ChannelCount(ctx, p.guildID, parentID)
	if err != nil {
		return 0, fmt.Errorf("channel count: %w", err)
	}

	base := accept.Position
	if last != nil {
		base = last.channel.Position
	}
	position := base + 2
	if position > count {
		return 0, nil
	}
	return position, nil
}

// ReconcileSize grows the pool up to min size and trims trailing idle slots
// above it. A slot that is not idle is never removed here; its removal is
// deferred until it drains (see endRouting).
func (p *SessionPool) ReconcileSize(ctx context.Context) error {
	settings := p.Settings()
	if p.AcceptChannelID() == "" {
		return nil
	}

	for len(p.Slots()) < settings.MinSize {
		if _, err := p.provisionSlot(ctx); err != nil {
			return err
		}
	}

	p.shrinkToMin(ctx)
	return nil
}

// shrinkToMin removes the idle tail of the slot list while the pool exceeds
// min size. Only the last slot is ever removed, so numbering stays dense and
// no gap opens in front of a live channel; a busy tail defers the shrink
// until it drains (see endRouting).
func (p *SessionPool) shrinkToMin(ctx context.Context) {
	for {
		settings := p.Settings()

		p.mu.Lock()
		if len(p.slots) <= settings.MinSize {
			p.mu.Unlock()
			return
		}
		last := len(p.slots) - 1
		if p.slots[last].Status() != domain.StatusIdle {
			p.mu.Unlock()
			return
		}
		slot := p.slots[last]
		p.slots = p.slots[:last]
		p.mu.Unlock()

		p.reg.dropSlot(slot)
		if err := p.platform.DeleteChannel(ctx, slot.ChannelID()); err != nil {
			p.log.Warn("could not delete excess channel", "slot", slot.ChannelName(), "error", err)
		} else {
			p.log.Info("removed excess slot", "slot", slot.ChannelName())
		}
	}
}

// endRouting makes a drained slot visible to routing again and applies any
// deferred shrink.
func (p *SessionPool) endRouting(ctx context.Context, _ *SessionSlot) {
	p.shrinkToMin(ctx)
}

// UpdateAccept rebinds the accept channel after the corresponding settings
// change and rebuilds the pool. Returns the previous accept channel id so the
// dispatcher can fix its routing table.
func (p *SessionPool) UpdateAccept(ctx context.Context) (previous string, err error) {
	previous = p.AcceptChannelID()
	if err := p.refreshSettings(ctx); err != nil {
		return previous, err
	}
	if err := p.bindAccept(ctx); err != nil {
		return previous, err
	}
	return previous, p.UpdateChannels(ctx)
}

// UpdateChannels rebuilds the slot list wholesale, rediscovering channels and
// recovering their persisted state. Used after naming-pattern changes.
func (p *SessionPool) UpdateChannels(ctx context.Context) error {
	if err := p.refreshSettings(ctx); err != nil {
		return err
	}
	if err := p.discoverSlots(ctx); err != nil {
		return err
	}
	p.recoverAll(ctx)
	return nil
}

// FillChannels reconciles pool size after a min-size change.
func (p *SessionPool) FillChannels(ctx context.Context) error {
	if err := p.refreshSettings(ctx); err != nil {
		return err
	}
	return p.ReconcileSize(ctx)
}

// UpdateRestrictionRoles re-applies send overwrites on every slot according
// to its live state.
func (p *SessionPool) UpdateRestrictionRoles(ctx context.Context) error {
	if err := p.refreshSettings(ctx); err != nil {
		return err
	}
	settings := p.Settings()
	for _, slot := range p.Slots() {
		live := slot.Status() == domain.StatusLive
		for _, roleID := range settings.RestrictionRoles {
			if err := p.platform.SetSendPermission(ctx, slot.ChannelID(), roleID, live); err != nil {
				p.log.Warn("could not update send restriction", "slot", slot.ChannelName(), "role", roleID, "error", err)
			}
		}
	}
	return nil
}

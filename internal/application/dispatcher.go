package application

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"

	"livepool/internal/domain"
	"livepool/internal/ports"
)

// triggerPattern gates inbound messages: only messages carrying a link start
// a session.
var triggerPattern = regexp.MustCompile(`https?://[\w!?/+\-_~;.,*&@#$%()'\[\]]+`)

// Dispatcher owns one SessionPool per guild and routes the inbound event
// stream to the owning pool or slot via the shared registry. Message ids are
// globally unique, so one registry serves all guilds.
type Dispatcher struct {
	platform ports.Platform
	store    ports.SettingsStore
	clock    ports.Clock
	log      *slog.Logger
	reg      *registry

	mu      sync.Mutex
	pools   map[string]*SessionPool
	accepts map[string]*SessionPool
}

func NewDispatcher(platform ports.Platform, store ports.SettingsStore, clock ports.Clock, log *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		platform: platform,
		store:    store,
		clock:    clock,
		log:      log,
		reg:      newRegistry(),
		pools:    map[string]*SessionPool{},
		accepts:  map[string]*SessionPool{},
	}
}

// Run consumes settings change notifications until the context ends. Each
// notification fully re-derives the affected pool's state.
func (d *Dispatcher) Run(ctx context.Context) {
	events := d.store.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.handleSettingsEvent(ctx, event)
		}
	}
}

func (d *Dispatcher) handleSettingsEvent(ctx context.Context, event ports.SettingsEvent) {
	pool := d.Pool(event.GuildID)
	if pool == nil {
		return
	}
	log := d.log.With("guild", event.GuildID, "change", string(event.Change))

	var err error
	switch event.Change {
	case ports.SettingsAcceptChanged:
		var previous string
		previous, err = pool.UpdateAccept(ctx)
		d.mu.Lock()
		if previous != "" && d.accepts[previous] == pool {
			delete(d.accepts, previous)
		}
		if id := pool.AcceptChannelID(); id != "" {
			d.accepts[id] = pool
		}
		d.mu.Unlock()
	case ports.SettingsNamingChanged:
		err = pool.UpdateChannels(ctx)
	case ports.SettingsMinSizeChanged:
		err = pool.FillChannels(ctx)
	case ports.SettingsRestrictionChanged:
		err = pool.UpdateRestrictionRoles(ctx)
	default:
		return
	}
	if err != nil {
		log.Error("settings change failed", "error", err)
		return
	}
	log.Info("settings change applied")
}

// Pool returns the pool for a guild, or nil.
func (d *Dispatcher) Pool(guildID string) *SessionPool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pools[guildID]
}

// Pools snapshots every managed pool, for the watchdog and status rendering.
func (d *Dispatcher) Pools() []*SessionPool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*SessionPool, 0, len(d.pools))
	for _, pool := range d.pools {
		out = append(out, pool)
	}
	return out
}

// HandleGuildAvailable builds the guild's pool and recovers its slots. The
// pool joins the routing table only once recovery has finished.
func (d *Dispatcher) HandleGuildAvailable(ctx context.Context, guildID string) {
	d.mu.Lock()
	if _, exists := d.pools[guildID]; exists {
		d.mu.Unlock()
		return
	}
	pool := newSessionPool(guildID, d.platform, d.store, d.reg, d.clock, d.log)
	d.pools[guildID] = pool
	d.mu.Unlock()

	if err := pool.Init(ctx); err != nil {
		d.log.Error("pool initialization failed", "guild", guildID, "error", err)
		d.mu.Lock()
		delete(d.pools, guildID)
		d.mu.Unlock()
		return
	}

	if id := pool.AcceptChannelID(); id != "" {
		d.mu.Lock()
		d.accepts[id] = pool
		d.mu.Unlock()
	}
	d.log.Info("guild pool ready", "guild", guildID, "slots", len(pool.Slots()))
}

func (d *Dispatcher) acceptPool(channelID string) *SessionPool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepts[channelID]
}

func (d *Dispatcher) HandleMessageCreate(ctx context.Context, msg ports.Message) {
	if msg.AuthorBot {
		return
	}
	if !triggerPattern.MatchString(msg.Content) {
		return
	}
	pool := d.acceptPool(msg.ChannelID)
	if pool == nil {
		return
	}
	if err := pool.HandleTrigger(ctx, msg); err != nil {
		d.log.Error("trigger routing failed", "guild", pool.guildID, "trigger", msg.ID, "error", err)
	}
}

func (d *Dispatcher) HandleMessageUpdate(ctx context.Context, msg ports.Message) {
	slot := d.reg.triggerSlot(msg.ID)
	if slot == nil {
		return
	}
	if err := slot.Edit(ctx, msg.Content); err != nil && !errors.Is(err, domain.ErrSlotNotLive) {
		d.log.Warn("edit propagation failed", "trigger", msg.ID, "error", err)
	}
}

func (d *Dispatcher) HandleMessageDelete(ctx context.Context, channelID, messageID string) {
	if slot := d.reg.noticeSlot(messageID); slot != nil {
		if err := slot.Close(ctx, false); err != nil && !errors.Is(err, domain.ErrSlotNotLive) {
			d.log.Error("close after notice deletion failed", "notice", messageID, "error", err)
		}
		return
	}
	if slot := d.reg.triggerSlot(messageID); slot != nil {
		if err := slot.Cancel(ctx); err != nil && !errors.Is(err, domain.ErrSlotNotLive) {
			d.log.Error("cancel after trigger deletion failed", "trigger", messageID, "error", err)
		}
	}
}

func (d *Dispatcher) HandleReactionAdd(ctx context.Context, r ports.Reaction) {
	if r.UserIsBot {
		return
	}
	if slot := d.reg.noticeSlot(r.MessageID); slot != nil {
		if err := slot.ReactionClose(ctx, r); err != nil && !errors.Is(err, domain.ErrSlotNotLive) {
			d.log.Error("reaction close failed", "notice", r.MessageID, "error", err)
		}
		return
	}
	if pool := d.acceptPool(r.ChannelID); pool != nil {
		if err := pool.HandleExtension(ctx, r); err != nil {
			d.log.Error("pool extension failed", "guild", pool.guildID, "error", err)
		}
	}
}

func (d *Dispatcher) HandleReactionRemove(ctx context.Context, r ports.Reaction) {
	if r.UserIsBot {
		return
	}
	slot := d.reg.resumableSlot(r.MessageID)
	if slot == nil {
		return
	}
	if err := slot.ReactionResume(ctx, r); err != nil && !errors.Is(err, domain.ErrSlotNotResumable) {
		d.log.Warn("resume failed, session stays resumable", "notice", r.MessageID, "error", err)
	}
}

var _ ports.EventHandler = (*Dispatcher)(nil)

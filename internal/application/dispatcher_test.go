package application

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepool/internal/domain"
	"livepool/internal/ports"
)

func TestDispatcherIgnoresNonTriggerMessages(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 1, nil)

	env.trigger("no link in here")
	assert.Equal(t, domain.StatusIdle, env.slot(0).Status())

	// Link posted outside the accept channel.
	msg := env.platform.addMessage(slotChannelID(1), testAuthor, testLink)
	env.d.HandleMessageCreate(env.ctx, msg)
	assert.Equal(t, domain.StatusIdle, env.slot(0).Status())
}

func TestDispatcherIgnoresBotAuthors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 1, nil)

	msg := env.platform.addMessage(acceptID, testAuthor, testLink)
	msg.AuthorBot = true
	env.d.HandleMessageCreate(env.ctx, msg)
	assert.Equal(t, domain.StatusIdle, env.slot(0).Status())
}

func TestDispatcherIgnoresBotReactions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 1, nil)

	env.trigger(testLink)
	slot := env.slot(0)
	session := slot.Session()

	react := closeReaction(session.NoticeID, "1", 1)
	react.UserIsBot = true
	env.d.HandleReactionAdd(env.ctx, react)
	assert.Equal(t, domain.StatusLive, slot.Status())
}

func TestGuildAvailableIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 1, nil)

	pool := env.pool()
	env.d.HandleGuildAvailable(env.ctx, testGuild)
	assert.Same(t, pool, env.pool())
	assert.Len(t, env.d.Pools(), 1)
}

func TestGuildAvailableDropsPoolOnInitFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 1, nil)

	env.platform.fail("ListChannels", errors.New("gateway hiccup"))
	env.d.HandleGuildAvailable(env.ctx, "43")
	assert.Nil(t, env.d.Pool("43"))
}

func TestMinSizeChangeFillsPool(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 1, nil)

	env.updateSettings(func(s *domain.Settings) { s.MinSize = 3 })
	env.d.handleSettingsEvent(env.ctx, ports.SettingsEvent{GuildID: testGuild, Change: ports.SettingsMinSizeChanged})

	assert.Len(t, env.pool().Slots(), 3)
}

func TestNamingChangeRediscoversSlots(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 2, nil)
	env.platform.addChannel(testGuild, "300", "stream1", "", 5)

	env.updateSettings(func(s *domain.Settings) { s.NamingPattern = "stream" })
	env.d.handleSettingsEvent(env.ctx, ports.SettingsEvent{GuildID: testGuild, Change: ports.SettingsNamingChanged})

	slots := env.pool().Slots()
	require.Len(t, slots, 1)
	assert.Equal(t, "stream1", slots[0].ChannelName())
	assert.Equal(t, domain.StateClosed, env.platform.markerName("300"))
}

func TestAcceptChangeRewiresRouting(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{}, 1, nil)
	env.platform.addChannel(testGuild, "101", "requests-2", "", 9)

	env.updateSettings(func(s *domain.Settings) { s.AcceptChannelID = "101" })
	env.d.handleSettingsEvent(env.ctx, ports.SettingsEvent{GuildID: testGuild, Change: ports.SettingsAcceptChanged})

	assert.Nil(t, env.d.acceptPool(acceptID))
	assert.Same(t, env.pool(), env.d.acceptPool("101"))

	// Triggers in the old accept channel no longer route.
	env.trigger(testLink)
	assert.Equal(t, domain.StatusIdle, env.slot(0).Status())

	msg := env.platform.addMessage("101", testAuthor, testLink)
	env.d.HandleMessageCreate(env.ctx, msg)
	assert.Equal(t, domain.StatusLive, env.slot(0).Status())
}

func TestWatchdogSweepIsolatesSlotFailures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, domain.Settings{MinSize: 2, MaxSize: 2, AutoCloseMinutes: 30}, 2, nil)

	env.trigger(testLink)
	env.trigger(testLink)
	env.platform.fail("LastActivity:"+slotChannelID(1), errors.New("permission revoked"))

	env.clock.Advance(31 * time.Minute)
	w := NewWatchdog(env.d, 0, nil)
	w.sweep(env.ctx)

	assert.Equal(t, domain.StatusLive, env.slot(0).Status())
	assert.Equal(t, domain.StatusResumable, env.slot(1).Status())
}

func TestWatchdogDefaultInterval(t *testing.T) {
	t.Parallel()
	w := NewWatchdog(nil, 0, nil)
	assert.Equal(t, DefaultWatchInterval, w.interval)
}

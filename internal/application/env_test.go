package application

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livepool/internal/domain"
	"livepool/internal/ports"
)

const (
	testGuild  = "42"
	acceptID   = "100"
	testAuthor = "501"
	testLink   = "watch here https://example.com/stream/1"
)

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	clock    *fakeClock
	platform *fakePlatform
	store    *fakeSettings
	d        *Dispatcher
}

// newTestEnv builds a one-guild world: an accept channel, slotCount channels
// named after the default pattern, and an initialized dispatcher. preInit runs
// before recovery so tests can seed markers and messages.
func newTestEnv(t *testing.T, settings domain.Settings, slotCount int, preInit func(*fakePlatform)) *testEnv {
	t.Helper()

	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	platform := newFakePlatform(clock)
	platform.addChannel(testGuild, acceptID, "requests", "", 0)
	for i := 1; i <= slotCount; i++ {
		platform.addChannel(testGuild, slotChannelID(i), "live"+strconv.Itoa(i), "", i)
	}

	if settings.AcceptChannelID == "" {
		settings.AcceptChannelID = acceptID
	}
	store := newFakeSettings()
	store.set(testGuild, settings)

	if preInit != nil {
		preInit(platform)
	}

	d := NewDispatcher(platform, store, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	d.HandleGuildAvailable(ctx, testGuild)

	return &testEnv{t: t, ctx: ctx, clock: clock, platform: platform, store: store, d: d}
}

func slotChannelID(i int) string { return strconv.Itoa(200 + i) }

func (e *testEnv) pool() *SessionPool {
	e.t.Helper()
	pool := e.d.Pool(testGuild)
	require.NotNil(e.t, pool, "guild pool missing")
	return pool
}

func (e *testEnv) slot(i int) *SessionSlot {
	e.t.Helper()
	slots := e.pool().Slots()
	require.Greater(e.t, len(slots), i, "slot %d missing", i)
	return slots[i]
}

func (e *testEnv) trigger(content string) ports.Message {
	return e.triggerFrom(testAuthor, content)
}

func (e *testEnv) triggerFrom(userID, content string) ports.Message {
	e.t.Helper()
	msg := e.platform.addMessage(acceptID, userID, content)
	e.d.HandleMessageCreate(e.ctx, msg)
	return msg
}

func (e *testEnv) findMessage(channelID, content string) ports.Message {
	e.t.Helper()
	for _, msg := range e.platform.messagesIn(channelID) {
		if msg.Content == content {
			return msg
		}
	}
	require.FailNowf(e.t, "message not found", "channel %s has no message %q", channelID, content)
	return ports.Message{}
}

func (e *testEnv) updateSettings(mutate func(*domain.Settings)) {
	e.t.Helper()
	settings, err := e.store.Read(e.ctx, testGuild)
	require.NoError(e.t, err)
	mutate(&settings)
	e.store.set(testGuild, settings)
}

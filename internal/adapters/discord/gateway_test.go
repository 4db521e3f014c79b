package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepool/internal/ports"
)

// recordingHandler captures delivered events in arrival order.
type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	copy(out, h.events)
	return out
}

func (h *recordingHandler) HandleGuildAvailable(_ context.Context, guildID string) {
	h.record("guild:" + guildID)
}

func (h *recordingHandler) HandleMessageCreate(_ context.Context, msg ports.Message) {
	h.record("create:" + msg.ID)
}

func (h *recordingHandler) HandleMessageUpdate(_ context.Context, msg ports.Message) {
	h.record("update:" + msg.ID)
}

func (h *recordingHandler) HandleMessageDelete(_ context.Context, _, messageID string) {
	h.record("delete:" + messageID)
}

func (h *recordingHandler) HandleReactionAdd(_ context.Context, r ports.Reaction) {
	h.record("react+:" + r.MessageID)
}

func (h *recordingHandler) HandleReactionRemove(_ context.Context, r ports.Reaction) {
	h.record(fmt.Sprintf("react-:%s:%d", r.MessageID, r.Count))
}

func dispatchEvent(t *testing.T, g *Gateway, eventType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	g.dispatch(context.Background(), gatewayPayload{Op: opDispatch, T: eventType, D: raw})
}

func TestDispatchDeliversMessageEventsInOrder(t *testing.T) {
	t.Parallel()
	handler := &recordingHandler{}
	g := NewGateway("token123", handler, nil, nil)

	msg := map[string]any{
		"id": "800", "channel_id": "55",
		"author":  map[string]any{"id": "501"},
		"content": "https://example.com/stream/1",
	}
	dispatchEvent(t, g, "MESSAGE_CREATE", msg)
	dispatchEvent(t, g, "MESSAGE_DELETE", map[string]any{"id": "800", "channel_id": "55"})
	dispatchEvent(t, g, "MESSAGE_UPDATE", msg)
	dispatchEvent(t, g, "MESSAGE_REACTION_ADD", map[string]any{
		"user_id": "501", "channel_id": "55", "message_id": "800",
		"emoji": map[string]any{"name": "💤"},
	})

	// Every message event must already be delivered when dispatch returns.
	// A trigger posted and deleted back to back relies on the create being
	// handled before the delete; asynchronous delivery would let the delete
	// overtake it and leave the session without its cancel.
	assert.Equal(t, []string{"create:800", "delete:800", "update:800", "react+:800"}, handler.recorded())
}

func TestDispatchSkipsOwnMessages(t *testing.T) {
	t.Parallel()
	handler := &recordingHandler{}
	g := NewGateway("token123", handler, nil, nil)

	dispatchEvent(t, g, "READY", map[string]any{
		"session_id":         "sess1",
		"resume_gateway_url": "wss://resume.example",
		"user":               map[string]any{"id": "7", "username": "livepool"},
	})
	dispatchEvent(t, g, "MESSAGE_CREATE", map[string]any{
		"id": "801", "channel_id": "55",
		"author":  map[string]any{"id": "7", "bot": true},
		"content": "🔴 Live session started",
	})

	assert.Empty(t, handler.recorded())
}

func TestDispatchReactionRemoveCarriesCount(t *testing.T) {
	t.Parallel()
	rest := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/55/messages/800", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "800", "channel_id": "55",
			"author": map[string]any{"id": "1"},
			"reactions": []map[string]any{
				{"count": 2, "emoji": map[string]any{"name": "💤"}},
			},
		})
	})
	handler := &recordingHandler{}
	g := NewGateway("token123", handler, rest, nil)

	dispatchEvent(t, g, "MESSAGE_REACTION_REMOVE", map[string]any{
		"user_id": "501", "channel_id": "55", "message_id": "800",
		"emoji": map[string]any{"name": "💤"},
	})

	assert.Equal(t, []string{"react-:800:2"}, handler.recorded())
}

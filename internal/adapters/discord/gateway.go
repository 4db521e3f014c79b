package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livepool/internal/ports"
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Gateway intents.
const (
	intentGuilds                = 1 << 0
	intentGuildMessages         = 1 << 9
	intentGuildMessageReactions = 1 << 10
	intentMessageContent        = 1 << 15
)

const reconnectDelay = 5 * time.Second

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID        string   `json:"session_id"`
	ResumeGatewayURL string   `json:"resume_gateway_url"`
	User             restUser `json:"user"`
}

type guildCreateData struct {
	ID string `json:"id"`
}

type messageDeleteData struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

type reactionEventData struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	GuildID   string `json:"guild_id"`
	Emoji     struct {
		Name string `json:"name"`
	} `json:"emoji"`
	Member struct {
		User restUser `json:"user"`
	} `json:"member"`
}

// Gateway maintains the Discord gateway connection and feeds decoded events
// into the handler. It resumes the session after transient drops and
// re-identifies when the session is invalidated.
type Gateway struct {
	Token   string
	URL     string
	Handler ports.EventHandler
	Rest    *RestClient
	Log     *slog.Logger

	mu        sync.Mutex
	seq       int64
	sessionID string
	resumeURL string
	botUserID string
}

func NewGateway(token string, handler ports.EventHandler, rest *RestClient, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		Token:   token,
		URL:     defaultGatewayURL,
		Handler: handler,
		Rest:    rest,
		Log:     log,
	}
}

// Run connects and processes events until the context ends, reconnecting
// after failures.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		if err := g.connectAndRun(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.Log.Error("gateway connection lost", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
			g.Log.Info("gateway reconnecting")
		}
	}
}

func (g *Gateway) dialURL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionID != "" && g.resumeURL != "" {
		return g.resumeURL + "/?v=10&encoding=json"
	}
	if g.URL != "" {
		return g.URL
	}
	return defaultGatewayURL
}

func (g *Gateway) connectAndRun(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	// Writes come from the read loop and the heartbeat goroutine.
	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go g.heartbeatLoop(hbCtx, writeJSON, time.Duration(hd.HeartbeatInterval)*time.Millisecond)

	g.mu.Lock()
	sessionID := g.sessionID
	seq := g.seq
	g.mu.Unlock()

	if sessionID != "" {
		err = writeJSON(gatewayPayload{Op: opResume, D: mustMarshal(resumeData{Token: g.Token, SessionID: sessionID, Seq: seq})})
	} else {
		err = writeJSON(gatewayPayload{Op: opIdentify, D: mustMarshal(identifyData{
			Token:   g.Token,
			Intents: intentGuilds | intentGuildMessages | intentGuildMessageReactions | intentMessageContent,
			Properties: map[string]string{
				"os": "linux", "browser": "livepool", "device": "livepool",
			},
		})})
	}
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return fmt.Errorf("read event: %w", err)
		}

		if payload.S != nil {
			g.mu.Lock()
			g.seq = *payload.S
			g.mu.Unlock()
		}

		switch payload.Op {
		case opDispatch:
			g.dispatch(ctx, payload)
		case opHeartbeat:
			g.mu.Lock()
			seq := g.seq
			g.mu.Unlock()
			if err := writeJSON(gatewayPayload{Op: opHeartbeat, D: mustMarshal(seq)}); err != nil {
				return fmt.Errorf("requested heartbeat: %w", err)
			}
		case opReconnect:
			g.Log.Info("gateway requested reconnect")
			return nil
		case opInvalidSession:
			g.Log.Warn("gateway session invalidated")
			g.mu.Lock()
			g.sessionID = ""
			g.resumeURL = ""
			g.mu.Unlock()
			return nil
		case opHeartbeatAck:
		}
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, write func(any) error, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			seq := g.seq
			g.mu.Unlock()
			if err := write(gatewayPayload{Op: opHeartbeat, D: mustMarshal(seq)}); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, payload gatewayPayload) {
	switch payload.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(payload.D, &ready); err != nil {
			g.Log.Warn("bad ready payload", "error", err)
			return
		}
		g.mu.Lock()
		g.sessionID = ready.SessionID
		g.resumeURL = ready.ResumeGatewayURL
		g.botUserID = ready.User.ID
		g.mu.Unlock()
		g.Log.Info("gateway ready", "user", ready.User.Username)

	case "GUILD_CREATE":
		var guild guildCreateData
		if err := json.Unmarshal(payload.D, &guild); err != nil {
			return
		}
		// Guild setup recovers every slot over REST and does not order
		// against message events; everything below is delivered one at a
		// time from the read loop to preserve the gateway's event order.
		go g.Handler.HandleGuildAvailable(ctx, guild.ID)

	case "MESSAGE_CREATE", "MESSAGE_UPDATE":
		var msg restMessage
		if err := json.Unmarshal(payload.D, &msg); err != nil {
			return
		}
		if msg.Author.ID == g.ownID() {
			return
		}
		event := msg.toPort()
		if payload.T == "MESSAGE_CREATE" {
			g.Handler.HandleMessageCreate(ctx, event)
		} else {
			g.Handler.HandleMessageUpdate(ctx, event)
		}

	case "MESSAGE_DELETE":
		var del messageDeleteData
		if err := json.Unmarshal(payload.D, &del); err != nil {
			return
		}
		g.Handler.HandleMessageDelete(ctx, del.ChannelID, del.ID)

	case "MESSAGE_REACTION_ADD":
		reaction, ok := g.decodeReaction(payload.D)
		if !ok {
			return
		}
		g.Handler.HandleReactionAdd(ctx, reaction)

	case "MESSAGE_REACTION_REMOVE":
		reaction, ok := g.decodeReaction(payload.D)
		if !ok {
			return
		}
		if g.Rest != nil {
			count, err := g.Rest.ReactionCount(ctx, reaction.ChannelID, reaction.MessageID, reaction.Emoji)
			if err != nil {
				g.Log.Warn("could not read reaction count", "message", reaction.MessageID, "error", err)
				return
			}
			reaction.Count = count
		}
		g.Handler.HandleReactionRemove(ctx, reaction)
	}
}

func (g *Gateway) decodeReaction(raw json.RawMessage) (ports.Reaction, bool) {
	var data reactionEventData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ports.Reaction{}, false
	}
	return ports.Reaction{
		GuildID:   data.GuildID,
		ChannelID: data.ChannelID,
		MessageID: data.MessageID,
		UserID:    data.UserID,
		Emoji:     data.Emoji.Name,
		UserIsBot: data.Member.User.Bot || data.UserID == g.ownID(),
	}, true
}

func (g *Gateway) ownID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.botUserID
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

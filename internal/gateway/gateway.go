// Package gateway implements the realtime application logic on top of the
// ws transport: presence bookkeeping, room membership with authorization,
// chat message persistence and fan-out, and typed event dispatch.
package gateway

import (
	"context"
	"log"
	"time"

	"github.com/alumnet/platform/internal/auth"
	"github.com/alumnet/platform/internal/chat"
	"github.com/alumnet/platform/internal/metrics"
	"github.com/alumnet/platform/internal/presence"
	"github.com/alumnet/platform/internal/protocol"
	"github.com/alumnet/platform/internal/ratelimit"
	"github.com/alumnet/platform/internal/room"
)

// Error codes carried on error events. The connection stays open after any
// of these; only transport-level failures close it.
const (
	CodeValidation    = "validation_error"
	CodeAuthorization = "authorization_error"
	CodePersistence   = "persistence_error"
	CodeRateLimited   = "rate_limited"
)

// Conn is the gateway's view of an established connection: a room client
// plus the identity verified at handshake time. The ws transport's
// Connection satisfies it; tests substitute fakes.
type Conn interface {
	room.Client
	Identity() auth.Identity
}

// Config holds gateway tuning parameters.
type Config struct {
	StoreTimeout time.Duration // per-operation deadline for chat store calls
	HistoryLimit int           // messages replayed to a joining connection
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StoreTimeout: 5 * time.Second,
		HistoryLimit: 50,
	}
}

// Gateway owns the realtime session state: the presence tracker, the room
// router, and the chat store. All event handling for a single connection
// runs sequentially on the transport's worker goroutine, so a message is
// never broadcast before its Append has returned.
type Gateway struct {
	config      Config
	tracker     *presence.Tracker
	router      *room.Router
	broadcaster room.Broadcaster
	store       chat.Store

	registry *presence.Registry // optional Redis presence mirror
	limiter  *ratelimit.Limiter // optional message rate limiting
}

// New creates a Gateway around the given chat store. Broadcasts go through
// the local router until SetBroadcaster installs a distributed transport.
func New(config Config, store chat.Store) *Gateway {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultConfig().StoreTimeout
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultConfig().HistoryLimit
	}

	router := room.NewRouter()
	return &Gateway{
		config:      config,
		tracker:     presence.NewTracker(),
		router:      router,
		broadcaster: router,
		store:       store,
	}
}

// Router exposes the local room router, e.g. for wiring a relay around it.
func (g *Gateway) Router() *room.Router {
	return g.router
}

// SetBroadcaster replaces the fan-out transport. Must be called before the
// first connection registers.
func (g *Gateway) SetBroadcaster(b room.Broadcaster) {
	g.broadcaster = b
}

// SetRegistry installs an optional Redis presence mirror. Mirror writes are
// best-effort; the in-memory tracker stays authoritative.
func (g *Gateway) SetRegistry(r *presence.Registry) {
	g.registry = r
}

// SetLimiter installs optional per-subject message rate limiting.
func (g *Gateway) SetLimiter(l *ratelimit.Limiter) {
	g.limiter = l
}

// Register wires a freshly authenticated connection into the session state:
// it attaches the connection to the router, joins it to the subject's
// personal room, and — on the subject's first concurrent connection —
// announces the online transition to everyone else.
func (g *Gateway) Register(c Conn) {
	subjectID := c.Identity().SubjectID

	g.router.Attach(c)
	g.router.Join(c, room.Personal(subjectID))

	first := g.tracker.RegisterConnection(subjectID)
	metrics.SubjectsOnline.Set(float64(g.tracker.OnlineCount()))
	if !first {
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeUserOnline, protocol.UserOnlineMsg{
		UserID: subjectID,
	})
	if err != nil {
		log.Printf("gateway: build userOnline for %s: %v", subjectID, err)
	} else {
		g.broadcaster.BroadcastAll(data, c.ConnID())
	}

	if g.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.StoreTimeout)
		defer cancel()
		if err := g.registry.SetOnline(ctx, subjectID); err != nil {
			log.Printf("gateway: presence mirror set online %s: %v", subjectID, err)
		}
	}
}

// Unregister tears down a closed connection: it detaches the connection from
// every room and — when this was the subject's last connection — announces
// the offline transition. Safe to call for connections that never registered.
func (g *Gateway) Unregister(c Conn) {
	subjectID := c.Identity().SubjectID

	g.router.Detach(c.ConnID())

	last := g.tracker.DeregisterConnection(subjectID)
	metrics.SubjectsOnline.Set(float64(g.tracker.OnlineCount()))
	if !last {
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeUserOffline, protocol.UserOfflineMsg{
		UserID: subjectID,
	})
	if err != nil {
		log.Printf("gateway: build userOffline for %s: %v", subjectID, err)
	} else {
		g.broadcaster.BroadcastAll(data, c.ConnID())
	}

	if g.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.StoreTimeout)
		defer cancel()
		if err := g.registry.SetOffline(ctx, subjectID); err != nil {
			log.Printf("gateway: presence mirror set offline %s: %v", subjectID, err)
		}
	}
}

// Dispatch parses and handles one inbound event from a connection. Unknown
// or malformed events produce an error event on the originating connection;
// the connection itself stays open.
func (g *Gateway) Dispatch(c Conn, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("gateway: bad event conn=%s type=%q: %v", c.ConnID(), msgType, err)
		g.sendError(c, CodeValidation, "malformed or unknown event")
		return
	}

	switch m := msg.(type) {
	case protocol.JoinChatMsg:
		g.handleJoin(c, m)
	case protocol.LeaveChatMsg:
		g.handleLeave(c, m)
	case protocol.SendMessageMsg:
		g.handleSend(c, m)
	case protocol.TypingMsg:
		g.handleTyping(c, m)
	case protocol.MarkAsReadMsg:
		g.handleMarkRead(c, m)
	case protocol.PingMsg:
		g.sendPong(c)
	default:
		// ParseClientMessage guarantees one of the above; kept as a guard
		// against the two switches drifting apart.
		g.sendError(c, CodeValidation, "unsupported event")
	}
}

// handleJoin joins the connection to a conversation room after verifying
// the subject is a participant, then replays recent history to the joining
// connection only.
func (g *Gateway) handleJoin(c Conn, m protocol.JoinChatMsg) {
	if m.ChatID == "" {
		g.sendError(c, CodeValidation, "chatId is required")
		return
	}

	subjectID := c.Identity().SubjectID
	ctx, cancel := context.WithTimeout(context.Background(), g.config.StoreTimeout)
	defer cancel()

	ok, err := g.store.IsParticipant(ctx, m.ChatID, subjectID)
	if err != nil {
		log.Printf("gateway: participant check chat=%s subject=%s: %v", m.ChatID, subjectID, err)
		g.sendError(c, CodePersistence, "could not verify conversation membership")
		return
	}
	if !ok {
		g.sendError(c, CodeAuthorization, "not a participant of this conversation")
		return
	}

	g.router.Join(c, room.Conversation(m.ChatID))

	history, err := g.store.History(ctx, m.ChatID, g.config.HistoryLimit)
	if err != nil {
		log.Printf("gateway: history replay chat=%s: %v", m.ChatID, err)
		return
	}

	entries := make([]protocol.HistoryEntry, 0, len(history))
	for _, msg := range history {
		entries = append(entries, protocol.HistoryEntry{
			ID:        msg.ID,
			Sender:    msg.SenderRole,
			SenderID:  msg.SenderID,
			Message:   msg.Body,
			Timestamp: msg.Timestamp,
		})
	}

	data, err := protocol.NewServerMessage(protocol.TypeChatHistory, protocol.ChatHistoryMsg{
		ChatID:   m.ChatID,
		Messages: entries,
	})
	if err != nil {
		log.Printf("gateway: build chatHistory chat=%s: %v", m.ChatID, err)
		return
	}
	_ = c.Send(data)
}

// handleLeave removes the connection from a conversation room. Leaving a
// room the connection never joined is a no-op.
func (g *Gateway) handleLeave(c Conn, m protocol.LeaveChatMsg) {
	if m.ChatID == "" {
		g.sendError(c, CodeValidation, "chatId is required")
		return
	}
	g.router.Leave(c.ConnID(), room.Conversation(m.ChatID))
}

// handleSend validates, authorizes, persists, and then broadcasts a chat
// message. The append happens strictly before the broadcast, so every event
// a client receives refers to a durable message.
func (g *Gateway) handleSend(c Conn, m protocol.SendMessageMsg) {
	if m.ChatID == "" {
		g.sendError(c, CodeValidation, "chatId is required")
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}
	if err := chat.ValidateBody(m.Message); err != nil {
		g.sendError(c, CodeValidation, err.Error())
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}

	identity := c.Identity()
	ctx, cancel := context.WithTimeout(context.Background(), g.config.StoreTimeout)
	defer cancel()

	if g.limiter != nil {
		allowed, _ := g.limiter.Allow(ctx, identity.SubjectID, ratelimit.RuleMessage)
		if !allowed {
			g.sendError(c, CodeRateLimited, "too many messages, slow down")
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return
		}
	}

	// Joined connections were authorized at join time; everyone else gets
	// checked against the store before their message is accepted.
	if !g.router.InRoom(c.ConnID(), room.Conversation(m.ChatID)) {
		ok, err := g.store.IsParticipant(ctx, m.ChatID, identity.SubjectID)
		if err != nil {
			log.Printf("gateway: participant check chat=%s subject=%s: %v", m.ChatID, identity.SubjectID, err)
			g.sendError(c, CodePersistence, "could not verify conversation membership")
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
			return
		}
		if !ok {
			g.sendError(c, CodeAuthorization, "not a participant of this conversation")
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return
		}
	}

	start := time.Now()
	stored, err := g.store.Append(ctx, m.ChatID, identity.SubjectID, identity.Role, m.Message)
	metrics.AppendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("gateway: append chat=%s subject=%s: %v", m.ChatID, identity.SubjectID, err)
		g.sendError(c, CodePersistence, "message could not be saved")
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		ID:        stored.ID,
		ChatID:    stored.ChatID,
		Sender:    stored.SenderRole,
		SenderID:  stored.SenderID,
		Message:   stored.Body,
		Timestamp: stored.Timestamp,
	})
	if err != nil {
		log.Printf("gateway: build newMessage chat=%s: %v", m.ChatID, err)
		return
	}

	// The sender receives its own broadcast: that event, carrying the
	// store-assigned id and timestamp, is the delivery acknowledgement.
	g.broadcaster.Broadcast(room.Conversation(m.ChatID), data, "")
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
}

// handleTyping relays a typing indicator to the rest of the conversation
// room. Typing is advisory, so membership is checked against the room
// (joined connections only), not against the store.
func (g *Gateway) handleTyping(c Conn, m protocol.TypingMsg) {
	if m.ChatID == "" {
		g.sendError(c, CodeValidation, "chatId is required")
		return
	}
	roomName := room.Conversation(m.ChatID)
	if !g.router.InRoom(c.ConnID(), roomName) {
		g.sendError(c, CodeAuthorization, "join the conversation first")
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{
		UserID:   c.Identity().SubjectID,
		IsTyping: m.IsTyping,
		ChatID:   m.ChatID,
	})
	if err != nil {
		log.Printf("gateway: build userTyping chat=%s: %v", m.ChatID, err)
		return
	}
	g.broadcaster.Broadcast(roomName, data, c.ConnID())
}

// handleMarkRead relays a read marker to the rest of the conversation room.
func (g *Gateway) handleMarkRead(c Conn, m protocol.MarkAsReadMsg) {
	if m.ChatID == "" {
		g.sendError(c, CodeValidation, "chatId is required")
		return
	}
	roomName := room.Conversation(m.ChatID)
	if !g.router.InRoom(c.ConnID(), roomName) {
		g.sendError(c, CodeAuthorization, "join the conversation first")
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		ChatID: m.ChatID,
		UserID: c.Identity().SubjectID,
	})
	if err != nil {
		log.Printf("gateway: build messagesRead chat=%s: %v", m.ChatID, err)
		return
	}
	g.broadcaster.Broadcast(roomName, data, c.ConnID())
}

// PushPersonal delivers a prebuilt event to every connection in the
// subject's personal room. Implements the notification dispatcher's Pusher.
func (g *Gateway) PushPersonal(subjectID string, data []byte) {
	g.broadcaster.Broadcast(room.Personal(subjectID), data, "")
}

// IsOnline reports whether the subject has at least one live connection on
// this instance. Implements the notification dispatcher's Presence.
func (g *Gateway) IsOnline(subjectID string) bool {
	return g.tracker.IsOnline(subjectID)
}

// OnlineSubjects returns the subjects currently online on this instance,
// e.g. for periodic presence mirror refreshes.
func (g *Gateway) OnlineSubjects() []string {
	return g.tracker.OnlineSet()
}

func (g *Gateway) sendError(c Conn, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("gateway: build error event: %v", err)
		return
	}
	_ = c.Send(data)
}

func (g *Gateway) sendPong(c Conn) {
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("gateway: build pong: %v", err)
		return
	}
	_ = c.Send(data)
}

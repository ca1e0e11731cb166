// Package gateway implements the realtime messaging backend the client core
// talks to: the websocket fan-out hub, room membership, presence, and the
// in-memory store behind the REST directory endpoints.
package gateway

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brightledger/messaging-core/internal/middleware"
	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
	"github.com/brightledger/messaging-core/pkg/metrics"
)

// HubOptions tunes per-session behavior.
type HubOptions struct {
	// MessagesPerSecond caps inbound send events per session. Zero means 10.
	MessagesPerSecond float64
	// Burst is the limiter burst. Zero means 20.
	Burst int
}

// Relay forwards realtime events to peer gateway instances. The NATS bridge
// implements it; a single-instance deployment runs without one.
type Relay interface {
	Publish(conversationID, receiverID string, env model.Envelope)
	PublishGlobal(env model.Envelope)
}

// Hub maintains the set of active sessions, their room memberships, and the
// presence roster, and routes wire events between them.
type Hub struct {
	store *Store
	log   *logger.Logger
	opts  HubOptions

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[*session]struct{}
	rooms    map[string]map[*session]struct{}
	relay    Relay
}

// NewHub creates a hub over the given store.
func NewHub(store *Store, log *logger.Logger, opts HubOptions) *Hub {
	if log == nil {
		log = logger.Global()
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	return &Hub{
		store: store,
		log:   log.WithComponent("hub"),
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The REST layer enforces origin policy via CORS; the socket
			// accepts any origin here because auth happens on the token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]map[*session]struct{}),
		rooms:    make(map[string]map[*session]struct{}),
	}
}

// SetRelay attaches a cross-instance relay. Must be called before ServeWS.
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// ServeWS upgrades an authenticated request to a websocket session. The auth
// middleware has already rejected requests without a valid bearer token.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		hub:     h,
		conn:    conn,
		send:    make(chan model.Envelope, 64),
		userID:  userID,
		name:    middleware.GetUserName(r.Context()),
		role:    middleware.GetRole(r.Context()),
		rooms:   make(map[string]struct{}),
		limiter: rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.Burst),
	}

	h.register(sess)
	go sess.writePump()
	go sess.readPump()
}

func (h *Hub) register(sess *session) {
	h.mu.Lock()
	first := len(h.sessions[sess.userID]) == 0
	if h.sessions[sess.userID] == nil {
		h.sessions[sess.userID] = make(map[*session]struct{})
	}
	h.sessions[sess.userID][sess] = struct{}{}
	online := h.onlineLocked()
	h.mu.Unlock()

	metrics.SocketConnectionsActive.Inc()
	h.log.Info("session opened", zap.String("user_id", sess.userID))

	// Wholesale snapshot to the new session, incremental event to the rest.
	sess.enqueue(mustEnvelope(model.EventOnlineUsers, model.OnlineUsersPayload{UserIDs: online}))
	if first {
		env := mustEnvelope(model.EventUserOnline, model.PresencePayload{
			UserID: sess.userID,
			Name:   sess.name,
			Role:   sess.role,
		})
		h.broadcast(env, sess)
		if h.relay != nil {
			h.relay.PublishGlobal(env)
		}
	}
}

func (h *Hub) unregister(sess *session) {
	h.mu.Lock()
	if peers, ok := h.sessions[sess.userID]; ok {
		delete(peers, sess)
		if len(peers) == 0 {
			delete(h.sessions, sess.userID)
		}
	}
	for room := range sess.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, sess)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	last := len(h.sessions[sess.userID]) == 0
	h.mu.Unlock()

	metrics.SocketConnectionsActive.Dec()
	h.log.Info("session closed", zap.String("user_id", sess.userID))

	if last {
		env := mustEnvelope(model.EventUserOffline, model.PresencePayload{
			UserID: sess.userID,
			Name:   sess.name,
			Role:   sess.role,
		})
		h.broadcast(env, nil)
		if h.relay != nil {
			h.relay.PublishGlobal(env)
		}
	}
}

func (h *Hub) onlineLocked() []string {
	online := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}

// handleEvent routes one inbound wire event from a session.
func (h *Hub) handleEvent(sess *session, env model.Envelope) {
	switch env.Event {
	case model.EventJoinConversation:
		h.handleJoin(sess, env)
	case model.EventLeaveConversation:
		h.handleLeave(sess, env)
	case model.EventSendMessage:
		h.handleSend(sess, env)
	case model.EventMarkRead:
		h.handleMarkRead(sess, env)
	case model.EventTypingStart, model.EventTypingStop:
		h.handleTyping(sess, env)
	default:
		sess.sendError("unknown event: "+string(env.Event), "")
	}
}

func (h *Hub) handleJoin(sess *session, env model.Envelope) {
	var payload model.RoomPayload
	if err := decode(env, &payload); err != nil {
		sess.sendError("malformed join payload", "")
		return
	}
	if !h.mayJoin(sess.userID, payload.ConversationID) {
		sess.sendError("not a participant of conversation", "")
		return
	}

	h.mu.Lock()
	if h.rooms[payload.ConversationID] == nil {
		h.rooms[payload.ConversationID] = make(map[*session]struct{})
	}
	h.rooms[payload.ConversationID][sess] = struct{}{}
	sess.rooms[payload.ConversationID] = struct{}{}
	h.mu.Unlock()

	metrics.RoomEventsTotal.WithLabelValues("join").Inc()
}

func (h *Hub) handleLeave(sess *session, env model.Envelope) {
	var payload model.RoomPayload
	if err := decode(env, &payload); err != nil {
		return
	}

	h.mu.Lock()
	if members, ok := h.rooms[payload.ConversationID]; ok {
		delete(members, sess)
		if len(members) == 0 {
			delete(h.rooms, payload.ConversationID)
		}
	}
	delete(sess.rooms, payload.ConversationID)
	h.mu.Unlock()

	metrics.RoomEventsTotal.WithLabelValues("leave").Inc()
}

func (h *Hub) handleSend(sess *session, env model.Envelope) {
	var payload model.SendPayload
	if err := decode(env, &payload); err != nil {
		sess.sendError("malformed send payload", "")
		return
	}

	if !sess.limiter.Allow() {
		sess.sendError("rate limit exceeded", payload.TempID)
		return
	}
	if err := middleware.ValidateMessageContent(payload.Content); err != nil {
		sess.sendError(err.Error(), payload.TempID)
		return
	}
	if _, ok := h.store.User(payload.ReceiverID); !ok {
		sess.sendError("unknown receiver", payload.TempID)
		return
	}

	conversationID, err := conversationKey(sess.userID, payload.ReceiverID)
	if err != nil {
		sess.sendError(err.Error(), payload.TempID)
		return
	}

	msgType := payload.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	msg := h.store.Append(model.Message{
		TempID:         payload.TempID,
		SenderID:       sess.userID,
		ReceiverID:     payload.ReceiverID,
		Content:        payload.Content,
		Type:           msgType,
		ConversationID: conversationID,
	})

	metrics.MessagesSentTotal.WithLabelValues(string(msgType)).Inc()

	// Direct ack to the author, echoing the temp id.
	sess.enqueue(mustEnvelope(model.EventMessageSent, model.AckPayload{
		TempID:  payload.TempID,
		Message: msg,
	}))

	// Broadcast to the room and to every session of the receiver. The
	// author's other sessions in the room get it too; recipients sharing a
	// session set dedupe via reconciliation.
	broadcast := mustEnvelope(model.EventNewMessage, msg)
	h.deliver(conversationID, payload.ReceiverID, broadcast, sess)
	if h.relay != nil {
		h.relay.Publish(conversationID, payload.ReceiverID, broadcast)
	}
}

func (h *Hub) handleMarkRead(sess *session, env model.Envelope) {
	var req model.MarkReadRequest
	if err := decode(env, &req); err != nil {
		sess.sendError("malformed mark_read payload", "")
		return
	}
	if req.ConversationID == "" && len(req.MessageIDs) == 0 {
		sess.sendError("conversation id or message ids required", "")
		return
	}

	n, senders := h.store.MarkRead(sess.userID, req)
	if n == 0 {
		return
	}

	receipt := mustEnvelope(model.EventMessagesRead, model.ReadReceiptPayload{
		ConversationID: req.ConversationID,
		ReadBy:         sess.userID,
		ReadCount:      n,
	})
	for senderID := range senders {
		h.sendToUser(senderID, receipt)
		if h.relay != nil {
			h.relay.Publish("", senderID, receipt)
		}
	}
}

func (h *Hub) handleTyping(sess *session, env model.Envelope) {
	var payload model.TypingPayload
	if err := decode(env, &payload); err != nil {
		return
	}
	payload.UserID = sess.userID

	out := mustEnvelope(env.Event, payload)
	h.broadcastToRoom(payload.ConversationID, out, sess)
	if h.relay != nil {
		h.relay.Publish(payload.ConversationID, "", out)
	}
}

// deliver pushes an event to all room members plus every session of the
// receiver, without delivering twice to the same session.
func (h *Hub) deliver(conversationID, receiverID string, env model.Envelope, except *session) {
	h.mu.RLock()
	targets := make(map[*session]struct{})
	for member := range h.rooms[conversationID] {
		targets[member] = struct{}{}
	}
	for peer := range h.sessions[receiverID] {
		targets[peer] = struct{}{}
	}
	h.mu.RUnlock()

	for target := range targets {
		if target == except {
			continue
		}
		target.enqueue(env)
		metrics.MessagesDeliveredTotal.Inc()
	}
}

func (h *Hub) broadcastToRoom(conversationID string, env model.Envelope, except *session) {
	h.mu.RLock()
	members := make([]*session, 0, len(h.rooms[conversationID]))
	for member := range h.rooms[conversationID] {
		if member != except {
			members = append(members, member)
		}
	}
	h.mu.RUnlock()

	for _, member := range members {
		member.enqueue(env)
	}
}

func (h *Hub) broadcast(env model.Envelope, except *session) {
	h.mu.RLock()
	var all []*session
	for _, peers := range h.sessions {
		for peer := range peers {
			if peer != except {
				all = append(all, peer)
			}
		}
	}
	h.mu.RUnlock()

	for _, peer := range all {
		peer.enqueue(env)
	}
}

func (h *Hub) sendToUser(userID string, env model.Envelope) {
	h.mu.RLock()
	peers := make([]*session, 0, len(h.sessions[userID]))
	for peer := range h.sessions[userID] {
		peers = append(peers, peer)
	}
	h.mu.RUnlock()

	for _, peer := range peers {
		peer.enqueue(env)
	}
}

// DeliverRemote pushes a frame relayed from a peer instance into local
// sessions. Routing mirrors the local paths: a receiver id targets that user's
// sessions, a conversation id targets the room, both together behave like a
// local send broadcast.
func (h *Hub) DeliverRemote(conversationID, receiverID string, env model.Envelope) {
	switch {
	case conversationID != "" && receiverID != "":
		h.deliver(conversationID, receiverID, env, nil)
	case receiverID != "":
		h.sendToUser(receiverID, env)
	case conversationID != "":
		h.broadcastToRoom(conversationID, env, nil)
	}
}

// BroadcastRemote pushes a relayed global event to every local session.
func (h *Hub) BroadcastRemote(env model.Envelope) {
	h.broadcast(env, nil)
}

// mayJoin checks that the user is one of the two participants named by the
// conversation key.
func (h *Hub) mayJoin(userID, conversationID string) bool {
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		return false
	}
	return strings.HasPrefix(conversationID, userID+"_") ||
		strings.HasSuffix(conversationID, "_"+userID)
}

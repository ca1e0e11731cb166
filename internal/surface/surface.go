// Package surface wires one UI consumer of the messaging core (an admin
// inbox, a client inbox, or the floating support widget) to the shared
// transport, the shared presence tracker, and its own conversation directory
// and reconciliation engines.
package surface

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brightledger/messaging-core/internal/directory"
	"github.com/brightledger/messaging-core/internal/engine"
	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/internal/presence"
	"github.com/brightledger/messaging-core/internal/transport"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// Kind names one of the independent UI consumers of the messaging core.
type Kind string

const (
	KindAdminInbox  Kind = "admin_inbox"
	KindClientInbox Kind = "client_inbox"
	KindWidget      Kind = "support_widget"
)

var (
	// ErrNotOpen is returned by operations before Open or after Close.
	ErrNotOpen = errors.New("surface: not open")

	// ErrNoActiveConversation is returned by Send when no conversation is
	// selected.
	ErrNoActiveConversation = errors.New("surface: no active conversation")
)

// Notifier receives user-visible, non-blocking notifications. Transport and
// fetch errors are converted here instead of propagating into the event loop.
type Notifier interface {
	Notify(title, body string)
	Error(message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}
func (NopNotifier) Error(string)          {}

// Config assembles a Surface. Manager and Tracker are shared across all
// surfaces of the process; everything else is per-surface.
type Config struct {
	Kind     Kind
	Self     model.Participant
	Manager  *transport.Manager
	Tracker  *presence.Tracker
	API      directory.Fetcher
	Notifier Notifier
	Logger   *logger.Logger

	// EngineOptions is passed to every per-conversation engine.
	EngineOptions engine.Options
}

// Surface is one mounted consumer of the messaging core.
type Surface struct {
	kind     Kind
	self     model.Participant
	manager  *transport.Manager
	tracker  *presence.Tracker
	api      directory.Fetcher
	dir      *directory.Directory
	notifier Notifier
	log      *logger.Logger
	engOpts  engine.Options

	mu       sync.Mutex
	client   *transport.Client
	engines  map[string]*engine.Engine
	activeID string
	joined   map[string]struct{}
	opened   bool
}

// New creates an unmounted surface.
func New(cfg Config) *Surface {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Surface{
		kind:     cfg.Kind,
		self:     cfg.Self,
		manager:  cfg.Manager,
		tracker:  cfg.Tracker,
		api:      cfg.API,
		dir:      directory.New(cfg.API, cfg.Self.ID, log),
		notifier: notifier,
		log:      log.With(zap.String("surface", string(cfg.Kind))),
		engOpts:  cfg.EngineOptions,
		engines:  make(map[string]*engine.Engine),
		joined:   make(map[string]struct{}),
	}
}

// Open mounts the surface: acquires the shared connection, registers its
// event handlers (replacing any prior registration per event kind), and
// fetches the conversation directory plus the global unread count.
func (s *Surface) Open(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	client, err := s.manager.Acquire(ctx, token)
	if err != nil {
		s.notifier.Error("unable to connect to messaging")
		return err
	}

	s.mu.Lock()
	s.client = client
	s.opened = true
	s.mu.Unlock()

	s.registerHandlers(client)

	if err := s.dir.Refresh(ctx); err != nil {
		// Keep whatever state exists; the user sees one notification.
		s.notifier.Error("failed to load conversations")
	}

	if count, err := s.api.UnreadCount(ctx); err == nil {
		s.tracker.SetUnread(count)
	}

	s.log.Info("surface opened")
	return nil
}

// Close unmounts the surface: deregisters handlers, leaves joined rooms, and
// releases the shared connection so the last surface out closes it.
func (s *Surface) Close() {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return
	}
	client := s.client
	joined := make([]string, 0, len(s.joined))
	for id := range s.joined {
		joined = append(joined, id)
	}
	s.joined = make(map[string]struct{})
	s.activeID = ""
	s.opened = false
	s.client = nil
	s.mu.Unlock()

	for _, id := range joined {
		_ = client.LeaveConversation(id)
	}
	for _, ev := range []model.EventType{
		model.EventNewMessage, model.EventMessageSent, model.EventMessageError,
		model.EventMessagesRead, model.EventUserOnline, model.EventUserOffline,
		model.EventOnlineUsers,
	} {
		client.Off(ev)
	}

	s.manager.Release()
	s.log.Info("surface closed")
}

// Directory returns this surface's conversation directory.
func (s *Surface) Directory() *directory.Directory {
	return s.dir
}

// ActiveConversation returns the currently selected conversation id.
func (s *Surface) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Messages returns the reconciled list for one conversation.
func (s *Surface) Messages(conversationID string) []model.Message {
	s.mu.Lock()
	eng, ok := s.engines[conversationID]
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return eng.Messages()
}

// SelectConversation makes the given conversation active: leaves the previous
// room, joins the new one, and seeds the engine from a REST history fetch.
func (s *Surface) SelectConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpen
	}
	client := s.client
	prev := s.activeID
	s.activeID = conversationID
	eng, ok := s.engines[conversationID]
	if !ok {
		eng = engine.New(conversationID, s.engOpts)
		s.engines[conversationID] = eng
	}
	_, alreadyJoined := s.joined[conversationID]
	s.joined[conversationID] = struct{}{}
	s.mu.Unlock()

	if prev != "" && prev != conversationID {
		if err := client.LeaveConversation(prev); err == nil {
			s.mu.Lock()
			delete(s.joined, prev)
			s.mu.Unlock()
		}
	}

	if !alreadyJoined {
		if err := client.JoinConversation(conversationID); err != nil {
			s.notifier.Error("unable to join conversation")
			return err
		}
	}

	history, err := s.api.FetchMessages(ctx, conversationID)
	if err != nil {
		// Existing local state is left untouched on a failed fetch.
		if eng.Len() == 0 {
			s.notifier.Error("failed to load message history")
		}
		return err
	}
	eng.Seed(history)
	return nil
}

// StartConversation begins a chat with a counterpart that may have no prior
// history and makes it the active conversation.
func (s *Surface) StartConversation(ctx context.Context, other model.Participant) (model.Conversation, error) {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return model.Conversation{}, ErrNotOpen
	}
	s.mu.Unlock()

	conv, err := s.dir.StartConversation(other)
	if err != nil {
		return model.Conversation{}, err
	}

	if err := s.SelectConversation(ctx, conv.ConversationID); err != nil {
		return conv, err
	}
	return conv, nil
}

// Send appends an optimistic entry to the active conversation and emits the
// message. When the emit fails the optimistic entry is removed again; nothing
// is queued for retry.
func (s *Surface) Send(content string, msgType model.MessageType) (model.Message, error) {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return model.Message{}, ErrNotOpen
	}
	client := s.client
	active := s.activeID
	eng := s.engines[active]
	s.mu.Unlock()

	if active == "" || eng == nil {
		return model.Message{}, ErrNoActiveConversation
	}

	conv, ok := s.dir.Get(active)
	if !ok {
		return model.Message{}, ErrNoActiveConversation
	}

	msg := model.NewOptimisticMessage(s.self.ID, conv.OtherUser.ID, active, content, msgType)
	eng.AppendOptimistic(msg)

	err := client.Send(model.SendPayload{
		ReceiverID: conv.OtherUser.ID,
		Content:    content,
		Type:       msgType,
		TempID:     msg.TempID,
	})
	if err != nil {
		eng.Remove(msg.TempID)
		s.notifier.Error("message not sent")
		return model.Message{}, err
	}
	return msg, nil
}

// MarkConversationRead marks the active conversation read locally, on the
// transport, and over REST, and lowers the global unread counter by the
// cleared amount.
func (s *Surface) MarkConversationRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpen
	}
	client := s.client
	s.mu.Unlock()

	cleared, err := s.dir.MarkRead(ctx, conversationID)
	if cleared > 0 {
		s.tracker.DecrementUnread(cleared)
	}
	if err != nil {
		return err
	}

	if client.IsConnected() {
		return client.MarkAsRead(model.MarkReadRequest{ConversationID: conversationID})
	}
	return nil
}

func (s *Surface) registerHandlers(client *transport.Client) {
	client.On(model.EventNewMessage, s.handleNewMessage)
	client.On(model.EventMessageSent, s.handleSentAck)
	client.On(model.EventMessageError, s.handleMessageError)
	client.On(model.EventMessagesRead, s.handleReadReceipt)
	client.On(model.EventUserOnline, s.handleUserOnline)
	client.On(model.EventUserOffline, s.handleUserOffline)
	client.On(model.EventOnlineUsers, s.handleOnlineUsers)
	client.OnDisconnect(func(cause error) {
		if cause != nil {
			s.notifier.Error("connection to messaging lost")
		}
	})
}

func (s *Surface) handleNewMessage(data json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("bad new_message payload", zap.Error(err))
		return
	}

	// The active conversation is read under the lock at the moment of
	// receipt; the subscription outlives any single selection.
	s.mu.Lock()
	active := s.activeID
	eng := s.engines[msg.ConversationID]
	s.mu.Unlock()

	if eng != nil {
		eng.Reconcile(msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.dir.Touch(ctx, msg)

	if msg.ConversationID != active && msg.SenderID != s.self.ID {
		s.tracker.IncrementUnread()
		s.dir.IncrementUnread(msg.ConversationID)
		s.notifier.Notify("New message", msg.Content)
	}
}

func (s *Surface) handleSentAck(data json.RawMessage) {
	var ack model.AckPayload
	if err := json.Unmarshal(data, &ack); err != nil {
		s.log.Warn("bad message_sent payload", zap.Error(err))
		return
	}

	msg := ack.Message
	if msg.TempID == "" {
		msg.TempID = ack.TempID
	}

	s.mu.Lock()
	eng := s.engines[msg.ConversationID]
	s.mu.Unlock()

	if eng != nil {
		eng.Reconcile(msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.dir.Touch(ctx, msg)
}

func (s *Surface) handleMessageError(data json.RawMessage) {
	var payload model.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.log.Warn("bad message_error payload", zap.Error(err))
		return
	}

	if payload.TempID != "" {
		s.mu.Lock()
		engines := make([]*engine.Engine, 0, len(s.engines))
		for _, eng := range s.engines {
			engines = append(engines, eng)
		}
		s.mu.Unlock()

		for _, eng := range engines {
			if eng.Remove(payload.TempID) {
				break
			}
		}
	}

	s.notifier.Error("message failed: " + payload.Error)
}

func (s *Surface) handleReadReceipt(data json.RawMessage) {
	var receipt model.ReadReceiptPayload
	if err := json.Unmarshal(data, &receipt); err != nil {
		s.log.Warn("bad messages_read payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	eng := s.engines[receipt.ConversationID]
	s.mu.Unlock()

	if eng != nil {
		// The counterpart read the conversation: our own messages flip to read.
		eng.MarkRead(s.self.ID, time.Now().UTC())
	}
}

func (s *Surface) handleUserOnline(data json.RawMessage) {
	var p model.PresencePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.tracker.SetOnline(p.UserID)
}

func (s *Surface) handleUserOffline(data json.RawMessage) {
	var p model.PresencePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.tracker.SetOffline(p.UserID)
}

func (s *Surface) handleOnlineUsers(data json.RawMessage) {
	var p model.OnlineUsersPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	s.tracker.ReplaceAll(p.UserIDs)
}

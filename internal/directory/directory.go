package directory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/brightledger/messaging-core/internal/identity"
	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// Directory is the list of conversations visible to the current user, kept in
// sync with the engines' last-message pointers.
type Directory struct {
	api    Fetcher
	selfID string
	log    *logger.Logger

	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	order         []string
	loaded        bool
}

// New creates a directory for the given user.
func New(api Fetcher, selfID string, log *logger.Logger) *Directory {
	if log == nil {
		log = logger.Global()
	}
	return &Directory{
		api:           api,
		selfID:        selfID,
		log:           log.WithComponent("directory"),
		conversations: make(map[string]*model.Conversation),
	}
}

// Refresh replaces the list wholesale from the backend. A failed refresh
// leaves existing local state untouched: a populated directory is never
// cleared by a network error.
func (d *Directory) Refresh(ctx context.Context) error {
	convs, err := d.api.FetchConversations(ctx)
	if err != nil {
		d.log.Warn("refresh failed, keeping prior state", zap.Error(err))
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.conversations = make(map[string]*model.Conversation, len(convs))
	d.order = d.order[:0]
	for i := range convs {
		conv := convs[i]
		// History defaults to empty until individually fetched.
		conv.Messages = nil
		d.conversations[conv.ConversationID] = &conv
		d.order = append(d.order, conv.ConversationID)
	}
	d.loaded = true
	return nil
}

// Loaded reports whether at least one refresh succeeded.
func (d *Directory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// Conversations returns the current list in backend order.
func (d *Directory) Conversations() []model.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.Conversation, 0, len(d.order))
	for _, id := range d.order {
		if conv, ok := d.conversations[id]; ok {
			out = append(out, *conv)
		}
	}
	return out
}

// Get returns one conversation by id.
func (d *Directory) Get(conversationID string) (model.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	conv, ok := d.conversations[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return *conv, true
}

// Touch updates the conversation's last-message pointer after a reconciled
// message. When the conversation is not present yet (first message to a newly
// derived id) the directory refreshes wholesale from the backend instead of
// synthesizing a local entry, to avoid divergent shapes.
func (d *Directory) Touch(ctx context.Context, msg model.Message) {
	d.mu.Lock()
	conv, ok := d.conversations[msg.ConversationID]
	if ok {
		m := msg
		conv.LastMessage = &m
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if err := d.Refresh(ctx); err != nil {
		d.log.Warn("refresh after unknown conversation failed",
			zap.String("conversation_id", msg.ConversationID), zap.Error(err))
	}
}

// StartConversation derives the conversation id for the given counterpart and
// materializes a zero-message entry when no history exists yet, so a chat can
// begin with someone the user has never messaged.
func (d *Directory) StartConversation(other model.Participant) (model.Conversation, error) {
	conversationID, err := identity.DeriveConversationID(d.selfID, other.ID)
	if err != nil {
		return model.Conversation{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if conv, ok := d.conversations[conversationID]; ok {
		return *conv, nil
	}

	conv := &model.Conversation{
		ConversationID: conversationID,
		OtherUser:      other,
	}
	d.conversations[conversationID] = conv
	d.order = append([]string{conversationID}, d.order...)

	d.log.Info("conversation started",
		zap.String("conversation_id", conversationID),
		zap.String("other_user", other.ID))
	return *conv, nil
}

// MarkRead zeroes a conversation's unread count locally and propagates the
// mark-read to the backend.
func (d *Directory) MarkRead(ctx context.Context, conversationID string) (int, error) {
	d.mu.Lock()
	var cleared int
	if conv, ok := d.conversations[conversationID]; ok {
		cleared = conv.UnreadCount
		conv.UnreadCount = 0
	}
	d.mu.Unlock()

	err := d.api.MarkRead(ctx, model.MarkReadRequest{ConversationID: conversationID})
	return cleared, err
}

// IncrementUnread bumps a conversation's unread count after an inbound
// message for a non-active conversation.
func (d *Directory) IncrementUnread(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if conv, ok := d.conversations[conversationID]; ok {
		conv.UnreadCount++
	}
}

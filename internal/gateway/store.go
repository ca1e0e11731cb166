package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightledger/messaging-core/internal/model"
)

// Store is the gateway's in-memory message and user store. The durable
// message store is an external service; this keeps just enough state for the
// REST directory and history contracts the clients consume.
type Store struct {
	mu           sync.RWMutex
	users        map[string]model.Participant
	messages     map[string][]model.Message
	participants map[string][2]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:        make(map[string]model.Participant),
		messages:     make(map[string][]model.Message),
		participants: make(map[string][2]string),
	}
}

// UpsertUser registers or updates a participant profile.
func (s *Store) UpsertUser(p model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p
}

// User looks up a participant profile.
func (s *Store) User(id string) (model.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[id]
	return p, ok
}

// AvailableUsers lists every participant except the requesting user, sorted
// by name for stable output.
func (s *Store) AvailableUsers(excludeID string) []model.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Participant, 0, len(s.users))
	for _, p := range s.users {
		if p.ID != excludeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Append stores a message, assigning the server id and timestamp. The
// client-supplied temp id is preserved so the ack and broadcast paths echo it
// verbatim.
func (s *Store) Append(msg model.Message) model.Message {
	msg.ID = uuid.Must(uuid.NewV7()).String()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	if _, ok := s.participants[msg.ConversationID]; !ok {
		s.participants[msg.ConversationID] = [2]string{msg.SenderID, msg.ReceiverID}
	}
	return msg
}

// Messages returns one conversation's history ordered by timestamp.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(userID, conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.participants[conversationID]
	if !ok {
		// No history yet: a client-initiated conversation may exist with
		// zero messages before the first send.
		return true
	}
	return pair[0] == userID || pair[1] == userID
}

// Counterpart returns the other participant of a conversation relative to
// the given user.
func (s *Store) Counterpart(userID, conversationID string) (model.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.participants[conversationID]
	if !ok {
		return model.Participant{}, false
	}
	otherID := pair[0]
	if otherID == userID {
		otherID = pair[1]
	}
	p, ok := s.users[otherID]
	if !ok {
		p = model.Participant{ID: otherID}
	}
	return p, true
}

// ConversationsFor lists every conversation the user participates in, most
// recent activity first, with last-message pointers and per-conversation
// unread counts.
func (s *Store) ConversationsFor(userID string) []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Conversation
	for convID, pair := range s.participants {
		if pair[0] != userID && pair[1] != userID {
			continue
		}
		otherID := pair[0]
		if otherID == userID {
			otherID = pair[1]
		}
		other, ok := s.users[otherID]
		if !ok {
			other = model.Participant{ID: otherID}
		}

		conv := model.Conversation{
			ConversationID: convID,
			OtherUser:      other,
		}
		msgs := s.messages[convID]
		for i := range msgs {
			if msgs[i].ReceiverID == userID && !msgs[i].Read {
				conv.UnreadCount++
			}
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			conv.LastMessage = &last
		}
		out = append(out, conv)
	}

	sort.Slice(out, func(i, j int) bool {
		var ti, tj time.Time
		if out[i].LastMessage != nil {
			ti = out[i].LastMessage.Timestamp
		}
		if out[j].LastMessage != nil {
			tj = out[j].LastMessage.Timestamp
		}
		return ti.After(tj)
	})
	return out
}

// MarkRead flags messages addressed to the user as read. A request carrying
// only a conversation id means all unread messages in that conversation.
// Returns how many messages flipped and the ids of their senders.
func (s *Store) MarkRead(userID string, req model.MarkReadRequest) (int, map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(req.MessageIDs))
	for _, id := range req.MessageIDs {
		wanted[id] = struct{}{}
	}

	now := time.Now().UTC()
	senders := make(map[string]struct{})
	var n int

	mark := func(msgs []model.Message) {
		for i := range msgs {
			if msgs[i].ReceiverID != userID || msgs[i].Read {
				continue
			}
			if len(wanted) > 0 {
				if _, ok := wanted[msgs[i].ID]; !ok {
					continue
				}
			}
			msgs[i].Read = true
			at := now
			msgs[i].ReadAt = &at
			senders[msgs[i].SenderID] = struct{}{}
			n++
		}
	}

	if req.ConversationID != "" {
		mark(s.messages[req.ConversationID])
	} else {
		for _, msgs := range s.messages {
			mark(msgs)
		}
	}
	return n, senders
}

// UnreadTotal returns the user's global unread count across conversations.
func (s *Store) UnreadTotal(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ReceiverID == userID && !msgs[i].Read {
				n++
			}
		}
	}
	return n
}

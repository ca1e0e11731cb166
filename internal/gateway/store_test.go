package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightledger/messaging-core/internal/identity"
	"github.com/brightledger/messaging-core/internal/model"
)

func seedUsers(s *Store) {
	s.UpsertUser(model.Participant{ID: "u1", Name: "Ann", Role: model.RoleAdmin})
	s.UpsertUser(model.Participant{ID: "u2", Name: "Beth", Role: model.RoleClient})
	s.UpsertUser(model.Participant{ID: "u3", Name: "Carl", Role: model.RoleClient})
}

func send(s *Store, from, to, content string) model.Message {
	convID, _ := identity.DeriveConversationID(from, to)
	return s.Append(model.Message{
		TempID:         model.TempIDPrefix + content,
		SenderID:       from,
		ReceiverID:     to,
		Content:        content,
		Type:           model.MessageTypeText,
		ConversationID: convID,
	})
}

func TestAppendAssignsServerIdentity(t *testing.T) {
	s := NewStore()
	seedUsers(s)

	msg := send(s, "u1", "u2", "hello")

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.IsOptimistic())
	assert.Equal(t, model.TempIDPrefix+"hello", msg.TempID, "temp id preserved for echo")
	assert.False(t, msg.Timestamp.IsZero())
}

func TestMessagesOrderedByTimestamp(t *testing.T) {
	s := NewStore()
	seedUsers(s)

	now := time.Now().UTC()
	s.Append(model.Message{SenderID: "u1", ReceiverID: "u2", Content: "late", ConversationID: "u1_u2", Timestamp: now.Add(time.Second)})
	s.Append(model.Message{SenderID: "u2", ReceiverID: "u1", Content: "early", ConversationID: "u1_u2", Timestamp: now})

	msgs := s.Messages("u1_u2")
	require.Len(t, msgs, 2)
	assert.Equal(t, "early", msgs[0].Content)
	assert.Equal(t, "late", msgs[1].Content)
}

func TestConversationsFor(t *testing.T) {
	s := NewStore()
	seedUsers(s)

	send(s, "u1", "u2", "hi beth")
	send(s, "u2", "u1", "hi ann")
	send(s, "u3", "u1", "question")

	convs := s.ConversationsFor("u1")
	require.Len(t, convs, 2)

	// Most recent activity first.
	assert.Equal(t, "u1_u3", convs[0].ConversationID)
	assert.Equal(t, "u3", convs[0].OtherUser.ID)
	assert.Equal(t, 1, convs[0].UnreadCount)

	assert.Equal(t, "u1_u2", convs[1].ConversationID)
	assert.Equal(t, "Beth", convs[1].OtherUser.Name)
	assert.Equal(t, 1, convs[1].UnreadCount, "only messages addressed to u1 count")
	require.NotNil(t, convs[1].LastMessage)
	assert.Equal(t, "hi ann", convs[1].LastMessage.Content)

	assert.Empty(t, s.ConversationsFor("u9"))
}

func TestMarkReadByConversation(t *testing.T) {
	s := NewStore()
	seedUsers(s)

	send(s, "u2", "u1", "one")
	send(s, "u2", "u1", "two")
	send(s, "u1", "u2", "mine stays unread for me")

	n, senders := s.MarkRead("u1", model.MarkReadRequest{ConversationID: "u1_u2"})
	assert.Equal(t, 2, n)
	assert.Contains(t, senders, "u2")

	// Idempotent.
	n, _ = s.MarkRead("u1", model.MarkReadRequest{ConversationID: "u1_u2"})
	assert.Equal(t, 0, n)

	for _, msg := range s.Messages("u1_u2") {
		if msg.ReceiverID == "u1" {
			assert.True(t, msg.Read)
			assert.NotNil(t, msg.ReadAt)
		}
	}
}

func TestMarkReadByMessageIDs(t *testing.T) {
	s := NewStore()
	seedUsers(s)

	m1 := send(s, "u2", "u1", "one")
	send(s, "u2", "u1", "two")

	n, _ := s.MarkRead("u1", model.MarkReadRequest{
		ConversationID: "u1_u2",
		MessageIDs:     []string{m1.ID},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.UnreadTotal("u1"))
}

func TestUnreadTotalSpansConversations(t *testing.T) {
	s := NewStore()
	seedUsers(s)

	send(s, "u2", "u1", "a")
	send(s, "u3", "u1", "b")
	send(s, "u1", "u2", "outbound does not count")

	assert.Equal(t, 2, s.UnreadTotal("u1"))
	assert.Equal(t, 1, s.UnreadTotal("u2"))
}

func TestAvailableUsersExcludesSelf(t *testing.T) {
	s := NewStore()
	seedUsers(s)

	users := s.AvailableUsers("u1")
	require.Len(t, users, 2)
	assert.Equal(t, "Beth", users[0].Name)
	assert.Equal(t, "Carl", users[1].Name)
}

func TestCounterpart(t *testing.T) {
	s := NewStore()
	seedUsers(s)
	send(s, "u1", "u2", "hello")

	other, ok := s.Counterpart("u1", "u1_u2")
	require.True(t, ok)
	assert.Equal(t, "u2", other.ID)

	_, ok = s.Counterpart("u1", "no_history")
	assert.False(t, ok)
}

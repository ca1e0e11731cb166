package model

// Conversation represents a two-party conversation as seen by the current
// user. Messages defaults to empty until the history for the conversation is
// individually fetched.
type Conversation struct {
	ConversationID string      `json:"conversationId"`
	OtherUser      Participant `json:"otherUser"`
	LastMessage    *Message    `json:"lastMessage,omitempty"`
	UnreadCount    int         `json:"unreadCount"`
	Messages       []Message   `json:"messages,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// ListMessagesResponse is the response for fetching a conversation's history.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// AvailableUsersResponse lists participants the current user may start a
// conversation with.
type AvailableUsersResponse struct {
	Users []Participant `json:"users"`
}

// UnreadCountResponse carries the current user's global unread count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// MarkReadRequest asks the backend to mark messages read. At least one of
// ConversationID or MessageIDs must be set; a bare conversation id means
// "all unread in this conversation".
type MarkReadRequest struct {
	ConversationID string   `json:"conversationId,omitempty"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

package model

import (
	"encoding/json"
)

// EventType names a wire event on the realtime transport.
type EventType string

// Client-to-server events.
const (
	EventJoinConversation  EventType = "join_conversation"
	EventLeaveConversation EventType = "leave_conversation"
	EventSendMessage       EventType = "send_message"
	EventMarkRead          EventType = "mark_read"
	EventTypingStart       EventType = "typing_start"
	EventTypingStop        EventType = "typing_stop"
)

// Server-to-client events.
const (
	EventNewMessage   EventType = "new_message"
	EventMessageSent  EventType = "message_sent"
	EventMessageError EventType = "message_error"
	EventUserOnline   EventType = "user_online"
	EventUserOffline  EventType = "user_offline"
	EventOnlineUsers  EventType = "online_users"
	EventMessagesRead EventType = "messages_read"
)

// Envelope is the frame every transport event travels in.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals a payload into an envelope for the given event.
func NewEnvelope(event EventType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// SendPayload is the client request to send a message.
type SendPayload struct {
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
	TempID     string      `json:"tempId,omitempty"`
}

// RoomPayload scopes a join or leave request to one conversation.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// AckPayload confirms a send back to its author, echoing the client-supplied
// temp id verbatim.
type AckPayload struct {
	TempID  string  `json:"tempId,omitempty"`
	Message Message `json:"message"`
}

// ErrorPayload carries a server-side send or protocol error. TempID, when
// set, identifies the failed send so its optimistic entry can be dropped.
type ErrorPayload struct {
	Error  string `json:"error"`
	TempID string `json:"tempId,omitempty"`
}

// PresencePayload announces a single user going online or offline.
type PresencePayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role,omitempty"`
}

// OnlineUsersPayload is the wholesale presence snapshot sent on (re)connect.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// ReadReceiptPayload notifies the author that their messages were read.
type ReadReceiptPayload struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readByUserId"`
	ReadCount      int    `json:"readCount"`
}

// TypingPayload signals typing activity within a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// Package model defines data structures shared by the messaging core.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType represents the kind of content a message carries.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeFile  MessageType = "file"
	MessageTypeImage MessageType = "image"
)

// TempIDPrefix marks message ids created locally before the server has
// acknowledged the send.
const TempIDPrefix = "temp_"

// Message represents one message in a two-party conversation.
//
// Two identity regimes coexist: optimistic messages carry a locally generated
// id with the temp prefix, confirmed messages carry a server-assigned id. The
// reconciliation engine collapses the two representations of one logical send
// into a single entry.
type Message struct {
	ID             string      `json:"id"`
	TempID         string      `json:"tempId,omitempty"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"messageType"`
	ConversationID string      `json:"conversationId"`
	Timestamp      time.Time   `json:"timestamp"`
	Read           bool        `json:"read"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
}

// IsOptimistic reports whether the message has not yet been confirmed by the
// server.
func (m Message) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// NewOptimisticMessage builds a locally visible message for an in-flight send.
// The temp id doubles as the idempotency token the server is expected to echo
// on the ack and broadcast paths.
func NewOptimisticMessage(senderID, receiverID, conversationID, content string, msgType MessageType) Message {
	tempID := TempIDPrefix + uuid.New().String()
	return Message{
		ID:             tempID,
		TempID:         tempID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Type:           msgType,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

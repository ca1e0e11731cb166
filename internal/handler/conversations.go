// Package handler provides HTTP handlers for the messaging REST API.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/brightledger/messaging-core/internal/gateway"
	"github.com/brightledger/messaging-core/internal/middleware"
	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// ConversationHandler serves the conversation directory.
type ConversationHandler struct {
	store  *gateway.Store
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(store *gateway.Store, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: log}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs := h.store.ConversationsFor(userID)
	if convs == nil {
		convs = []model.Conversation{}
	}

	h.logger.Debug("conversations listed",
		zap.String("user_id", userID),
		zap.Int("count", len(convs)),
	)

	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

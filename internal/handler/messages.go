package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightledger/messaging-core/internal/gateway"
	"github.com/brightledger/messaging-core/internal/middleware"
	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// MessageHandler serves message history, read marks, and the unread count.
type MessageHandler struct {
	store  *gateway.Store
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(store *gateway.Store, log *logger.Logger) *MessageHandler {
	return &MessageHandler{store: store, logger: log}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.store.IsParticipant(userID, conversationID) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs := h.store.Messages(conversationID)
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, http.StatusOK, model.ListMessagesResponse{Messages: msgs})
}

// MarkRead handles POST /api/v1/messages/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req model.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" && len(req.MessageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "conversation id or message ids required")
		return
	}

	n, _ := h.store.MarkRead(userID, req)
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// Unread handles GET /api/v1/messages/unread
func (h *MessageHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	writeJSON(w, http.StatusOK, model.UnreadCountResponse{
		Count: h.store.UnreadTotal(userID),
	})
}

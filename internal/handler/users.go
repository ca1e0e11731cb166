package handler

import (
	"net/http"

	"github.com/brightledger/messaging-core/internal/gateway"
	"github.com/brightledger/messaging-core/internal/middleware"
	"github.com/brightledger/messaging-core/internal/model"
	"github.com/brightledger/messaging-core/pkg/logger"
)

// UserHandler serves the list of participants a user can message.
type UserHandler struct {
	store  *gateway.Store
	logger *logger.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(store *gateway.Store, log *logger.Logger) *UserHandler {
	return &UserHandler{store: store, logger: log}
}

// Available handles GET /api/v1/users/available
func (h *UserHandler) Available(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	users := h.store.AvailableUsers(userID)
	if users == nil {
		users = []model.Participant{}
	}

	writeJSON(w, http.StatusOK, model.AvailableUsersResponse{Users: users})
}

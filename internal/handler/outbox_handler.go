package handler

import (
	"errors"
	"net/http"

	"leaflet-sync-server/internal/middleware"
	"leaflet-sync-server/internal/service"
	"leaflet-sync-server/pkg/response"

	"github.com/gorilla/mux"
)

// OutboxHandler exposes poisoned messages for inspection and requeueing.
type OutboxHandler struct {
	service *service.OutboxService
}

func NewOutboxHandler(service *service.OutboxService) *OutboxHandler {
	return &OutboxHandler{service: service}
}

func (h *OutboxHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	msgs, err := h.service.ListFailed(r.Context(), userID)
	if err != nil {
		response.InternalError(w, "failed to list messages")
		return
	}

	response.Success(w, msgs)
}

func (h *OutboxHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	messageID := mux.Vars(r)["id"]

	if err := h.service.Requeue(r.Context(), userID, messageID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(w, "message not found")
			return
		}
		response.BadRequest(w, err.Error())
		return
	}

	response.Success(w, map[string]string{"message": "message requeued"})
}

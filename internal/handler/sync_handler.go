package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"leaflet-sync-server/internal/domain"
	"leaflet-sync-server/internal/middleware"
	"leaflet-sync-server/internal/service"
	"leaflet-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type SyncHandler struct {
	syncService *service.SyncService
	validate    *validator.Validate
}

func NewSyncHandler(syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		validate:    validator.New(),
	}
}

func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res, err := h.syncService.Pull(r.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w, "failed to compute changes")
		return
	}

	response.JSON(w, http.StatusOK, res)
}

func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	res, err := h.syncService.Push(r.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w, "failed to apply changes")
		return
	}

	response.JSON(w, http.StatusOK, res)
}

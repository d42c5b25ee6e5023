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
	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service  *service.DeviceService
	validate *validator.Validate
}

func NewDeviceHandler(service *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	device, err := h.service.Register(r.Context(), userID, &req)
	if err != nil {
		response.InternalError(w, "failed to register device")
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	devices, err := h.service.List(r.Context(), userID)
	if err != nil {
		response.InternalError(w, "failed to list devices")
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	deviceID := mux.Vars(r)["id"]

	if err := h.service.Heartbeat(r.Context(), userID, deviceID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(w, "device not found")
			return
		}
		response.InternalError(w, "failed to update device")
		return
	}

	response.Success(w, map[string]string{"message": "device heartbeat recorded"})
}

func (h *DeviceHandler) Retire(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	deviceID := mux.Vars(r)["id"]

	if err := h.service.Retire(r.Context(), userID, deviceID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.NotFound(w, "device not found")
			return
		}
		response.InternalError(w, "failed to retire device")
		return
	}

	response.Success(w, map[string]string{"message": "device retired"})
}

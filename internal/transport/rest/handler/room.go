package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"rollcall/internal/cache"
	"rollcall/internal/model"
	"rollcall/internal/service"
	"rollcall/internal/transport/rest/middleware"
)

// RoomHandler handles the relay's room registry endpoints
type RoomHandler struct {
	roomSvc *service.RoomService
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(roomSvc *service.RoomService) *RoomHandler {
	return &RoomHandler{roomSvc: roomSvc}
}

// RegisterAuthority handles POST /v1/rooms/{code}/authority
func (h *RoomHandler) RegisterAuthority(w http.ResponseWriter, r *http.Request) {
	hostID := middleware.GetHostID(r.Context())
	if hostID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req model.RoomJoinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.roomSvc.RegisterAuthority(r.Context(), mux.Vars(r)["code"], hostID, req)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Join handles POST /v1/rooms/{code}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req model.RoomJoinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.roomSvc.JoinRoom(r.Context(), mux.Vars(r)["code"], req)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /v1/rooms/{code}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	meta, err := h.roomSvc.GetRoom(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// End handles POST /v1/rooms/{code}/end
func (h *RoomHandler) End(w http.ResponseWriter, r *http.Request) {
	meta, err := h.roomSvc.EndRoom(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeRoomError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func writeRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRoomCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, cache.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomEnded):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

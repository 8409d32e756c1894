package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/model"
	"rollcall/internal/service"
)

// Presence is the part of service.PresenceService the agent API drives
type Presence interface {
	Join(ctx context.Context, in service.ObserveJoin) (model.AttendanceRecord, error)
	Leave(ctx context.Context, in service.ObserveLeave) (service.LeaveResult, error)
	Snapshot(ctx context.Context) (model.Snapshot, error)
	Status(ctx context.Context) (model.AgentStatus, error)
	Export(ctx context.Context, format service.ExportFormat, w io.Writer) error
	RequestSync(ctx context.Context) error
	Close(ctx context.Context) error
}

// AttendanceHandler serves the agent's local API for one room
type AttendanceHandler struct {
	svc  Presence
	room string
	now  func() time.Time
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(svc Presence, room string) *AttendanceHandler {
	return &AttendanceHandler{svc: svc, room: room, now: time.Now}
}

// ObserveJoin handles POST /v1/observations/join
func (h *AttendanceHandler) ObserveJoin(w http.ResponseWriter, r *http.Request) {
	var req service.ObserveJoin
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.svc.Join(r.Context(), req)
	if err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ObserveLeave handles POST /v1/observations/leave. A leave that arrives
// before its join is held by the ledger and answered with 202.
func (h *AttendanceHandler) ObserveLeave(w http.ResponseWriter, r *http.Request) {
	var req service.ObserveLeave
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Leave(r.Context(), req)
	if err != nil {
		writePresenceError(w, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == attendance.LeaveBuffered {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// Snapshot handles GET /v1/attendance
func (h *AttendanceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context())
	if err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Status handles GET /v1/attendance/status
func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Export handles GET /v1/attendance/export?format=csv|json|xlsx
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := service.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// buffered so a failed export can still be reported as an error
	var buf bytes.Buffer
	if err := h.svc.Export(r.Context(), format, &buf); err != nil {
		writePresenceError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", format.FileName(h.room, h.now())))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Sync handles POST /v1/attendance/sync
func (h *AttendanceHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RequestSync(r.Context()); err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// Teardown handles POST /v1/attendance/teardown. The agent keeps serving
// exports and status from the final snapshot afterwards.
func (h *AttendanceHandler) Teardown(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.Context()); err != nil {
		writePresenceError(w, err)
		return
	}
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writePresenceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidJoin), errors.Is(err, service.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

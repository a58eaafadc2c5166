package checkin_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-checkin/internal/attendance"
	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/clock"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/utils"

	"github.com/go-chi/chi/v5"
)

type CheckinService interface {
	Validate(ctx context.Context, req checkin.ValidateRequest) (checkin.Outcome, error)
	Undo(ctx context.Context, req checkin.UndoRequest) (checkin.Outcome, error)
}

type AttendanceService interface {
	Snapshot(ctx context.Context, eventID string) (*attendance.Snapshot, error)
}

type TicketReader interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type AuditReader interface {
	ListByTicket(ctx context.Context, ticketID string) ([]models.CheckInLogEntry, error)
}

type Handler struct {
	Checkin    CheckinService
	Attendance AttendanceService
	Tickets    TicketReader
	Events     EventReader
	Audit      AuditReader
	Emitter    *sse.CheckinEventEmitter
	Ping       func(ctx context.Context) error
	Clock      clock.Clock
	Logger     *logger.Logger
}

// RegisterRoutes mounts the gate API under /api/checkin. The caller is
// expected to have applied auth.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	gate := auth.RequireRole(auth.RoleScanner, auth.RoleStaff)
	staff := auth.RequireRole(auth.RoleStaff)

	r.Route("/api/checkin", func(r chi.Router) {
		r.With(gate).Method(http.MethodPost, "/validate", metrics.Instrument("validate", http.HandlerFunc(h.Validate)))
		r.With(staff).Method(http.MethodPost, "/undo", metrics.Instrument("undo", http.HandlerFunc(h.Undo)))
		r.With(gate).Method(http.MethodGet, "/tickets/{ticketId}", metrics.Instrument("ticket_status", http.HandlerFunc(h.TicketStatus)))
		r.With(staff).Method(http.MethodGet, "/tickets/{ticketId}/audit", metrics.Instrument("ticket_audit", http.HandlerFunc(h.TicketAudit)))
		r.With(gate).Method(http.MethodGet, "/events/{eventId}/attendance", metrics.Instrument("attendance", http.HandlerFunc(h.EventAttendance)))
		r.With(gate).Method(http.MethodGet, "/events/{eventId}/stream", metrics.Instrument("stream", http.HandlerFunc(h.Stream)))
	})
}

type validateRequest struct {
	ScanCode    string `json:"scan_code"`
	TicketID    string `json:"ticket_id"`
	Method      string `json:"method"`
	SelectedDay string `json:"selected_day"`
	DeviceID    string `json:"device_id"`
	Notes       string `json:"notes"`
}

type undoRequest struct {
	TicketID string `json:"ticket_id"`
	DeviceID string `json:"device_id"`
	Notes    string `json:"notes"`
}

// decisionResponse is returned for every decision. Outcome is "accepted"
// or "undone" on success and the rejection reason otherwise.
type decisionResponse struct {
	Outcome      string               `json:"outcome"`
	Status       checkin.Status       `json:"status"`
	Reason       checkin.Reason       `json:"reason,omitempty"`
	TicketID     string               `json:"ticket_id,omitempty"`
	EventID      string               `json:"event_id,omitempty"`
	Day          models.Day           `json:"day,omitempty"`
	PerformedBy  string               `json:"performed_by,omitempty"`
	Method       models.CheckinMethod `json:"method,omitempty"`
	UndoDeadline *time.Time           `json:"undo_deadline,omitempty"`
	At           time.Time            `json:"at"`
	Details      *checkin.Details     `json:"details,omitempty"`
}

func toResponse(o checkin.Outcome) decisionResponse {
	resp := decisionResponse{
		Outcome:      o.Code(),
		Status:       o.Status,
		Reason:       o.Reason,
		TicketID:     o.TicketID,
		EventID:      o.EventID,
		Day:          o.Day,
		PerformedBy:  o.PerformedBy,
		Method:       o.Method,
		UndoDeadline: o.UndoDeadline,
		At:           o.At,
	}
	if hasDetails(o.Details) {
		d := o.Details
		resp.Details = &d
	}
	return resp
}

func hasDetails(d checkin.Details) bool {
	return len(d.AuthorizedDays) > 0 || d.Day != "" || d.UsedAt != nil ||
		d.UndoDeadline != nil || d.StartsAt != nil || d.EndsAt != nil
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var body validateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), false)
		return
	}

	req := checkin.ValidateRequest{
		SelectedDay: body.SelectedDay,
		PerformedBy: auth.StaffID(r.Context()),
		DeviceID:    body.DeviceID,
		Notes:       body.Notes,
	}
	switch {
	case strings.TrimSpace(body.ScanCode) != "":
		req.Identifier, req.Index = body.ScanCode, checkin.IndexScanCode
	case strings.TrimSpace(body.TicketID) != "":
		req.Identifier, req.Index = body.TicketID, checkin.IndexTicketID
	default:
		utils.WriteError(w, http.StatusBadRequest, checkin.ErrIdentifierRequired.Error(), false)
		return
	}

	req.Method = models.CheckinMethod(strings.ToLower(strings.TrimSpace(body.Method)))
	if req.Method == "" {
		req.Method = models.MethodQR
		if req.Index == checkin.IndexTicketID {
			req.Method = models.MethodManual
		}
	}
	if req.Method == models.MethodManual && !auth.HasRole(r.Context(), auth.RoleStaff) {
		utils.WriteError(w, http.StatusForbidden, "manual check-in requires the STAFF role", false)
		return
	}

	outcome, err := h.Checkin.Validate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "Validate", err)
		return
	}

	status := http.StatusOK
	if outcome.Reason == checkin.ReasonInvalidDay {
		status = http.StatusBadRequest
	}
	h.Logger.Info("API", fmt.Sprintf("Validate: ticket=%s outcome=%s device=%s", outcome.TicketID, outcome.Code(), req.DeviceID))
	if err := utils.WriteJSON(w, status, toResponse(outcome)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Validate: failed to encode response: %v", err))
	}
}

func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	var body undoRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), false)
		return
	}

	outcome, err := h.Checkin.Undo(r.Context(), checkin.UndoRequest{
		TicketID:    body.TicketID,
		PerformedBy: auth.StaffID(r.Context()),
		DeviceID:    body.DeviceID,
		Notes:       body.Notes,
	})
	if err != nil {
		h.writeServiceError(w, "Undo", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("Undo: ticket=%s outcome=%s", outcome.TicketID, outcome.Code()))
	if err := utils.WriteJSON(w, http.StatusOK, toResponse(outcome)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Undo: failed to encode response: %v", err))
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, checkin.ErrInvalidMethod),
		errors.Is(err, checkin.ErrIdentifierRequired),
		errors.Is(err, checkin.ErrPerformerRequired):
		utils.WriteError(w, http.StatusBadRequest, err.Error(), false)
	case errors.Is(err, models.ErrVersionConflict):
		h.Logger.Warn("API", fmt.Sprintf("%s: contended ticket: %v", op, err))
		utils.WriteError(w, http.StatusConflict, "ticket was modified concurrently, try again", true)
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: store failure: %v", op, err))
		utils.WriteError(w, http.StatusServiceUnavailable, "check-in temporarily unavailable", true)
	}
}

type ticketStatus struct {
	TicketID       string                       `json:"ticket_id"`
	EventID        string                       `json:"event_id"`
	AttendeeName   string                       `json:"attendee_name,omitempty"`
	State          models.AttendanceState       `json:"state"`
	AuthorizedDays []models.Day                 `json:"authorized_days"`
	UsedDays       []models.Day                 `json:"used_days"`
	LastCheckinAt  *time.Time                   `json:"last_checkin_at,omitempty"`
	UndoDeadline   *time.Time                   `json:"undo_deadline,omitempty"`
	UndoAvailable  bool                         `json:"undo_available"`
	History        []models.CheckinHistoryEntry `json:"history"`
}

func (h *Handler) TicketStatus(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")

	t, err := h.Tickets.GetTicketByID(r.Context(), ticketID)
	if errors.Is(err, models.ErrTicketNotFound) {
		utils.WriteError(w, http.StatusNotFound, "Ticket not found", false)
		return
	}
	if err != nil {
		h.writeServiceError(w, "TicketStatus", err)
		return
	}

	now := h.now()
	status := ticketStatus{
		TicketID:       t.ID,
		EventID:        t.EventID,
		AttendeeName:   t.AttendeeName,
		State:          t.State(),
		AuthorizedDays: nonNil(t.AuthorizedDays),
		UsedDays:       nonNil(t.UsedDays),
		LastCheckinAt:  t.LastCheckinAt,
		UndoDeadline:   t.UndoDeadline,
		UndoAvailable:  len(t.UsedDays) > 0 && t.UndoDeadline != nil && !now.After(*t.UndoDeadline),
		History:        t.CheckinHistory,
	}
	if status.History == nil {
		status.History = []models.CheckinHistoryEntry{}
	}
	if err := utils.WriteJSON(w, http.StatusOK, status); err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketStatus: failed to encode response: %v", err))
	}
}

func (h *Handler) TicketAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		utils.WriteError(w, http.StatusNotImplemented, "audit trail not available", false)
		return
	}
	ticketID := chi.URLParam(r, "ticketId")

	entries, err := h.Audit.ListByTicket(r.Context(), ticketID)
	if err != nil {
		h.writeServiceError(w, "TicketAudit", err)
		return
	}
	if entries == nil {
		entries = []models.CheckInLogEntry{}
	}
	if err := utils.WriteJSON(w, http.StatusOK, entries); err != nil {
		h.Logger.Error("API", fmt.Sprintf("TicketAudit: failed to encode response: %v", err))
	}
}

func (h *Handler) EventAttendance(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	if _, err := h.Events.GetEvent(r.Context(), eventID); err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			utils.WriteError(w, http.StatusNotFound, "Event not found", false)
			return
		}
		h.writeServiceError(w, "EventAttendance", err)
		return
	}

	snap, err := h.Attendance.Snapshot(r.Context(), eventID)
	if err != nil {
		h.writeServiceError(w, "EventAttendance", err)
		return
	}
	if err := utils.WriteJSON(w, http.StatusOK, snap); err != nil {
		h.Logger.Error("API", fmt.Sprintf("EventAttendance: failed to encode response: %v", err))
	}
}

// Healthz reports whether the ticket store is reachable.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			utils.WriteError(w, http.StatusServiceUnavailable, "database unreachable", true)
			return
		}
	}
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now()
	}
	return h.Clock.Now()
}

func nonNil(days []models.Day) []models.Day {
	if days == nil {
		return []models.Day{}
	}
	return days
}

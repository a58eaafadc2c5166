package checkin

import (
	"time"

	"ms-checkin/internal/models"
)

// Status is the top-level result of a decision.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusUndone   Status = "undone"
	StatusRejected Status = "rejected"
)

// Reason is the machine-readable code attached to a rejection.
type Reason string

const (
	ReasonTicketNotFound       Reason = "ticket_not_found"
	ReasonEventNotStarted      Reason = "event_not_started"
	ReasonEventEnded           Reason = "event_ended"
	ReasonDaySelectionRequired Reason = "day_selection_required"
	ReasonDayNotAuthorized     Reason = "day_not_authorized"
	ReasonAlreadyCheckedIn     Reason = "already_checked_in"
	ReasonInvalidDay           Reason = "invalid_day"
	ReasonUndoWindowExpired    Reason = "undo_window_expired"
	ReasonNothingToUndo        Reason = "nothing_to_undo"
)

// Details gives the caller enough context to explain a decision.
type Details struct {
	AuthorizedDays []models.Day `json:"authorized_days,omitempty"`
	Day            models.Day   `json:"day,omitempty"`
	UsedAt         *time.Time   `json:"used_at,omitempty"`
	UndoDeadline   *time.Time   `json:"undo_deadline,omitempty"`
	StartsAt       *time.Time   `json:"starts_at,omitempty"`
	EndsAt         *time.Time   `json:"ends_at,omitempty"`
}

// Outcome is the result of Validate or Undo. Reason is set only when
// Status is StatusRejected.
type Outcome struct {
	Status       Status
	Reason       Reason
	TicketID     string
	EventID      string
	Day          models.Day
	PerformedBy  string
	Method       models.CheckinMethod
	UndoDeadline *time.Time
	At           time.Time
	Details      Details
}

func (o Outcome) Accepted() bool { return o.Status == StatusAccepted }

func (o Outcome) Rejected() bool { return o.Status == StatusRejected }

// Code is the single outcome string exposed to scanners: the status for
// successes and the reason for rejections.
func (o Outcome) Code() string {
	if o.Status == StatusRejected {
		return string(o.Reason)
	}
	return string(o.Status)
}

// AuditCode is the outcome as written to the audit log.
func (o Outcome) AuditCode() string {
	if o.Status == StatusRejected {
		return "rejected:" + string(o.Reason)
	}
	return string(o.Status)
}

func rejectedFor(ticket *models.Ticket, reason Reason, at time.Time) Outcome {
	o := Outcome{Status: StatusRejected, Reason: reason, At: at}
	if ticket != nil {
		o.TicketID = ticket.ID
		o.EventID = ticket.EventID
	}
	return o
}

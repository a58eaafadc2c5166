package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CheckinMethod is how the holder was admitted.
type CheckinMethod string

const (
	MethodQR     CheckinMethod = "qr"
	MethodManual CheckinMethod = "manual"
)

func (m CheckinMethod) Valid() bool {
	return m == MethodQR || m == MethodManual
}

// History entry outcomes.
const (
	HistoryAccepted = "accepted"
	HistoryUndone   = "undone"
)

// AttendanceState is the ticket-level display state. It is derived from
// UsedDays and AuthorizedDays and never stored.
type AttendanceState string

const (
	StateNotArrived AttendanceState = "not_arrived"
	StatePartial    AttendanceState = "partial"
	StateCheckedIn  AttendanceState = "checked_in"
)

type CheckinHistoryEntry struct {
	Day         Day           `json:"day"`
	Timestamp   time.Time     `json:"timestamp"`
	PerformedBy string        `json:"performed_by"`
	Method      CheckinMethod `json:"method,omitempty"`
	Outcome     string        `json:"outcome"`
	Notes       string        `json:"notes,omitempty"`
}

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID             string                `bun:"id,pk" json:"id"`
	EventID        string                `bun:"event_id,notnull" json:"event_id"`
	TicketTypeID   string                `bun:"ticket_type_id" json:"ticket_type_id"`
	ScanCode       string                `bun:"scan_code,unique,notnull" json:"-"`
	AttendeeName   string                `bun:"attendee_name" json:"attendee_name"`
	AttendeeEmail  string                `bun:"attendee_email" json:"attendee_email"`
	AuthorizedDays []Day                 `bun:"authorized_days,type:jsonb" json:"authorized_days"`
	UsedDays       []Day                 `bun:"used_days,type:jsonb" json:"used_days"`
	LastCheckinAt  *time.Time            `bun:"last_checkin_at" json:"last_checkin_at,omitempty"`
	UndoDeadline   *time.Time            `bun:"undo_deadline" json:"undo_deadline,omitempty"`
	CheckinHistory []CheckinHistoryEntry `bun:"checkin_history,type:jsonb" json:"checkin_history"`
	Version        int64                 `bun:"version,notnull" json:"version"`
	IssuedAt       time.Time             `bun:"issued_at" json:"issued_at"`
}

// CheckInChange is the set of usage fields written by a single check-in
// or undo. It replaces the stored values wholesale.
type CheckInChange struct {
	UsedDays       []Day
	LastCheckinAt  *time.Time
	UndoDeadline   *time.Time
	CheckinHistory []CheckinHistoryEntry
}

func (t *Ticket) IsAuthorized(d Day) bool { return ContainsDay(t.AuthorizedDays, d) }

func (t *Ticket) HasUsed(d Day) bool { return ContainsDay(t.UsedDays, d) }

// State derives the display state from the day sets.
func (t *Ticket) State() AttendanceState {
	used := len(t.UsedDays)
	switch {
	case used == 0:
		return StateNotArrived
	case used < len(t.AuthorizedDays):
		return StatePartial
	default:
		return StateCheckedIn
	}
}

// LastUsedAt returns when day d was consumed by the check-in that is
// currently in effect, if any.
func (t *Ticket) LastUsedAt(d Day) *time.Time {
	for i := len(t.CheckinHistory) - 1; i >= 0; i-- {
		h := t.CheckinHistory[i]
		if h.Day != d {
			continue
		}
		if h.Outcome != HistoryAccepted {
			return nil
		}
		ts := h.Timestamp
		return &ts
	}
	return nil
}

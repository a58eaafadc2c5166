package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Audit actions.
const (
	ActionValidate = "validate"
	ActionUndo     = "undo"
)

// CheckInLogEntry is one immutable audit record of a check-in or undo
// decision. Rows are only ever inserted.
type CheckInLogEntry struct {
	bun.BaseModel `bun:"table:checkin_logs"`

	ID          string        `bun:"id,pk" json:"id"`
	TicketID    string        `bun:"ticket_id" json:"ticket_id,omitempty"`
	Identifier  string        `bun:"identifier" json:"identifier"`
	EventID     string        `bun:"event_id" json:"event_id,omitempty"`
	Day         Day           `bun:"day" json:"day,omitempty"`
	Timestamp   time.Time     `bun:"timestamp,notnull" json:"timestamp"`
	PerformedBy string        `bun:"performed_by,notnull" json:"performed_by"`
	DeviceID    string        `bun:"device_id" json:"device_id,omitempty"`
	Method      CheckinMethod `bun:"method" json:"method,omitempty"`
	Action      string        `bun:"action,notnull" json:"action"`
	Outcome     string        `bun:"outcome,notnull" json:"outcome"`
	Notes       string        `bun:"notes" json:"notes,omitempty"`
}

// CheckInNotice is pushed to live dashboards after a state change.
type CheckInNotice struct {
	Type        string    `json:"type"`
	EventID     string    `json:"event_id"`
	TicketID    string    `json:"ticket_id"`
	Day         Day       `json:"day"`
	PerformedBy string    `json:"performed_by"`
	At          time.Time `json:"at"`
}

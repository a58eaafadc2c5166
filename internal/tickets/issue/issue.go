// Package issue builds tickets for seeding and fixtures. Real issuance
// happens in the ticketing service; the gate only ever reads tickets.
package issue

import (
	"errors"
	"fmt"

	"ms-checkin/internal/clock"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// AccessKind selects which event dates a ticket type admits.
type AccessKind string

const (
	AccessAllDays   AccessKind = "all_days"
	AccessSingleDay AccessKind = "single_day"
	AccessDayList   AccessKind = "day_list"
)

var (
	ErrUnknownAccess = errors.New("unknown access rule")
	ErrNoDays        = errors.New("access rule grants no event dates")
)

// AccessRule is the ticket type's entitlement. Days is used by
// AccessSingleDay (first element) and AccessDayList.
type AccessRule struct {
	Kind AccessKind `json:"kind"`
	Days []string   `json:"days,omitempty"`
}

// AuthorizedDays applies the rule to the event's calendar. A day outside
// the event is an error.
func (r AccessRule) AuthorizedDays(event *models.Event) ([]models.Day, error) {
	switch r.Kind {
	case AccessAllDays, "":
		if len(event.Dates) == 0 {
			return nil, ErrNoDays
		}
		return models.NormalizeDays(event.Dates), nil
	case AccessSingleDay, AccessDayList:
		raw := r.Days
		if r.Kind == AccessSingleDay && len(raw) > 1 {
			raw = raw[:1]
		}
		days := make([]models.Day, 0, len(raw))
		for _, s := range raw {
			d, err := models.ParseDay(s)
			if err != nil {
				return nil, err
			}
			if !models.ContainsDay(event.Dates, d) {
				return nil, fmt.Errorf("day %s is not an event date", d)
			}
			days = append(days, d)
		}
		if len(days) == 0 {
			return nil, ErrNoDays
		}
		return models.NormalizeDays(days), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccess, r.Kind)
	}
}

type Attendee struct {
	Name  string
	Email string
}

type Issuer struct {
	Clock clock.Clock
}

func NewIssuer() *Issuer {
	return &Issuer{Clock: clock.Real()}
}

// Issue returns a fresh, unused ticket for attendee.
func (i *Issuer) Issue(event *models.Event, ticketTypeID string, rule AccessRule, attendee Attendee) (*models.Ticket, error) {
	days, err := rule.AuthorizedDays(event)
	if err != nil {
		return nil, err
	}
	code, err := utils.GenerateScanCode()
	if err != nil {
		return nil, err
	}
	return &models.Ticket{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		TicketTypeID:   ticketTypeID,
		ScanCode:       code,
		AttendeeName:   attendee.Name,
		AttendeeEmail:  attendee.Email,
		AuthorizedDays: days,
		UsedDays:       []models.Day{},
		CheckinHistory: []models.CheckinHistoryEntry{},
		IssuedAt:       i.Clock.Now().UTC(),
	}, nil
}

// QRCode renders the ticket's scan code as a PNG. The payload is the
// opaque code only.
func QRCode(ticket *models.Ticket, size int) ([]byte, error) {
	if ticket.ScanCode == "" {
		return nil, errors.New("ticket has no scan code")
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(ticket.ScanCode, qrcode.Medium, size)
}

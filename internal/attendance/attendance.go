// Package attendance projects ticket usage into per-event dashboard
// counts. Snapshots may lag the ticket store and are never consulted when
// deciding entry.
package attendance

import (
	"time"

	"ms-checkin/internal/models"
)

type DayCount struct {
	Day        models.Day `json:"day"`
	Authorized int        `json:"authorized"`
	CheckedIn  int        `json:"checked_in"`
}

type Snapshot struct {
	EventID        string     `json:"event_id"`
	Total          int        `json:"total"`
	CheckedIn      int        `json:"checked_in"`
	Partial        int        `json:"partial"`
	NotArrived     int        `json:"not_arrived"`
	AttendanceRate float64    `json:"attendance_rate"`
	Days           []DayCount `json:"days"`
	GeneratedAt    time.Time  `json:"generated_at"`
}

// Compute derives a snapshot from the tickets of one event.
func Compute(eventID string, tickets []models.Ticket, now time.Time) *Snapshot {
	s := &Snapshot{EventID: eventID, Total: len(tickets), Days: []DayCount{}, GeneratedAt: now}

	perDay := map[models.Day]*DayCount{}
	var order []models.Day
	count := func(d models.Day) *DayCount {
		c, ok := perDay[d]
		if !ok {
			c = &DayCount{Day: d}
			perDay[d] = c
			order = append(order, d)
		}
		return c
	}

	for i := range tickets {
		t := &tickets[i]
		switch t.State() {
		case models.StateCheckedIn:
			s.CheckedIn++
		case models.StatePartial:
			s.Partial++
		default:
			s.NotArrived++
		}
		for _, d := range t.AuthorizedDays {
			count(d).Authorized++
		}
		for _, d := range t.UsedDays {
			count(d).CheckedIn++
		}
	}

	for _, d := range models.NormalizeDays(order) {
		s.Days = append(s.Days, *perDay[d])
	}
	if s.Total > 0 {
		s.AttendanceRate = float64(s.CheckedIn) / float64(s.Total)
	}
	return s
}

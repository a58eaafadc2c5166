package models

import (
	"time"
	// venue timezones must resolve even on hosts without zoneinfo
	_ "time/tzdata"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	StartAt   time.Time `bun:"start_at,notnull" json:"start_at"`
	EndAt     time.Time `bun:"end_at,notnull" json:"end_at"`
	Dates     []Day     `bun:"dates,type:jsonb" json:"dates"`
	Timezone  string    `bun:"timezone" json:"timezone"`
	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}

// Location returns the venue timezone, falling back to UTC when the
// stored name is empty or unknown.
func (e *Event) Location() *time.Location {
	if e.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (e *Event) IsActiveAt(now time.Time) bool {
	return !now.Before(e.StartAt) && !now.After(e.EndAt)
}

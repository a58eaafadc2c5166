package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOfUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 01:30 UTC on the 2nd is still the 1st in Sao Paulo.
	instant := time.Date(2024, 3, 2, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, Day("2024-03-01"), DayOf(instant, loc))
	assert.Equal(t, Day("2024-03-02"), DayOf(instant, time.UTC))
	assert.Equal(t, Day("2024-03-02"), DayOf(instant, nil))
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, Day("2024-03-01"), d)

	_, err = ParseDay("01/03/2024")
	assert.Error(t, err)

	_, err = ParseDay("2024-02-30")
	assert.Error(t, err)
}

func TestNormalizeDays(t *testing.T) {
	in := []Day{"2024-03-02", "2024-03-01", "2024-03-02", "2024-02-29"}
	assert.Equal(t, []Day{"2024-02-29", "2024-03-01", "2024-03-02"}, NormalizeDays(in))
	assert.Equal(t, []Day{"2024-03-02", "2024-03-01", "2024-03-02", "2024-02-29"}, in, "input must not be modified")
	assert.Equal(t, []Day{}, NormalizeDays(nil))
}

func TestTicketState(t *testing.T) {
	ticket := &Ticket{AuthorizedDays: []Day{"2024-03-01", "2024-03-02"}}
	assert.Equal(t, StateNotArrived, ticket.State())

	ticket.UsedDays = []Day{"2024-03-01"}
	assert.Equal(t, StatePartial, ticket.State())

	ticket.UsedDays = []Day{"2024-03-01", "2024-03-02"}
	assert.Equal(t, StateCheckedIn, ticket.State())
}

func TestLastUsedAtIgnoresUndoneDays(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := &Ticket{CheckinHistory: []CheckinHistoryEntry{
		{Day: "2024-03-01", Timestamp: at, Outcome: HistoryAccepted},
	}}
	require.NotNil(t, ticket.LastUsedAt("2024-03-01"))
	assert.True(t, at.Equal(*ticket.LastUsedAt("2024-03-01")))

	ticket.CheckinHistory = append(ticket.CheckinHistory, CheckinHistoryEntry{
		Day: "2024-03-01", Timestamp: at.Add(time.Minute), Outcome: HistoryUndone,
	})
	assert.Nil(t, ticket.LastUsedAt("2024-03-01"))
	assert.Nil(t, ticket.LastUsedAt("2024-03-02"))
}

func TestEventActiveWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	ev := &Event{StartAt: start, EndAt: start.Add(8 * time.Hour)}

	assert.False(t, ev.IsActiveAt(start.Add(-time.Second)))
	assert.True(t, ev.IsActiveAt(start))
	assert.True(t, ev.IsActiveAt(start.Add(8*time.Hour)))
	assert.False(t, ev.IsActiveAt(start.Add(8*time.Hour+time.Second)))
	assert.Equal(t, time.UTC, ev.Location())

	ev.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, ev.Location())
}

package checkin_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/clock"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	eventID = "evt-1"
	staffID = "staff-7"
)

var march1 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func festival() *models.Event {
	return &models.Event{
		ID:       eventID,
		Name:     "Spring Festival",
		StartAt:  time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC),
		Dates:    []models.Day{"2024-02-29", "2024-03-01", "2024-03-02", "2024-03-03"},
		Timezone: "UTC",
	}
}

func ticketFor(id string, days ...models.Day) *models.Ticket {
	return &models.Ticket{
		ID:             id,
		EventID:        eventID,
		ScanCode:       "code-" + id,
		AuthorizedDays: models.NormalizeDays(days),
	}
}

type harness struct {
	svc     *checkin.Service
	store   *memStore
	clock   *clock.FakeClock
	audit   *recorder
	notices *notices
}

func newHarness(t *testing.T, event *models.Event, tickets ...*models.Ticket) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(tickets...),
		clock:   clock.Fake(march1),
		audit:   &recorder{},
		notices: &notices{},
	}
	h.svc = checkin.NewService(h.store, staticCalendar{event.ID: event}, h.audit,
		checkin.WithClock(h.clock),
		checkin.WithNotifier(h.notices),
		checkin.WithRetryInterval(time.Millisecond),
	)
	return h
}

func (h *harness) scan(t *testing.T, code string, selected string) checkin.Outcome {
	t.Helper()
	o, err := h.svc.Validate(context.Background(), checkin.ValidateRequest{
		Identifier:  code,
		Method:      models.MethodQR,
		SelectedDay: selected,
	})
	require.NoError(t, err)
	return o
}

func (h *harness) undo(t *testing.T, ticketID string) checkin.Outcome {
	t.Helper()
	o, err := h.svc.Undo(context.Background(), checkin.UndoRequest{TicketID: ticketID, PerformedBy: staffID})
	require.NoError(t, err)
	return o
}

func TestValidate_TwoDayTicketRoundTrip(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01", "2024-03-02"))

	first := h.scan(t, "code-t1", "")
	require.True(t, first.Accepted())
	assert.Equal(t, models.Day("2024-03-01"), first.Day)
	assert.Equal(t, "t1", first.TicketID)
	assert.Equal(t, checkin.ScannerPerformer, first.PerformedBy)
	require.NotNil(t, first.UndoDeadline)
	assert.Equal(t, march1.Add(5*time.Minute), *first.UndoDeadline)

	second := h.scan(t, "code-t1", "")
	assert.Equal(t, checkin.StatusRejected, second.Status)
	assert.Equal(t, checkin.ReasonAlreadyCheckedIn, second.Reason)
	assert.Equal(t, models.Day("2024-03-01"), second.Details.Day)
	require.NotNil(t, second.Details.UsedAt)
	assert.Equal(t, march1, *second.Details.UsedAt)

	h.clock.Advance(2 * time.Minute)
	undone := h.undo(t, "t1")
	assert.Equal(t, checkin.StatusUndone, undone.Status)
	assert.Equal(t, models.Day("2024-03-01"), undone.Day)
	assert.Empty(t, h.store.snapshot("t1").UsedDays)

	third := h.scan(t, "code-t1", "")
	assert.True(t, third.Accepted())
	assert.Equal(t, models.Day("2024-03-01"), third.Day)

	stored := h.store.snapshot("t1")
	assert.Equal(t, []models.Day{"2024-03-01"}, stored.UsedDays)
	require.Len(t, stored.CheckinHistory, 3)
	assert.Equal(t, models.HistoryAccepted, stored.CheckinHistory[0].Outcome)
	assert.Equal(t, models.HistoryUndone, stored.CheckinHistory[1].Outcome)
	assert.Equal(t, models.HistoryAccepted, stored.CheckinHistory[2].Outcome)
	assert.Equal(t, int64(3), stored.Version)
}

func TestValidate_SingleAuthorizedDayResolvesWithoutSelection(t *testing.T) {
	// the only authorized day was yesterday but the event window is still open
	h := newHarness(t, festival(), ticketFor("t1", "2024-02-29"))

	o := h.scan(t, "code-t1", "")

	require.True(t, o.Accepted())
	assert.Equal(t, models.Day("2024-02-29"), o.Day)
}

func TestValidate_DaySelectionRequired(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-02", "2024-03-03"))

	o := h.scan(t, "code-t1", "")

	assert.Equal(t, checkin.ReasonDaySelectionRequired, o.Reason)
	assert.Equal(t, []models.Day{"2024-03-02", "2024-03-03"}, o.Details.AuthorizedDays)
	assert.Zero(t, h.store.writeCount())

	chosen := h.scan(t, "code-t1", "2024-03-03")
	assert.True(t, chosen.Accepted())
	assert.Equal(t, models.Day("2024-03-03"), chosen.Day)
}

func TestValidate_DayNotAuthorized(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))

	o := h.scan(t, "code-t1", "2024-03-02")

	assert.Equal(t, checkin.ReasonDayNotAuthorized, o.Reason)
	assert.Equal(t, models.Day("2024-03-02"), o.Details.Day)
	assert.Equal(t, []models.Day{"2024-03-01"}, o.Details.AuthorizedDays)
	assert.Zero(t, h.store.writeCount())
}

func TestValidate_InvalidSelectedDay(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))

	o := h.scan(t, "code-t1", "tomorrow")

	assert.Equal(t, checkin.ReasonInvalidDay, o.Reason)
	assert.Zero(t, h.store.writeCount())
}

func TestValidate_EventTiming(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		reason checkin.Reason
	}{
		{"before start", time.Date(2024, 2, 29, 7, 59, 0, 0, time.UTC), checkin.ReasonEventNotStarted},
		{"after end", time.Date(2024, 3, 3, 23, 0, 1, 0, time.UTC), checkin.ReasonEventEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, festival(), ticketFor("t1", "2024-02-29", "2024-03-03"))
			h.clock.Set(tt.now)

			o := h.scan(t, "code-t1", "2024-02-29")

			assert.Equal(t, tt.reason, o.Reason)
			stored := h.store.snapshot("t1")
			assert.Empty(t, stored.UsedDays)
			assert.Equal(t, int64(0), stored.Version)
		})
	}
}

func TestValidate_EventBoundariesAreInclusive(t *testing.T) {
	event := festival()
	h := newHarness(t, event, ticketFor("t1", "2024-02-29"), ticketFor("t2", "2024-03-03"))

	h.clock.Set(event.StartAt)
	assert.True(t, h.scan(t, "code-t1", "").Accepted())

	h.clock.Set(event.EndAt)
	assert.True(t, h.scan(t, "code-t2", "").Accepted())
}

func TestValidate_TodayFollowsVenueTimezone(t *testing.T) {
	event := festival()
	event.Timezone = "America/New_York"
	h := newHarness(t, event, ticketFor("t1", "2024-03-01", "2024-03-02"))
	// 02:00 UTC on the 2nd is still the evening of the 1st in New York
	h.clock.Set(time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC))

	o := h.scan(t, "code-t1", "")

	require.True(t, o.Accepted())
	assert.Equal(t, models.Day("2024-03-01"), o.Day)
}

func TestValidate_TicketNotFoundIsAudited(t *testing.T) {
	h := newHarness(t, festival())

	o, err := h.svc.Validate(context.Background(), checkin.ValidateRequest{
		Identifier: "forged-code",
		Method:     models.MethodQR,
		DeviceID:   "gate-3",
	})
	require.NoError(t, err)

	assert.Equal(t, checkin.ReasonTicketNotFound, o.Reason)
	entries := h.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "rejected:ticket_not_found", entries[0].Outcome)
	assert.Equal(t, "forged-code", entries[0].Identifier)
	assert.Equal(t, "gate-3", entries[0].DeviceID)
	assert.Empty(t, entries[0].TicketID)
}

func TestValidate_ManualLooksUpByTicketID(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))

	o, err := h.svc.Validate(context.Background(), checkin.ValidateRequest{
		Identifier:  "t1",
		Method:      models.MethodManual,
		PerformedBy: staffID,
		Notes:       "phone battery dead",
	})
	require.NoError(t, err)

	require.True(t, o.Accepted())
	assert.Equal(t, staffID, o.PerformedBy)
	history := h.store.snapshot("t1").CheckinHistory
	require.Len(t, history, 1)
	assert.Equal(t, models.MethodManual, history[0].Method)
	assert.Equal(t, "phone battery dead", history[0].Notes)
}

func TestValidate_RequestErrors(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	ctx := context.Background()

	_, err := h.svc.Validate(ctx, checkin.ValidateRequest{Identifier: "t1", Method: "nfc"})
	assert.ErrorIs(t, err, checkin.ErrInvalidMethod)

	_, err = h.svc.Validate(ctx, checkin.ValidateRequest{Identifier: "  ", Method: models.MethodQR})
	assert.ErrorIs(t, err, checkin.ErrIdentifierRequired)

	_, err = h.svc.Validate(ctx, checkin.ValidateRequest{Identifier: "t1", Method: models.MethodManual})
	assert.ErrorIs(t, err, checkin.ErrPerformerRequired)

	assert.Empty(t, h.audit.all())
}

func TestValidate_StoreFailureIsReturned(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	boom := errors.New("connection refused")
	h.store.getErr = boom

	_, err := h.svc.Validate(context.Background(), checkin.ValidateRequest{Identifier: "code-t1", Method: models.MethodQR})

	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.audit.all())
}

func TestValidate_WriteFailureIsReturned(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	boom := errors.New("disk full")
	h.store.updateErr = boom

	_, err := h.svc.Validate(context.Background(), checkin.ValidateRequest{Identifier: "code-t1", Method: models.MethodQR})

	assert.ErrorIs(t, err, boom)
}

func TestValidate_MissingEventIsAnError(t *testing.T) {
	store := newMemStore(ticketFor("t1", "2024-03-01"))
	events := new(MockEventCalendar)
	events.On("GetEvent", mock.Anything, eventID).Return(nil, models.ErrEventNotFound)
	svc := checkin.NewService(store, events, &recorder{}, checkin.WithClock(clock.Fake(march1)))

	_, err := svc.Validate(context.Background(), checkin.ValidateRequest{Identifier: "code-t1", Method: models.MethodQR})

	assert.ErrorIs(t, err, models.ErrEventNotFound)
	events.AssertExpectations(t)
}

func TestValidate_ExhaustedConflictsReportAlreadyCheckedIn(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	h.store.conflictAlways = true
	before := testutil.ToFloat64(metrics.CheckinConflictsTotal)

	o := h.scan(t, "code-t1", "")

	assert.Equal(t, checkin.ReasonAlreadyCheckedIn, o.Reason)
	assert.Equal(t, "t1", o.TicketID)
	assert.Equal(t, float64(checkin.DefaultMaxAttempts), testutil.ToFloat64(metrics.CheckinConflictsTotal)-before)
}

func TestValidate_AuditsEveryDecision(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))

	h.scan(t, "code-t1", "")
	h.scan(t, "code-t1", "")
	h.scan(t, "code-t1", "2024-03-02")
	h.scan(t, "missing", "")

	entries := h.audit.all()
	require.Len(t, entries, 4)
	outcomes := make([]string, 0, len(entries))
	for _, e := range entries {
		outcomes = append(outcomes, e.Outcome)
		assert.Equal(t, models.ActionValidate, e.Action)
		assert.NotEmpty(t, e.ID)
	}
	assert.Equal(t, []string{
		"accepted",
		"rejected:already_checked_in",
		"rejected:day_not_authorized",
		"rejected:ticket_not_found",
	}, outcomes)
	assert.Equal(t, models.Day("2024-03-01"), entries[0].Day)
	assert.Equal(t, models.Day("2024-03-02"), entries[2].Day)
}

func TestValidate_NotifiesOnlyStateChanges(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))

	h.scan(t, "code-t1", "")
	h.scan(t, "code-t1", "")
	h.undo(t, "t1")

	list := h.notices.all()
	require.Len(t, list, 2)
	assert.Equal(t, "checked_in", list[0].Type)
	assert.Equal(t, "undone", list[1].Type)
	assert.Equal(t, eventID, list[1].EventID)
}

func TestValidate_ConcurrentScansAcceptExactlyOnce(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01", "2024-03-02"))

	const scanners = 64
	outcomes := make([]checkin.Outcome, scanners)
	errs := make([]error, scanners)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i], errs[i] = h.svc.Validate(context.Background(), checkin.ValidateRequest{
				Identifier:  "code-t1",
				Method:      models.MethodQR,
				PerformedBy: fmt.Sprintf("scanner-%d", i),
				SelectedDay: "2024-03-01",
			})
		}(i)
	}
	close(start)
	wg.Wait()

	accepted := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i].Accepted() {
			accepted++
			continue
		}
		assert.Equal(t, checkin.ReasonAlreadyCheckedIn, outcomes[i].Reason)
	}
	assert.Equal(t, 1, accepted)

	stored := h.store.snapshot("t1")
	assert.Equal(t, []models.Day{"2024-03-01"}, stored.UsedDays)
	assert.Len(t, stored.CheckinHistory, 1)
	assert.Equal(t, 1, h.store.writeCount())
	assert.Len(t, h.audit.all(), scanners)
}

func TestValidate_UsedDaysStayWithinAuthorized(t *testing.T) {
	calendar := []models.Day{"2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02", "2024-03-03", "2024-03-04"}
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		var authorized []models.Day
		for _, d := range calendar {
			if rng.Intn(2) == 0 {
				authorized = append(authorized, d)
			}
		}
		h := newHarness(t, festival(), ticketFor("t1", authorized...))

		for step := 0; step < 12; step++ {
			switch rng.Intn(3) {
			case 0:
				h.undo(t, "t1")
			case 1:
				h.scan(t, "code-t1", "")
			default:
				h.scan(t, "code-t1", string(calendar[rng.Intn(len(calendar))]))
			}
			h.clock.Advance(time.Duration(rng.Intn(240)) * time.Second)

			stored := h.store.snapshot("t1")
			seen := map[models.Day]bool{}
			for _, d := range stored.UsedDays {
				require.True(t, models.ContainsDay(stored.AuthorizedDays, d),
					"round %d: used day %s not in %v", round, d, stored.AuthorizedDays)
				require.False(t, seen[d], "round %d: day %s used twice", round, d)
				seen[d] = true
			}
		}
		h.clock.Set(march1)
	}
}

func TestUndo_WindowExpired(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	require.True(t, h.scan(t, "code-t1", "").Accepted())
	before := h.store.snapshot("t1")

	h.clock.Advance(5*time.Minute + time.Second)
	o := h.undo(t, "t1")

	assert.Equal(t, checkin.ReasonUndoWindowExpired, o.Reason)
	require.NotNil(t, o.Details.UndoDeadline)
	assert.Equal(t, march1.Add(5*time.Minute), *o.Details.UndoDeadline)
	assert.Equal(t, before, h.store.snapshot("t1"))
}

func TestUndo_AtDeadlineIsAllowed(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	require.True(t, h.scan(t, "code-t1", "").Accepted())

	h.clock.Advance(5 * time.Minute)

	assert.Equal(t, checkin.StatusUndone, h.undo(t, "t1").Status)
}

func TestUndo_NothingToUndo(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))

	assert.Equal(t, checkin.ReasonNothingToUndo, h.undo(t, "t1").Reason)

	require.True(t, h.scan(t, "code-t1", "").Accepted())
	assert.Equal(t, checkin.StatusUndone, h.undo(t, "t1").Status)
	assert.Equal(t, checkin.ReasonNothingToUndo, h.undo(t, "t1").Reason)
}

func TestUndo_RemovesOnlyMostRecentDay(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-02-29", "2024-03-01"))
	h.clock.Set(time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC))
	require.True(t, h.scan(t, "code-t1", "").Accepted())

	h.clock.Set(march1)
	require.True(t, h.scan(t, "code-t1", "").Accepted())
	h.clock.Advance(time.Minute)
	o := h.undo(t, "t1")

	assert.Equal(t, models.Day("2024-03-01"), o.Day)
	stored := h.store.snapshot("t1")
	assert.Equal(t, []models.Day{"2024-02-29"}, stored.UsedDays)
	assert.Nil(t, stored.UndoDeadline)
	require.NotNil(t, stored.LastCheckinAt)
	assert.Equal(t, time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), *stored.LastCheckinAt)
}

func TestUndo_AuditsDecisions(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	h.scan(t, "code-t1", "")
	h.undo(t, "t1")
	h.undo(t, "t1")
	h.undo(t, "missing")

	entries := h.audit.all()
	require.Len(t, entries, 4)
	assert.Equal(t, "undone", entries[1].Outcome)
	assert.Equal(t, models.ActionUndo, entries[1].Action)
	assert.Equal(t, staffID, entries[1].PerformedBy)
	assert.Equal(t, "rejected:nothing_to_undo", entries[2].Outcome)
	assert.Equal(t, "rejected:ticket_not_found", entries[3].Outcome)
}

func TestUndo_RequiresStaff(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))

	_, err := h.svc.Undo(context.Background(), checkin.UndoRequest{TicketID: "t1"})
	assert.ErrorIs(t, err, checkin.ErrPerformerRequired)

	_, err = h.svc.Undo(context.Background(), checkin.UndoRequest{PerformedBy: staffID})
	assert.ErrorIs(t, err, checkin.ErrIdentifierRequired)
}

func TestUndo_ExhaustedConflictsAreRetryableErrors(t *testing.T) {
	h := newHarness(t, festival(), ticketFor("t1", "2024-03-01"))
	require.True(t, h.scan(t, "code-t1", "").Accepted())
	h.store.conflictAlways = true

	_, err := h.svc.Undo(context.Background(), checkin.UndoRequest{TicketID: "t1", PerformedBy: staffID})

	assert.ErrorIs(t, err, models.ErrVersionConflict)
	assert.Equal(t, []models.Day{"2024-03-01"}, h.store.snapshot("t1").UsedDays)
}

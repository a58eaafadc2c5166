package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-checkin/internal/models"

	"github.com/cenkalti/backoff/v4"
)

type UndoRequest struct {
	TicketID    string
	PerformedBy string
	DeviceID    string
	Notes       string
}

// Undo reverses the most recent check-in of a ticket while its undo window
// is open. Only one level of undo is supported.
func (s *Service) Undo(ctx context.Context, req UndoRequest) (Outcome, error) {
	ticketID := strings.TrimSpace(req.TicketID)
	if ticketID == "" {
		return Outcome{}, ErrIdentifierRequired
	}
	performer := strings.TrimSpace(req.PerformedBy)
	if performer == "" {
		return Outcome{}, ErrPerformerRequired
	}

	ac := auditContext{
		action:      models.ActionUndo,
		identifier:  ticketID,
		performedBy: performer,
		deviceID:    req.DeviceID,
		method:      models.MethodManual,
		notes:       req.Notes,
	}

	var outcome Outcome
	attempt := func() error {
		t, err := s.store.GetTicketByID(ctx, ticketID)
		if errors.Is(err, models.ErrTicketNotFound) {
			outcome = rejectedFor(nil, ReasonTicketNotFound, s.clock.Now())
			return nil
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		now := s.clock.Now()
		n := len(t.UsedDays)
		if n == 0 || t.UndoDeadline == nil {
			outcome = rejectedFor(t, ReasonNothingToUndo, now)
			return nil
		}
		last := t.UsedDays[n-1]
		if now.After(*t.UndoDeadline) {
			outcome = rejectedFor(t, ReasonUndoWindowExpired, now)
			deadline := *t.UndoDeadline
			outcome.Details.Day = last
			outcome.Details.UndoDeadline = &deadline
			return nil
		}

		used := make([]models.Day, n-1)
		copy(used, t.UsedDays[:n-1])
		history := appendHistory(t.CheckinHistory, models.CheckinHistoryEntry{
			Day:         last,
			Timestamp:   now,
			PerformedBy: performer,
			Method:      models.MethodManual,
			Outcome:     models.HistoryUndone,
			Notes:       req.Notes,
		})
		change := models.CheckInChange{
			UsedDays:       used,
			LastCheckinAt:  lastCheckin(history),
			UndoDeadline:   nil,
			CheckinHistory: history,
		}

		err = s.store.UpdateTicketCheckIn(context.WithoutCancel(ctx), t.ID, t.Version, change)
		if errors.Is(err, models.ErrVersionConflict) {
			s.onConflict(t.ID)
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("undo check-in on ticket %s: %w", t.ID, err))
		}

		outcome = Outcome{
			Status:      StatusUndone,
			TicketID:    t.ID,
			EventID:     t.EventID,
			Day:         last,
			PerformedBy: performer,
			Method:      models.MethodManual,
			At:          now,
		}
		return nil
	}

	if err := backoff.Retry(attempt, s.retryPolicy(ctx)); err != nil {
		// exhausted conflicts surface as a wrapped ErrVersionConflict so the
		// caller can ask staff to retry
		s.logger.Error("UNDO", fmt.Sprintf("undo failed ticket=%s: %v", ticketID, err))
		return Outcome{}, err
	}

	outcome.PerformedBy = performer
	outcome.Method = models.MethodManual
	s.record(ac, outcome)

	if outcome.Status == StatusUndone {
		s.logger.LogCheckin("UNDONE", outcome.TicketID, fmt.Sprintf("day=%s by=%s", outcome.Day, performer))
		s.notify("undone", outcome)
	} else {
		s.logRejection("UNDO", ac, outcome)
	}
	return outcome, nil
}

// lastCheckin replays history to find the timestamp of the check-in still
// in effect after the newest entry.
func lastCheckin(history []models.CheckinHistoryEntry) *time.Time {
	var stack []time.Time
	for _, h := range history {
		switch h.Outcome {
		case models.HistoryAccepted:
			stack = append(stack, h.Timestamp)
		case models.HistoryUndone:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return nil
	}
	ts := stack[len(stack)-1]
	return &ts
}

package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// Index selects which ticket index an identifier is looked up in.
type Index string

const (
	IndexScanCode Index = "scan_code"
	IndexTicketID Index = "ticket_id"
)

type ValidateRequest struct {
	Identifier string
	// Index defaults to scan_code for QR and ticket_id for manual.
	Index       Index
	Method      models.CheckinMethod
	SelectedDay string
	PerformedBy string
	DeviceID    string
	Notes       string
}

// Validate decides whether the holder of a ticket may enter now and, if so,
// consumes the target day with a conditional write. Concurrent requests for
// the same ticket and day yield exactly one acceptance.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (Outcome, error) {
	if !req.Method.Valid() {
		return Outcome{}, ErrInvalidMethod
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		return Outcome{}, ErrIdentifierRequired
	}
	performer := strings.TrimSpace(req.PerformedBy)
	if performer == "" {
		if req.Method == models.MethodManual {
			return Outcome{}, ErrPerformerRequired
		}
		performer = ScannerPerformer
	}
	index := req.Index
	if index == "" {
		index = IndexScanCode
		if req.Method == models.MethodManual {
			index = IndexTicketID
		}
	}

	ac := auditContext{
		action:      models.ActionValidate,
		identifier:  identifier,
		performedBy: performer,
		deviceID:    req.DeviceID,
		method:      req.Method,
		notes:       req.Notes,
	}

	var (
		outcome Outcome
		ticket  *models.Ticket
	)
	attempt := func() error {
		t, err := s.lookup(ctx, index, identifier)
		if errors.Is(err, models.ErrTicketNotFound) {
			ticket = nil
			outcome = rejectedFor(nil, ReasonTicketNotFound, s.clock.Now())
			return nil
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		ticket = t

		event, err := s.events.GetEvent(ctx, t.EventID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("load event %s for ticket %s: %w", t.EventID, t.ID, err))
		}

		now := s.clock.Now()
		target, rejection := s.decide(t, event, now, req.SelectedDay)
		if rejection != nil {
			outcome = *rejection
			return nil
		}

		deadline := now.Add(s.undoWindow)
		change := models.CheckInChange{
			UsedDays:      appendDay(t.UsedDays, target),
			LastCheckinAt: &now,
			UndoDeadline:  &deadline,
			CheckinHistory: appendHistory(t.CheckinHistory, models.CheckinHistoryEntry{
				Day:         target,
				Timestamp:   now,
				PerformedBy: performer,
				Method:      req.Method,
				Outcome:     models.HistoryAccepted,
				Notes:       req.Notes,
			}),
		}

		// once issued, the write runs to completion even if the caller gives up
		err = s.store.UpdateTicketCheckIn(context.WithoutCancel(ctx), t.ID, t.Version, change)
		if errors.Is(err, models.ErrVersionConflict) {
			s.onConflict(t.ID)
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("check in ticket %s: %w", t.ID, err))
		}

		outcome = Outcome{
			Status:       StatusAccepted,
			TicketID:     t.ID,
			EventID:      t.EventID,
			Day:          target,
			PerformedBy:  performer,
			Method:       req.Method,
			UndoDeadline: &deadline,
			At:           now,
		}
		return nil
	}

	err := backoff.Retry(attempt, s.retryPolicy(ctx))
	if errors.Is(err, models.ErrVersionConflict) {
		// every attempt lost the race, so another writer consumed the ticket
		outcome = rejectedFor(ticket, ReasonAlreadyCheckedIn, s.clock.Now())
		err = nil
	}
	if err != nil {
		s.logger.Error("CHECKIN", fmt.Sprintf("validate failed identifier=%s: %v", mask(identifier), err))
		return Outcome{}, err
	}

	outcome.PerformedBy = performer
	outcome.Method = req.Method
	s.record(ac, outcome)

	if outcome.Accepted() {
		s.logger.LogCheckin("ACCEPTED", outcome.TicketID, fmt.Sprintf("day=%s by=%s method=%s", outcome.Day, performer, req.Method))
		s.notify("checked_in", outcome)
	} else {
		s.logRejection("CHECKIN", ac, outcome)
	}
	return outcome, nil
}

func (s *Service) lookup(ctx context.Context, index Index, identifier string) (*models.Ticket, error) {
	switch index {
	case IndexTicketID:
		return s.store.GetTicketByID(ctx, identifier)
	default:
		return s.store.GetTicketByScanCode(ctx, identifier)
	}
}

// decide applies the entry rules to a loaded ticket. It returns the day to
// consume, or the rejection. It never touches stored state.
func (s *Service) decide(t *models.Ticket, event *models.Event, now time.Time, selected string) (models.Day, *Outcome) {
	reject := func(reason Reason) *Outcome {
		o := rejectedFor(t, reason, now)
		return &o
	}

	if now.Before(event.StartAt) {
		o := reject(ReasonEventNotStarted)
		startsAt := event.StartAt
		o.Details.StartsAt = &startsAt
		return "", o
	}
	if now.After(event.EndAt) {
		o := reject(ReasonEventEnded)
		endsAt := event.EndAt
		o.Details.EndsAt = &endsAt
		return "", o
	}

	today := models.DayOf(now, event.Location())
	target, reason := resolveDay(t.AuthorizedDays, today, selected)
	if reason != "" {
		o := reject(reason)
		o.Details.AuthorizedDays = t.AuthorizedDays
		return "", o
	}

	if !t.IsAuthorized(target) {
		o := reject(ReasonDayNotAuthorized)
		o.Details.Day = target
		o.Details.AuthorizedDays = t.AuthorizedDays
		return "", o
	}

	if t.HasUsed(target) {
		o := reject(ReasonAlreadyCheckedIn)
		o.Details.Day = target
		o.Details.UsedAt = t.LastUsedAt(target)
		if n := len(t.UsedDays); n > 0 && t.UsedDays[n-1] == target && t.UndoDeadline != nil && !now.After(*t.UndoDeadline) {
			deadline := *t.UndoDeadline
			o.Details.UndoDeadline = &deadline
		}
		return "", o
	}

	return target, nil
}

// resolveDay picks the day a request targets: an explicit selection, else
// today when authorized, else the only authorized day.
func resolveDay(authorized []models.Day, today models.Day, selected string) (models.Day, Reason) {
	if selected = strings.TrimSpace(selected); selected != "" {
		d, err := models.ParseDay(selected)
		if err != nil {
			return "", ReasonInvalidDay
		}
		return d, ""
	}
	if models.ContainsDay(authorized, today) {
		return today, ""
	}
	switch len(authorized) {
	case 0:
		return today, ""
	case 1:
		return authorized[0], ""
	default:
		return "", ReasonDaySelectionRequired
	}
}

func (s *Service) onConflict(ticketID string) {
	s.logger.Debug("CHECKIN", fmt.Sprintf("version conflict on ticket %s, retrying", ticketID))
	metrics.CheckinConflictsTotal.Inc()
}

func appendDay(days []models.Day, d models.Day) []models.Day {
	out := make([]models.Day, 0, len(days)+1)
	out = append(out, days...)
	return append(out, d)
}

func appendHistory(history []models.CheckinHistoryEntry, entry models.CheckinHistoryEntry) []models.CheckinHistoryEntry {
	out := make([]models.CheckinHistoryEntry, 0, len(history)+1)
	out = append(out, history...)
	return append(out, entry)
}

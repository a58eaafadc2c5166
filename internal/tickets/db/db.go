package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-checkin/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	ticket.AuthorizedDays = models.NormalizeDays(ticket.AuthorizedDays)
	if ticket.UsedDays == nil {
		ticket.UsedDays = []models.Day{}
	}
	if ticket.CheckinHistory == nil {
		ticket.CheckinHistory = []models.CheckinHistoryEntry{}
	}
	_, err := d.Bun.NewInsert().Model(ticket).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	return d.getTicket(ctx, "id = ?", id)
}

func (d *DB) GetTicketByScanCode(ctx context.Context, code string) (*models.Ticket, error) {
	return d.getTicket(ctx, "scan_code = ?", code)
}

func (d *DB) getTicket(ctx context.Context, where string, arg string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ticket: %w", err)
	}
	return &ticket, nil
}

// UpdateTicketCheckIn writes the usage fields only if the stored version
// still equals expectedVersion, bumping it by one. A stale version yields
// models.ErrVersionConflict and leaves the row untouched.
func (d *DB) UpdateTicketCheckIn(ctx context.Context, ticketID string, expectedVersion int64, change models.CheckInChange) error {
	row := &models.Ticket{
		ID:             ticketID,
		UsedDays:       change.UsedDays,
		LastCheckinAt:  change.LastCheckinAt,
		UndoDeadline:   change.UndoDeadline,
		CheckinHistory: change.CheckinHistory,
		Version:        expectedVersion + 1,
	}
	if row.UsedDays == nil {
		row.UsedDays = []models.Day{}
	}
	if row.CheckinHistory == nil {
		row.CheckinHistory = []models.CheckinHistoryEntry{}
	}

	res, err := d.Bun.NewUpdate().
		Model(row).
		Column("used_days", "last_checkin_at", "undo_deadline", "checkin_history", "version").
		Where("id = ?", ticketID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ticket check-in: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket check-in: %w", err)
	}
	if affected == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

// ListTicketsByEvent returns the usage columns of every ticket of an event.
func (d *DB) ListTicketsByEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Column("id", "event_id", "authorized_days", "used_days", "version").
		Where("event_id = ?", eventID).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for event %s: %w", eventID, err)
	}
	return tickets, nil
}

package audit

import (
	"context"
	"fmt"

	"ms-checkin/internal/models"

	"github.com/uptrace/bun"
)

// DBSink stores entries in the checkin_logs table.
type DBSink struct {
	Bun *bun.DB
}

// Append inserts the entry. Re-appending an id already stored is a no-op
// so redelivered entries do not duplicate rows.
func (d *DBSink) Append(ctx context.Context, entry models.CheckInLogEntry) error {
	_, err := d.Bun.NewInsert().
		Model(&entry).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// ListByTicket returns a ticket's audit trail, oldest first.
func (d *DBSink) ListByTicket(ctx context.Context, ticketID string) ([]models.CheckInLogEntry, error) {
	var entries []models.CheckInLogEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("ticket_id = ?", ticketID).
		Order("timestamp ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audit entries for ticket %s: %w", ticketID, err)
	}
	return entries, nil
}

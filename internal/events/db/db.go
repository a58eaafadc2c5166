package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-checkin/internal/models"

	"github.com/uptrace/bun"
)

// DB is the read side of the event calendar. Events are owned by the
// event service; CreateEvent exists for seeding and tests.
type DB struct {
	Bun *bun.DB
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select event: %w", err)
	}
	return &event, nil
}

func (d *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	event.Dates = models.NormalizeDays(event.Dates)
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	return err
}

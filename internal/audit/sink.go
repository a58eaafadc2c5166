// Package audit delivers check-in decision records to durable sinks
// without holding up the gate.
package audit

import (
	"context"
	"errors"

	"ms-checkin/internal/models"
)

// Sink durably appends audit entries. Entries are never updated.
type Sink interface {
	Append(ctx context.Context, entry models.CheckInLogEntry) error
}

// MultiSink fans an entry out to every sink. It reports the joined
// failures, but still writes to the sinks that work.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, entry models.CheckInLogEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

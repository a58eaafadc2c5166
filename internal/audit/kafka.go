package audit

import (
	"context"

	"ms-checkin/internal/models"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// KafkaSink streams entries to the audit topic keyed by ticket, so one
// ticket's decisions stay ordered within a partition.
type KafkaSink struct {
	Producer Publisher
}

func (k *KafkaSink) Append(ctx context.Context, entry models.CheckInLogEntry) error {
	key := entry.TicketID
	if key == "" {
		// not-found scans have no ticket
		key = entry.Identifier
	}
	return k.Producer.Publish(ctx, key, entry)
}

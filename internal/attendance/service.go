package attendance

import (
	"context"
	"fmt"
	"time"

	"ms-checkin/internal/clock"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"
)

type TicketLister interface {
	ListTicketsByEvent(ctx context.Context, eventID string) ([]models.Ticket, error)
}

// Cache holds recent snapshots. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, eventID string) (*Snapshot, bool, error)
	Set(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error
}

type Service struct {
	Tickets TicketLister
	Cache   Cache
	TTL     time.Duration
	Clock   clock.Clock
	Logger  *logger.Logger
}

func NewService(tickets TicketLister, cache Cache, ttl time.Duration, l *logger.Logger) *Service {
	return &Service{Tickets: tickets, Cache: cache, TTL: ttl, Clock: clock.Real(), Logger: l}
}

// Snapshot returns the event's attendance, from cache when one is fresh.
// Cache failures fall through to the store.
func (s *Service) Snapshot(ctx context.Context, eventID string) (*Snapshot, error) {
	if s.Cache != nil {
		cached, ok, err := s.Cache.Get(ctx, eventID)
		if err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("attendance cache read failed for %s: %v", eventID, err))
		} else if ok {
			metrics.AttendanceCacheHitsTotal.Inc()
			return cached, nil
		}
	}

	tickets, err := s.Tickets.ListTicketsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	snap := Compute(eventID, tickets, s.Clock.Now().UTC())

	if s.Cache != nil && s.TTL > 0 {
		if err := s.Cache.Set(ctx, snap, s.TTL); err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("attendance cache write failed for %s: %v", eventID, err))
		}
	}
	return snap, nil
}

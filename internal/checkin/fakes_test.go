package checkin_test

import (
	"context"
	"sync"
	"time"

	"ms-checkin/internal/models"

	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory TicketStore with the same compare-and-swap
// behaviour as the bun store.
type memStore struct {
	mu      sync.Mutex
	tickets map[string]*models.Ticket
	byCode  map[string]string
	writes  int

	// conflictAlways makes every write lose, as if another scanner always
	// got there first.
	conflictAlways bool
	getErr         error
	updateErr      error
}

func newMemStore(tickets ...*models.Ticket) *memStore {
	s := &memStore{tickets: map[string]*models.Ticket{}, byCode: map[string]string{}}
	for _, t := range tickets {
		s.put(t)
	}
	return s
}

func (s *memStore) put(t *models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneTicket(t)
	if c.UsedDays == nil {
		c.UsedDays = []models.Day{}
	}
	s.tickets[c.ID] = c
	s.byCode[c.ScanCode] = c.ID
}

func (s *memStore) snapshot(id string) *models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTicket(s.tickets[id])
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) GetTicketByID(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.tickets[id]
	if !ok {
		return nil, models.ErrTicketNotFound
	}
	return cloneTicket(t), nil
}

func (s *memStore) GetTicketByScanCode(ctx context.Context, code string) (*models.Ticket, error) {
	s.mu.Lock()
	id, ok := s.byCode[code]
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrTicketNotFound
	}
	return s.GetTicketByID(ctx, id)
}

func (s *memStore) UpdateTicketCheckIn(_ context.Context, id string, expected int64, change models.CheckInChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	t, ok := s.tickets[id]
	if !ok {
		return models.ErrTicketNotFound
	}
	if s.conflictAlways || t.Version != expected {
		return models.ErrVersionConflict
	}
	t.UsedDays = append([]models.Day{}, change.UsedDays...)
	t.LastCheckinAt = copyTime(change.LastCheckinAt)
	t.UndoDeadline = copyTime(change.UndoDeadline)
	t.CheckinHistory = append([]models.CheckinHistoryEntry{}, change.CheckinHistory...)
	t.Version++
	s.writes++
	return nil
}

func cloneTicket(t *models.Ticket) *models.Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.AuthorizedDays = append([]models.Day(nil), t.AuthorizedDays...)
	c.UsedDays = append([]models.Day(nil), t.UsedDays...)
	c.CheckinHistory = append([]models.CheckinHistoryEntry(nil), t.CheckinHistory...)
	c.LastCheckinAt = copyTime(t.LastCheckinAt)
	c.UndoDeadline = copyTime(t.UndoDeadline)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type MockEventCalendar struct {
	mock.Mock
}

func (m *MockEventCalendar) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

type staticCalendar map[string]*models.Event

func (c staticCalendar) GetEvent(_ context.Context, id string) (*models.Event, error) {
	e, ok := c[id]
	if !ok {
		return nil, models.ErrEventNotFound
	}
	return e, nil
}

type recorder struct {
	mu      sync.Mutex
	entries []models.CheckInLogEntry
}

func (r *recorder) Record(e models.CheckInLogEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorder) all() []models.CheckInLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CheckInLogEntry(nil), r.entries...)
}

type notices struct {
	mu   sync.Mutex
	list []models.CheckInNotice
}

func (n *notices) Publish(notice models.CheckInNotice) {
	n.mu.Lock()
	n.list = append(n.list, notice)
	n.mu.Unlock()
}

func (n *notices) all() []models.CheckInNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.CheckInNotice(nil), n.list...)
}

package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkin/internal/clock"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/metrics"
	"ms-checkin/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	DefaultUndoWindow    = 5 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 10 * time.Millisecond

	// ScannerPerformer is recorded when an unattended kiosk scans a QR.
	ScannerPerformer = "scanner"
)

var (
	ErrInvalidMethod      = errors.New("method must be qr or manual")
	ErrIdentifierRequired = errors.New("scan_code or ticket_id is required")
	ErrPerformerRequired  = errors.New("an authenticated staff member is required")
)

// TicketStore is the persistent ticket record. UpdateTicketCheckIn must
// apply the change only when the stored version equals expectedVersion
// and return models.ErrVersionConflict otherwise.
type TicketStore interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByScanCode(ctx context.Context, code string) (*models.Ticket, error)
	UpdateTicketCheckIn(ctx context.Context, ticketID string, expectedVersion int64, change models.CheckInChange) error
}

type EventCalendar interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// AuditRecorder accepts audit entries without blocking the caller.
type AuditRecorder interface {
	Record(entry models.CheckInLogEntry)
}

// Notifier is told about every state change so dashboards can refresh.
type Notifier interface {
	Publish(notice models.CheckInNotice)
}

type Service struct {
	store         TicketStore
	events        EventCalendar
	audit         AuditRecorder
	notifier      Notifier
	clock         clock.Clock
	logger        *logger.Logger
	undoWindow    time.Duration
	maxAttempts   int
	retryInterval time.Duration
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.logger = l } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithUndoWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.undoWindow = d
		}
	}
}

// WithMaxAttempts bounds how many times a conditional write is tried
// before the request gives up on a contended ticket.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

func NewService(store TicketStore, events EventCalendar, audit AuditRecorder, opts ...Option) *Service {
	s := &Service{
		store:         store,
		events:        events,
		audit:         audit,
		clock:         clock.Real(),
		logger:        logger.NewNop(),
		undoWindow:    DefaultUndoWindow,
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// retryPolicy spaces out attempts of a conditional write with jitter so
// colliding scanners do not retry in lockstep.
func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = 20 * s.retryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)
}

type auditContext struct {
	action      string
	identifier  string
	performedBy string
	deviceID    string
	method      models.CheckinMethod
	notes       string
}

func (s *Service) record(ac auditContext, o Outcome) {
	metrics.CheckinDecisionsTotal.WithLabelValues(ac.action, o.Code()).Inc()

	day := o.Day
	if day == "" {
		day = o.Details.Day
	}
	at := o.At
	if at.IsZero() {
		at = s.clock.Now()
	}

	if s.audit == nil {
		return
	}
	s.audit.Record(models.CheckInLogEntry{
		ID:          uuid.NewString(),
		TicketID:    o.TicketID,
		Identifier:  ac.identifier,
		EventID:     o.EventID,
		Day:         day,
		Timestamp:   at,
		PerformedBy: ac.performedBy,
		DeviceID:    ac.deviceID,
		Method:      ac.method,
		Action:      ac.action,
		Outcome:     o.AuditCode(),
		Notes:       ac.notes,
	})
}

func (s *Service) notify(kind string, o Outcome) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(models.CheckInNotice{
		Type:        kind,
		EventID:     o.EventID,
		TicketID:    o.TicketID,
		Day:         o.Day,
		PerformedBy: o.PerformedBy,
		At:          o.At,
	})
}

func (s *Service) logRejection(category string, ac auditContext, o Outcome) {
	if o.Reason == ReasonTicketNotFound {
		s.logger.LogSecurity("TICKET_NOT_FOUND", fmt.Sprintf("%s identifier=%s device=%s by=%s",
			ac.action, mask(ac.identifier), ac.deviceID, ac.performedBy))
		return
	}
	s.logger.Info(category, fmt.Sprintf("%s rejected ticket=%s reason=%s by=%s", ac.action, o.TicketID, o.Reason, ac.performedBy))
}

// mask keeps forged or foreign codes out of plain logs.
func mask(identifier string) string {
	if len(identifier) <= 4 {
		return "****"
	}
	return identifier[:4] + "****"
}

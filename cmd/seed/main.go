package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ms-checkin/internal/config"
	"ms-checkin/internal/database"
	eventdb "ms-checkin/internal/events/db"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	ticketdb "ms-checkin/internal/tickets/db"
	"ms-checkin/internal/tickets/issue"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type options struct {
	eventName  string
	startDay   string
	days       int
	timezone   string
	opensAt    string
	closesAt   string
	count      int
	ticketType string
	access     string
	accessDays []string
	qrDir      string
}

// seeded is written to stdout, one JSON object per ticket.
type seeded struct {
	TicketID       string       `json:"ticket_id"`
	EventID        string       `json:"event_id"`
	ScanCode       string       `json:"scan_code"`
	AuthorizedDays []models.Day `json:"authorized_days"`
	QRPath         string       `json:"qr_path,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	var opts options
	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.StringVar(&opts.eventName, "event", "Demo Festival", "event name")
	flagSet.StringVar(&opts.startDay, "start", time.Now().Format(models.DayLayout), "first event day (YYYY-MM-DD, venue-local)")
	flagSet.IntVar(&opts.days, "days", 1, "number of consecutive event days")
	flagSet.StringVar(&opts.timezone, "tz", "UTC", "venue IANA timezone")
	flagSet.StringVar(&opts.opensAt, "opens", "08:00", "gate opening time on the first day")
	flagSet.StringVar(&opts.closesAt, "closes", "23:00", "gate closing time on the last day")
	flagSet.IntVar(&opts.count, "tickets", 10, "number of tickets to issue")
	flagSet.StringVar(&opts.ticketType, "ticket-type", "general", "ticket type id")
	flagSet.StringVar(&opts.access, "access", string(issue.AccessAllDays), "access rule: all_days, single_day, day_list")
	flagSet.StringSliceVar(&opts.accessDays, "access-days", nil, "days for single_day/day_list rules")
	flagSet.StringVar(&opts.qrDir, "qr-dir", "", "write one QR PNG per ticket into this directory")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	event, err := buildEvent(opts)
	if err != nil {
		return err
	}

	l := logger.NewLogger("checkin-seed")
	defer l.Close()

	ctx := context.Background()
	bunDB, err := database.Connect(ctx, cfg.Database, l)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	events := &eventdb.DB{Bun: bunDB}
	tickets := &ticketdb.DB{Bun: bunDB}
	if err := events.CreateEvent(ctx, event); err != nil {
		return err
	}
	l.Info("SEED", fmt.Sprintf("Created event %s (%s) with %d day(s)", event.ID, event.Name, len(event.Dates)))

	if opts.qrDir != "" {
		if err := os.MkdirAll(opts.qrDir, 0o755); err != nil {
			return fmt.Errorf("create qr dir: %w", err)
		}
	}

	rule := issue.AccessRule{Kind: issue.AccessKind(opts.access), Days: opts.accessDays}
	issuer := issue.NewIssuer()
	out := json.NewEncoder(os.Stdout)
	for i := 0; i < opts.count; i++ {
		ticket, err := issuer.Issue(event, opts.ticketType, rule, issue.Attendee{Name: fmt.Sprintf("Guest %d", i+1)})
		if err != nil {
			return err
		}
		if err := tickets.CreateTicket(ctx, ticket); err != nil {
			return err
		}

		row := seeded{TicketID: ticket.ID, EventID: event.ID, ScanCode: ticket.ScanCode, AuthorizedDays: ticket.AuthorizedDays}
		if opts.qrDir != "" {
			png, err := issue.QRCode(ticket, 256)
			if err != nil {
				return err
			}
			row.QRPath = filepath.Join(opts.qrDir, ticket.ID+".png")
			if err := os.WriteFile(row.QRPath, png, 0o644); err != nil {
				return fmt.Errorf("write qr: %w", err)
			}
		}
		if err := out.Encode(row); err != nil {
			return err
		}
	}
	l.Info("SEED", fmt.Sprintf("Issued %d ticket(s) for event %s", opts.count, event.ID))
	return nil
}

func buildEvent(opts options) (*models.Event, error) {
	if opts.days < 1 {
		return nil, fmt.Errorf("--days must be at least 1")
	}
	loc, err := time.LoadLocation(opts.timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", opts.timezone, err)
	}
	first, err := models.ParseDay(opts.startDay)
	if err != nil {
		return nil, err
	}
	firstStart, err := first.Start(loc)
	if err != nil {
		return nil, err
	}

	dates := make([]models.Day, opts.days)
	for i := range dates {
		dates[i] = models.DayOf(firstStart.AddDate(0, 0, i), loc)
	}
	lastStart, err := dates[len(dates)-1].Start(loc)
	if err != nil {
		return nil, err
	}
	opens, err := clockOffset(opts.opensAt)
	if err != nil {
		return nil, err
	}
	closes, err := clockOffset(opts.closesAt)
	if err != nil {
		return nil, err
	}

	return &models.Event{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(opts.eventName),
		StartAt:   firstStart.Add(opens),
		EndAt:     lastStart.Add(closes),
		Dates:     dates,
		Timezone:  loc.String(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func clockOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

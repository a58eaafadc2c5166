package issue

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"ms-checkin/internal/clock"
	"ms-checkin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var festival = &models.Event{
	ID:    "evt-1",
	Dates: []models.Day{"2024-03-02", "2024-03-01", "2024-03-03"},
}

func TestAccessRule_AuthorizedDays(t *testing.T) {
	tests := []struct {
		name    string
		rule    AccessRule
		want    []models.Day
		wantErr bool
	}{
		{"all days", AccessRule{Kind: AccessAllDays}, []models.Day{"2024-03-01", "2024-03-02", "2024-03-03"}, false},
		{"default is all days", AccessRule{}, []models.Day{"2024-03-01", "2024-03-02", "2024-03-03"}, false},
		{"single day", AccessRule{Kind: AccessSingleDay, Days: []string{"2024-03-02", "2024-03-03"}}, []models.Day{"2024-03-02"}, false},
		{"day list", AccessRule{Kind: AccessDayList, Days: []string{"2024-03-03", "2024-03-01", "2024-03-03"}}, []models.Day{"2024-03-01", "2024-03-03"}, false},
		{"outside event", AccessRule{Kind: AccessDayList, Days: []string{"2024-04-01"}}, nil, true},
		{"malformed", AccessRule{Kind: AccessSingleDay, Days: []string{"March 1"}}, nil, true},
		{"empty list", AccessRule{Kind: AccessDayList}, nil, true},
		{"unknown", AccessRule{Kind: "weekends"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.AuthorizedDays(festival)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIssuer_IssueProducesUnusedTicket(t *testing.T) {
	issuedAt := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	issuer := &Issuer{Clock: clock.Fake(issuedAt)}

	a, err := issuer.Issue(festival, "vip", AccessRule{Kind: AccessAllDays}, Attendee{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	b, err := issuer.Issue(festival, "vip", AccessRule{Kind: AccessAllDays}, Attendee{Name: "Alan"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ScanCode, b.ScanCode)
	assert.Len(t, a.ScanCode, 32)
	assert.Equal(t, "evt-1", a.EventID)
	assert.Equal(t, models.StateNotArrived, a.State())
	assert.Empty(t, a.UsedDays)
	assert.Nil(t, a.UndoDeadline)
	assert.Equal(t, issuedAt, a.IssuedAt)
	assert.Len(t, a.AuthorizedDays, 3)
}

func TestIssuer_RejectsEventWithoutDates(t *testing.T) {
	_, err := NewIssuer().Issue(&models.Event{ID: "evt-empty"}, "ga", AccessRule{}, Attendee{})
	assert.ErrorIs(t, err, ErrNoDays)
}

func TestQRCode_RendersPNG(t *testing.T) {
	ticket, err := NewIssuer().Issue(festival, "ga", AccessRule{}, Attendee{})
	require.NoError(t, err)

	raw, err := QRCode(ticket, 128)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	_, err = QRCode(&models.Ticket{}, 128)
	assert.Error(t, err)
}

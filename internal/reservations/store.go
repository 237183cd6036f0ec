// Package reservations persists confirmed reservations and serves them to
// the admin API.
package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/models"
)

// Reservation is one persisted booking.
type Reservation struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	PartySize int       `json:"people"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists and lists reservations.
type Store interface {
	CreateReservation(ctx context.Context, draft models.ReservationDraft) (int64, error)
	ListReservations(ctx context.Context, date string) ([]Reservation, error)
}

// ErrInvalidDraft wraps all draft validation failures.
var ErrInvalidDraft = errors.New("invalid reservation draft")

// ValidateDraft checks that a draft is complete enough to persist. The date
// is normalized in place.
func ValidateDraft(draft *models.ReservationDraft) error {
	if strings.TrimSpace(draft.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(draft.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(draft.Time) == "" {
		return fmt.Errorf("%w: time is required", ErrInvalidDraft)
	}
	if draft.PartySize < 1 {
		return fmt.Errorf("%w: party size must be at least 1", ErrInvalidDraft)
	}
	normalized, err := NormalizeDate(draft.Date)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	draft.Date = normalized
	return nil
}

// dateLayouts are the formats the assistant backend is known to emit.
var dateLayouts = []string{
	"02-01-2006",
	"2006-01-02",
	"02/01/2006",
	"January 2, 2006",
	"2 January 2006",
}

// NormalizeDate rewrites a date string to DD-MM-YYYY, the format the
// restaurant's booking book uses.
func NormalizeDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("02-01-2006"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", raw)
}

// LogStore is the fallback used when no database is configured: bookings are
// assigned sequential IDs and only logged.
type LogStore struct {
	log zerolog.Logger

	mu    sync.Mutex
	next  int64
	saved []Reservation
}

func NewLogStore(log zerolog.Logger) *LogStore {
	return &LogStore{log: log, next: 1}
}

func (s *LogStore) CreateReservation(ctx context.Context, draft models.ReservationDraft) (int64, error) {
	if err := ValidateDraft(&draft); err != nil {
		return 0, err
	}
	s.mu.Lock()
	id := s.next
	s.next++
	s.saved = append(s.saved, Reservation{
		ID:        id,
		Name:      draft.Name,
		Phone:     draft.Phone,
		Date:      draft.Date,
		Time:      draft.Time,
		PartySize: draft.PartySize,
		CreatedAt: time.Now().UTC(),
	})
	s.mu.Unlock()

	s.log.Info().
		Int64("id", id).
		Str("name", draft.Name).
		Str("date", draft.Date).
		Str("time", draft.Time).
		Int("people", draft.PartySize).
		Msg("reservation saved (log-only store)")
	return id, nil
}

func (s *LogStore) ListReservations(ctx context.Context, date string) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reservation, 0, len(s.saved))
	for _, r := range s.saved {
		if date == "" || r.Date == date {
			out = append(out, r)
		}
	}
	return out, nil
}

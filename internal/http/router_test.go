package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/models"
	"voice-reservation-assistant/internal/reservations"
)

func seededStore(t *testing.T) reservations.Store {
	t.Helper()
	s := reservations.NewLogStore(zerolog.Nop())
	drafts := []models.ReservationDraft{
		{Name: "Dana", Phone: "555-0100", Date: "24-12-2026", Time: "19:00", PartySize: 4},
		{Name: "Sam", Phone: "555-0101", Date: "25-12-2026", Time: "20:00", PartySize: 2},
	}
	for _, d := range drafts {
		if _, err := s.CreateReservation(context.Background(), d); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	return s
}

func TestRouter_HealthEndpoints(t *testing.T) {
	r := NewRouter(seededStore(t), nil, zerolog.Nop())

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s returned %d", path, rec.Code)
		}
	}
}

func TestRouter_ListReservations(t *testing.T) {
	r := NewRouter(seededStore(t), nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/v1/reservations", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []reservations.Reservation
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d reservations, want 2", len(list))
	}
}

func TestRouter_ListReservationsFiltersAndNormalizesDate(t *testing.T) {
	r := NewRouter(seededStore(t), nil, zerolog.Nop())

	// ISO input must match the stored DD-MM-YYYY rows.
	req := httptest.NewRequest(http.MethodGet, "/v1/reservations?date=2026-12-25", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []reservations.Reservation
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Sam" {
		t.Fatalf("filtered list = %+v", list)
	}
}

func TestRouter_ListReservationsRejectsBadDate(t *testing.T) {
	r := NewRouter(seededStore(t), nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/v1/reservations?date=someday", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRouter_NoStoreIsServiceUnavailable(t *testing.T) {
	r := NewRouter(nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/v1/reservations", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voice-reservation-assistant/internal/engine/conn"
	"voice-reservation-assistant/internal/engine/session"
	"voice-reservation-assistant/internal/models"
	"voice-reservation-assistant/internal/observability/logging"
)

// Sink bridges session notifications onto the Kafka event feed. Publishes
// run off the session's event loop so a slow broker never stalls the
// conversation.
type Sink struct {
	pub *Publisher

	mu        sync.Mutex
	sessionID string
	draft     *models.ReservationDraft
}

// NewSink creates a sink feeding the given publisher.
func NewSink(pub *Publisher) *Sink {
	return &Sink{pub: pub}
}

func (s *Sink) ConnectionStatusChanged(status conn.Status) {
	if status != conn.StatusConnected {
		return
	}
	s.mu.Lock()
	s.sessionID = fmt.Sprintf("sess-%d", time.Now().UnixNano())
	s.draft = nil
	id := s.sessionID
	s.mu.Unlock()
	lg := logging.WithSession(id)
	lg.Debug().Msg("event feed keyed to new session")
}

func (s *Sink) AgentStateChanged(session.AgentState) {}

func (s *Sink) TranscriptAppended(entry models.TranscriptEntry) {
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()

	ev := models.TranscriptEvent{
		EventType: "conversation.transcript.line",
		SessionID: id,
		Role:      entry.Role,
		Text:      entry.Content,
		Timestamp: time.Now().UnixMilli(),
	}
	go s.publish(func(ctx context.Context) error {
		return s.pub.PublishTranscript(ctx, id, ev)
	})
}

func (s *Sink) DraftUpdated(draft *models.ReservationDraft) {
	s.mu.Lock()
	s.draft = draft
	s.mu.Unlock()
}

func (s *Sink) OutcomeRecorded(outcome *models.ReservationOutcome) {
	if outcome == nil {
		return
	}
	s.mu.Lock()
	id := s.sessionID
	draft := s.draft
	s.mu.Unlock()

	ev := models.ReservationEvent{
		EventType:     "reservation.attempt",
		SessionID:     id,
		ReservationID: outcome.ID,
		Success:       outcome.Success,
		Error:         outcome.ErrorMessage,
		Draft:         draft,
		Timestamp:     time.Now().UnixMilli(),
	}
	go s.publish(func(ctx context.Context) error {
		return s.pub.PublishReservation(ctx, id, ev)
	})
}

func (s *Sink) PermissionAdvisory(string) {}

func (s *Sink) publish(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = fn(ctx)
}

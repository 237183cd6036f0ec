package session

import (
	"voice-reservation-assistant/internal/engine/conn"
	"voice-reservation-assistant/internal/models"
)

// MultiSink fans notifications out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) ConnectionStatusChanged(status conn.Status) {
	for _, s := range m {
		s.ConnectionStatusChanged(status)
	}
}

func (m MultiSink) AgentStateChanged(state AgentState) {
	for _, s := range m {
		s.AgentStateChanged(state)
	}
}

func (m MultiSink) TranscriptAppended(entry models.TranscriptEntry) {
	for _, s := range m {
		s.TranscriptAppended(entry)
	}
}

func (m MultiSink) DraftUpdated(draft *models.ReservationDraft) {
	for _, s := range m {
		s.DraftUpdated(draft)
	}
}

func (m MultiSink) OutcomeRecorded(outcome *models.ReservationOutcome) {
	for _, s := range m {
		s.OutcomeRecorded(outcome)
	}
}

func (m MultiSink) PermissionAdvisory(reason string) {
	for _, s := range m {
		s.PermissionAdvisory(reason)
	}
}

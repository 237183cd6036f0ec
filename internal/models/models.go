// Package models defines the data structures shared by the conversation
// engine, the reservation store and the event feed.
package models

// Transcript roles as they appear on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "ai"
)

// TranscriptEntry is one line of the conversation, produced by text frames
// received from the remote assistant. Append-only; display only.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReservationDraft is an unconfirmed, replaceable snapshot of reservation
// fields pending caller confirmation. The wire uses "people" for the party
// size, matching the reservation backend.
type ReservationDraft struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	PartySize int    `json:"people"`
}

// ReservationOutcome is the transient result of one confirmation attempt.
// Cleared by explicit acknowledgement or by starting a new session.
type ReservationOutcome struct {
	Success      bool   `json:"success"`
	ID           int64  `json:"id,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
}

// Control message types recognized on the socket.
const (
	MessageTypeText                 = "text"
	MessageTypeReviewDetails        = "review_details"
	MessageTypeReservationConfirmed = "reservation_confirmed"
	MessageTypeEndSession           = "end_session"
)

// ControlMessage is the JSON envelope for non-audio frames. Role/Content are
// set for "text" messages; Data carries the draft for "review_details" and
// optionally for "reservation_confirmed".
type ControlMessage struct {
	Type    string            `json:"type"`
	Role    string            `json:"role,omitempty"`
	Content string            `json:"content,omitempty"`
	Data    *ReservationDraft `json:"data,omitempty"`
}

// TranscriptEvent is published to the transcript topic for each finalized
// conversation line.
type TranscriptEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ReservationEvent is published to the reservation topic once per
// confirmation attempt, success or failure.
type ReservationEvent struct {
	EventType     string            `json:"eventType"`
	SessionID     string            `json:"sessionId"`
	ReservationID int64             `json:"reservationId,omitempty"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	Draft         *ReservationDraft `json:"draft,omitempty"`
	Timestamp     int64             `json:"timestamp"`
}

// Package conn manages the websocket link to the assistant backend. It owns
// the connection lifecycle, splits the wire traffic into typed events
// (control frames as JSON, audio frames as binary) and serializes writes.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/models"
	"voice-reservation-assistant/internal/observability/metrics"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind discriminates the events emitted by the manager.
type EventKind int

const (
	// KindStatus reports a lifecycle transition; Err is set for StatusError.
	KindStatus EventKind = iota
	// KindText carries one transcript entry.
	KindText
	// KindReviewDetails carries a reservation draft for caller review.
	KindReviewDetails
	// KindReservationConfirmed signals the caller confirmed; Draft may be nil
	// when the backend omits the payload.
	KindReservationConfirmed
	// KindEndSession signals the backend considers the conversation over.
	KindEndSession
	// KindAudio carries one synthesized audio segment.
	KindAudio
)

// Event is one item read from the socket, or a status transition.
type Event struct {
	Kind   EventKind
	Status Status
	Entry  *models.TranscriptEntry
	Draft  *models.ReservationDraft
	Audio  []byte
	Err    error
}

// ErrNotConnected is returned by write operations while the socket is down.
var ErrNotConnected = errors.New("socket is not connected")

// Manager is a websocket client for the assistant protocol. All events,
// including status transitions, arrive on the single Events channel so the
// consumer observes them in wire order.
type Manager struct {
	url    string
	log    zerolog.Logger
	events chan Event

	mu      sync.Mutex
	status  Status
	conn    *websocket.Conn
	closing bool

	writeMu sync.Mutex
}

// NewManager creates a disconnected manager for the given websocket URL.
func NewManager(url string, log zerolog.Logger) *Manager {
	return &Manager{
		url:    url,
		log:    log,
		events: make(chan Event, 64),
	}
}

// Events returns the stream of socket events. The channel is never closed;
// it spans reconnects.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect dials the backend. It is an error to connect while a connection is
// already open or being opened. A failed dial moves the manager to
// StatusError; it may be connected again afterwards.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return fmt.Errorf("connect while %s", m.status)
	}
	m.status = StatusConnecting
	m.closing = false
	m.mu.Unlock()
	m.post(Event{Kind: KindStatus, Status: StatusConnecting})

	c, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.mu.Lock()
		wasClosing := m.closing
		m.closing = false
		if wasClosing {
			m.status = StatusDisconnected
		} else {
			m.status = StatusError
		}
		m.mu.Unlock()
		if wasClosing {
			m.post(Event{Kind: KindStatus, Status: StatusDisconnected})
		} else {
			metrics.DefaultMetrics.RecordConnectionError()
			m.post(Event{Kind: KindStatus, Status: StatusError, Err: err})
		}
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	if m.closing {
		// Disconnect was requested while the dial was in flight.
		m.closing = false
		m.status = StatusDisconnected
		m.mu.Unlock()
		c.Close()
		m.post(Event{Kind: KindStatus, Status: StatusDisconnected})
		return nil
	}
	m.status = StatusConnected
	m.conn = c
	m.mu.Unlock()
	metrics.DefaultMetrics.RecordConnect()
	m.post(Event{Kind: KindStatus, Status: StatusConnected})

	go m.readLoop(c)
	return nil
}

// Disconnect closes the connection if one is open. Safe to call in any
// state, any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	if c == nil {
		if m.status == StatusConnecting {
			// Flag the in-flight dial; Connect drops the socket on arrival and
			// posts the Disconnected transition itself.
			m.closing = true
		}
		m.mu.Unlock()
		return
	}
	m.closing = true
	m.mu.Unlock()

	m.writeMu.Lock()
	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.writeMu.Unlock()
	c.Close()
}

// SendAudio ships one captured segment as a binary frame.
func (m *Manager) SendAudio(segment []byte) error {
	m.mu.Lock()
	c := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || c == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	err := c.WriteMessage(websocket.BinaryMessage, segment)
	m.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	metrics.DefaultMetrics.RecordAudioSent(len(segment))
	return nil
}

// readLoop drains the socket until it closes, translating frames to events.
func (m *Manager) readLoop(c *websocket.Conn) {
	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			m.finish(c, err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			metrics.DefaultMetrics.RecordAudioReceived(len(data))
			m.post(Event{Kind: KindAudio, Audio: data})
		case websocket.TextMessage:
			m.handleControl(data)
		}
	}
}

func (m *Manager) handleControl(data []byte) {
	var msg models.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warn().Err(err).Msg("dropping malformed control frame")
		return
	}
	metrics.DefaultMetrics.RecordMessageReceived(msg.Type)

	switch msg.Type {
	case models.MessageTypeText:
		m.post(Event{Kind: KindText, Entry: &models.TranscriptEntry{Role: msg.Role, Content: msg.Content}})
	case models.MessageTypeReviewDetails:
		if msg.Data == nil {
			m.log.Warn().Msg("review_details frame without data")
			return
		}
		m.post(Event{Kind: KindReviewDetails, Draft: msg.Data})
	case models.MessageTypeReservationConfirmed:
		m.post(Event{Kind: KindReservationConfirmed, Draft: msg.Data})
	case models.MessageTypeEndSession:
		m.post(Event{Kind: KindEndSession})
	default:
		m.log.Warn().Str("type", msg.Type).Msg("ignoring unknown control frame type")
	}
}

// finish records the terminal state of one connection. A read error after a
// requested Disconnect is a clean close; anything else is a transport error.
func (m *Manager) finish(c *websocket.Conn, err error) {
	c.Close()

	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	wasClosing := m.closing
	m.closing = false
	if wasClosing || isNormalClose(err) {
		m.status = StatusDisconnected
	} else {
		m.status = StatusError
	}
	status := m.status
	m.mu.Unlock()

	metrics.DefaultMetrics.RecordDisconnect()
	if status == StatusError {
		m.log.Warn().Err(err).Msg("socket closed unexpectedly")
		m.post(Event{Kind: KindStatus, Status: status, Err: err})
		return
	}
	m.post(Event{Kind: KindStatus, Status: status})
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// post delivers an event in wire order. Only the dial and read goroutines
// post, never the consumer, so a slow consumer backpressures the socket
// instead of losing frames.
func (m *Manager) post(ev Event) {
	m.events <- ev
}

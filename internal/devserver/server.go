// Package devserver is a scripted stand-in for the conversational backend.
// It speaks the production wire protocol (JSON control frames, binary audio)
// but follows a fixed dialogue instead of running speech models, which makes
// it usable for local development and protocol tests.
package devserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/audio"
	"voice-reservation-assistant/internal/models"
)

// Turn is one scripted exchange: the caller's transcribed utterance and the
// assistant's reaction to it.
type Turn struct {
	UserText      string
	AssistantText string
	// Review, when set, is sent as a review_details frame after the reply.
	Review *models.ReservationDraft
	// Confirm, when set, is sent as reservation_confirmed with this draft,
	// followed by end_session.
	Confirm *models.ReservationDraft
}

// DefaultScript walks a complete booking for a party of four.
func DefaultScript() []Turn {
	draft := &models.ReservationDraft{
		Name:      "Dana Miller",
		Phone:     "555-0100",
		Date:      "24-12-2026",
		Time:      "19:00",
		PartySize: 4,
	}
	return []Turn{
		{
			UserText:      "Hi, I'd like to book a table for four.",
			AssistantText: "Of course! May I have your name and phone number?",
		},
		{
			UserText:      "Dana Miller, 555-0100.",
			AssistantText: "Thanks Dana. What date and time would you like?",
		},
		{
			UserText:      "December 24th at 7 pm.",
			AssistantText: "A table for 4 on 24-12-2026 at 19:00 under Dana Miller. Shall I confirm?",
			Review:        draft,
		},
		{
			UserText:      "Yes, please confirm.",
			AssistantText: "Wonderful, your table is booked. See you then!",
			Confirm:       draft,
		},
	}
}

const greeting = "Hello! Welcome to Gourmet Bistro. How can I help you today?"

// Server upgrades websocket connections and runs the script against each.
type Server struct {
	script   []Turn
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(script []Turn, log zerolog.Logger) *Server {
	if len(script) == 0 {
		script = DefaultScript()
	}
	return &Server{
		script: script,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the websocket upgrade handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		s.serve(c)
	})
}

// serve runs one scripted conversation. Reads and writes share the loop, so
// no write locking is needed.
func (s *Server) serve(c *websocket.Conn) {
	defer c.Close()
	log := s.log.With().Str("remote", c.RemoteAddr().String()).Logger()
	log.Info().Msg("caller connected")

	if err := s.send(c, models.ControlMessage{Type: models.MessageTypeText, Role: models.RoleAssistant, Content: greeting}); err != nil {
		return
	}
	if err := s.sendSpeech(c, 0); err != nil {
		return
	}

	idx := 0
	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			log.Info().Err(err).Msg("caller disconnected")
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		log.Debug().Int("bytes", len(data)).Int("turn", idx).Msg("received caller audio")

		if idx >= len(s.script) {
			if err := s.send(c, models.ControlMessage{Type: models.MessageTypeEndSession}); err != nil {
				return
			}
			continue
		}
		turn := s.script[idx]
		idx++

		if err := s.send(c, models.ControlMessage{Type: models.MessageTypeText, Role: models.RoleUser, Content: turn.UserText}); err != nil {
			return
		}
		if err := s.send(c, models.ControlMessage{Type: models.MessageTypeText, Role: models.RoleAssistant, Content: turn.AssistantText}); err != nil {
			return
		}
		if turn.Review != nil {
			if err := s.send(c, models.ControlMessage{Type: models.MessageTypeReviewDetails, Data: turn.Review}); err != nil {
				return
			}
		}
		if err := s.sendSpeech(c, idx); err != nil {
			return
		}
		if turn.Confirm != nil {
			if err := s.send(c, models.ControlMessage{Type: models.MessageTypeReservationConfirmed, Data: turn.Confirm}); err != nil {
				return
			}
			if err := s.send(c, models.ControlMessage{Type: models.MessageTypeEndSession}); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(c *websocket.Conn, msg models.ControlMessage) error {
	if err := c.WriteJSON(msg); err != nil {
		s.log.Warn().Err(err).Str("type", msg.Type).Msg("write failed")
		return err
	}
	return nil
}

// sendSpeech ships a placeholder tone instead of synthesized speech; each
// turn gets a different pitch so segments are distinguishable by ear.
func (s *Server) sendSpeech(c *websocket.Conn, turn int) error {
	tone := audio.SineWAV(340+float64(turn)*80, 400*time.Millisecond, 16000)
	if err := c.WriteMessage(websocket.BinaryMessage, tone); err != nil {
		s.log.Warn().Err(err).Msg("audio write failed")
		return err
	}
	return nil
}

package devserver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/models"
)

type frame struct {
	control *models.ControlMessage
	audio   []byte
}

func dialScripted(t *testing.T) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(New(nil, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType == websocket.BinaryMessage {
		return frame{audio: data}
	}
	var msg models.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode control frame: %v", err)
	}
	return frame{control: &msg}
}

func expectControl(t *testing.T, c *websocket.Conn, msgType string) *models.ControlMessage {
	t.Helper()
	f := readFrame(t, c)
	if f.control == nil {
		t.Fatalf("expected %s frame, got %d audio bytes", msgType, len(f.audio))
	}
	if f.control.Type != msgType {
		t.Fatalf("frame type = %s, want %s", f.control.Type, msgType)
	}
	return f.control
}

func expectAudio(t *testing.T, c *websocket.Conn) {
	t.Helper()
	f := readFrame(t, c)
	if f.audio == nil {
		t.Fatalf("expected audio frame, got control %+v", f.control)
	}
	if string(f.audio[0:4]) != "RIFF" {
		t.Fatal("audio frame is not a WAV container")
	}
}

func TestServer_GreetsOnConnect(t *testing.T) {
	c := dialScripted(t)

	msg := expectControl(t, c, models.MessageTypeText)
	if msg.Role != models.RoleAssistant || !strings.Contains(msg.Content, "Gourmet Bistro") {
		t.Fatalf("greeting = %+v", msg)
	}
	expectAudio(t, c)
}

func TestServer_FullBookingDialogue(t *testing.T) {
	c := dialScripted(t)

	// Greeting.
	expectControl(t, c, models.MessageTypeText)
	expectAudio(t, c)

	script := DefaultScript()
	for i, turn := range script {
		if err := c.WriteMessage(websocket.BinaryMessage, []byte("RIFFfake")); err != nil {
			t.Fatalf("send audio: %v", err)
		}

		user := expectControl(t, c, models.MessageTypeText)
		if user.Role != models.RoleUser || user.Content != turn.UserText {
			t.Fatalf("turn %d user frame = %+v", i, user)
		}
		assistant := expectControl(t, c, models.MessageTypeText)
		if assistant.Role != models.RoleAssistant {
			t.Fatalf("turn %d assistant frame = %+v", i, assistant)
		}
		if turn.Review != nil {
			review := expectControl(t, c, models.MessageTypeReviewDetails)
			if review.Data == nil || review.Data.PartySize != 4 {
				t.Fatalf("review frame = %+v", review)
			}
		}
		expectAudio(t, c)
		if turn.Confirm != nil {
			confirmed := expectControl(t, c, models.MessageTypeReservationConfirmed)
			if confirmed.Data == nil || confirmed.Data.Name != "Dana Miller" {
				t.Fatalf("confirmed frame = %+v", confirmed)
			}
			expectControl(t, c, models.MessageTypeEndSession)
		}
	}
}

func drainUntil(t *testing.T, c *websocket.Conn, msgType string) {
	t.Helper()
	for i := 0; i < 32; i++ {
		f := readFrame(t, c)
		if f.control != nil && f.control.Type == msgType {
			return
		}
	}
	t.Fatalf("never received a %s frame", msgType)
}

func TestServer_ExhaustedScriptEndsSession(t *testing.T) {
	c := dialScripted(t)
	expectControl(t, c, models.MessageTypeText)
	expectAudio(t, c)

	// Walk the whole script; the final turn emits end_session.
	for range DefaultScript() {
		if err := c.WriteMessage(websocket.BinaryMessage, []byte("x")); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}
	drainUntil(t, c, models.MessageTypeEndSession)

	// Audio past the script's end is answered with end_session only.
	if err := c.WriteMessage(websocket.BinaryMessage, []byte("x")); err != nil {
		t.Fatalf("send audio: %v", err)
	}
	expectControl(t, c, models.MessageTypeEndSession)
}

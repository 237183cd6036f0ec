// Package session drives one voice conversation: it owns the agent state
// machine, wires capture, playback and the socket together, and runs the
// reservation handshake. All state transitions happen on a single event-loop
// goroutine, so socket callbacks, capture finalization, playback drain,
// timers and user commands never race each other.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/engine/capture"
	"voice-reservation-assistant/internal/engine/conn"
	"voice-reservation-assistant/internal/engine/playback"
	"voice-reservation-assistant/internal/models"
	"voice-reservation-assistant/internal/observability/metrics"
)

// Socket is the transport dependency, satisfied by *conn.Manager.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendAudio(segment []byte) error
	Events() <-chan conn.Event
}

// Recorder is the microphone dependency, satisfied by *capture.Controller.
type Recorder interface {
	Start(deliver func(capture.Result)) error
	Stop()
	Active() bool
}

// Store persists confirmed reservations.
type Store interface {
	CreateReservation(ctx context.Context, draft models.ReservationDraft) (int64, error)
}

// Sink observes session changes. Callbacks run on the session's event-loop
// goroutine and must not block.
type Sink interface {
	ConnectionStatusChanged(status conn.Status)
	AgentStateChanged(state AgentState)
	TranscriptAppended(entry models.TranscriptEntry)
	DraftUpdated(draft *models.ReservationDraft)
	OutcomeRecorded(outcome *models.ReservationOutcome)
	// PermissionAdvisory reports the standing microphone advisory. An empty
	// reason means a later capture start succeeded and the advisory cleared.
	PermissionAdvisory(reason string)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) ConnectionStatusChanged(conn.Status)        {}
func (NopSink) AgentStateChanged(AgentState)               {}
func (NopSink) TranscriptAppended(models.TranscriptEntry)  {}
func (NopSink) DraftUpdated(*models.ReservationDraft)      {}
func (NopSink) OutcomeRecorded(*models.ReservationOutcome) {}
func (NopSink) PermissionAdvisory(string)                  {}

// Config holds session tunables.
type Config struct {
	// GraceDelay is how long to keep the socket open after the final audio
	// drains, so the backend can flush trailing frames.
	GraceDelay time.Duration
	// PersistTimeout bounds one reservation store call.
	PersistTimeout time.Duration
}

// DefaultConfig returns session defaults.
func DefaultConfig() Config {
	return Config{
		GraceDelay:     time.Second,
		PersistTimeout: 5 * time.Second,
	}
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evStartCapture
	evStopCapture
	evAcknowledge
	evCaptureDone
	evDrained
	evGraceElapsed
	evPersisted
	evShutdown
)

type event struct {
	kind    eventKind
	capture capture.Result
	outcome models.ReservationOutcome
}

// Session is the conversation engine facade. Create with New, drive with the
// command methods, observe through the Sink and the snapshot accessors.
type Session struct {
	cfg   Config
	sock  Socket
	rec   Recorder
	queue *playback.Queue
	store Store
	sink  Sink
	log   zerolog.Logger

	cmds chan event
	done chan struct{}

	// Loop-owned state, mirrored under mu for the snapshot accessors.
	mu         sync.Mutex
	state      AgentState
	status     conn.Status
	transcript []models.TranscriptEntry
	draft      *models.ReservationDraft
	outcome    *models.ReservationOutcome
	advisory   string

	// Loop-only state, never read outside the loop goroutine.
	autoLoop    bool
	terminating bool
	startedAt   time.Time
}

// New assembles a session. player renders assistant audio; store may be nil
// when persistence is unavailable, in which case confirmations fail softly.
func New(cfg Config, sock Socket, rec Recorder, player playback.Player, store Store, sink Sink, log zerolog.Logger) *Session {
	def := DefaultConfig()
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = def.GraceDelay
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if sink == nil {
		sink = NopSink{}
	}
	s := &Session{
		cfg:    cfg,
		sock:   sock,
		rec:    rec,
		store:  store,
		sink:   sink,
		log:    log,
		cmds:   make(chan event, 32),
		done:   make(chan struct{}),
		status: conn.StatusDisconnected,
	}
	s.queue = playback.NewQueue(player, log, func() { s.post(event{kind: evDrained}) })
	go s.run()
	return s
}

func (s *Session) lock()   { s.mu.Lock() }
func (s *Session) unlock() { s.mu.Unlock() }

// Connect opens the conversation. Previous transcript, draft and outcome are
// cleared.
func (s *Session) Connect() { s.post(event{kind: evConnect}) }

// Disconnect hangs up immediately: capture is stopped, pending playback is
// dropped, the socket closes.
func (s *Session) Disconnect() { s.post(event{kind: evDisconnect}) }

// StartCapture opens the microphone for one take.
func (s *Session) StartCapture() { s.post(event{kind: evStartCapture}) }

// StopCapture ends the current take early. The captured audio is still sent.
// Stopping manually also disables the automatic listen loop.
func (s *Session) StopCapture() { s.post(event{kind: evStopCapture}) }

// AcknowledgeOutcome clears the recorded reservation outcome.
func (s *Session) AcknowledgeOutcome() { s.post(event{kind: evAcknowledge}) }

// Close stops the event loop. The session cannot be reused afterwards.
func (s *Session) Close() {
	s.post(event{kind: evShutdown})
	<-s.done
}

// State returns the current agent state.
func (s *Session) State() AgentState {
	s.lock()
	defer s.unlock()
	return s.state
}

// ConnectionStatus returns the current transport status.
func (s *Session) ConnectionStatus() conn.Status {
	s.lock()
	defer s.unlock()
	return s.status
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []models.TranscriptEntry {
	s.lock()
	defer s.unlock()
	out := make([]models.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Draft returns the pending reservation draft, or nil.
func (s *Session) Draft() *models.ReservationDraft {
	s.lock()
	defer s.unlock()
	if s.draft == nil {
		return nil
	}
	d := *s.draft
	return &d
}

// Advisory returns the standing microphone advisory, or "" when the last
// capture start succeeded.
func (s *Session) Advisory() string {
	s.lock()
	defer s.unlock()
	return s.advisory
}

// Outcome returns the unacknowledged reservation outcome, or nil.
func (s *Session) Outcome() *models.ReservationOutcome {
	s.lock()
	defer s.unlock()
	if s.outcome == nil {
		return nil
	}
	o := *s.outcome
	return &o
}

func (s *Session) post(ev event) {
	select {
	case s.cmds <- ev:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.cmds:
			if ev.kind == evShutdown {
				s.shutdown()
				return
			}
			s.handleCommand(ev)
		case ev := <-s.sock.Events():
			s.handleSocket(ev)
		}
	}
}

func (s *Session) shutdown() {
	if s.rec.Active() {
		s.rec.Stop()
	}
	s.queue.Clear()
	s.sock.Disconnect()
}

func (s *Session) handleCommand(ev event) {
	switch ev.kind {
	case evConnect:
		s.handleConnect()
	case evDisconnect:
		s.handleDisconnect()
	case evStartCapture:
		// An explicit listen request re-arms the automatic loop.
		s.autoLoop = true
		s.startCapture(false)
	case evStopCapture:
		s.autoLoop = false
		if s.rec.Active() {
			s.rec.Stop()
		}
	case evAcknowledge:
		s.setOutcome(nil)
	case evCaptureDone:
		s.handleCaptureDone(ev.capture)
	case evDrained:
		s.handleDrained()
	case evGraceElapsed:
		if s.terminating {
			s.sock.Disconnect()
		}
	case evPersisted:
		s.handlePersisted(ev.outcome)
	}
}

func (s *Session) handleConnect() {
	if s.status == conn.StatusConnected || s.status == conn.StatusConnecting {
		return
	}
	s.lock()
	s.transcript = nil
	s.draft = nil
	s.outcome = nil
	s.unlock()
	s.sink.DraftUpdated(nil)
	s.sink.OutcomeRecorded(nil)
	s.autoLoop = true
	s.terminating = false

	// Dial off-loop; progress arrives as status events.
	go func() {
		if err := s.sock.Connect(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("connect failed")
		}
	}()
}

func (s *Session) handleDisconnect() {
	s.autoLoop = false
	s.terminating = false
	if s.rec.Active() {
		s.rec.Stop()
	}
	s.queue.Clear()
	s.sock.Disconnect()
	s.setState(StateIdle)
}

// startCapture opens the microphone and reports whether listening began.
// fromDrain additionally admits the speaking state, so the loop's restart
// after a drained reply lands on listening directly.
func (s *Session) startCapture(fromDrain bool) bool {
	if s.status != conn.StatusConnected || s.terminating {
		return false
	}
	switch s.state {
	case StateIdle, StateListening:
	case StateSpeaking:
		if !fromDrain {
			return false
		}
	default:
		return false
	}
	err := s.rec.Start(func(r capture.Result) {
		s.post(event{kind: evCaptureDone, capture: r})
	})
	if err != nil {
		var perm *capture.PermissionError
		if errors.As(err, &perm) {
			s.log.Warn().Str("reason", perm.Reason).Msg("microphone unavailable")
			s.setAdvisory(perm.Reason)
			s.setState(StateIdle)
			return false
		}
		if !errors.Is(err, capture.ErrTakeInProgress) {
			s.log.Error().Err(err).Msg("capture start failed")
			s.setState(StateIdle)
		}
		return false
	}
	s.setAdvisory("")
	s.setState(StateListening)
	return true
}

func (s *Session) handleCaptureDone(r capture.Result) {
	if s.terminating {
		return
	}
	if r.Segment == nil {
		s.log.Debug().Str("reason", string(r.Reason)).Msg("discarding empty take")
		if s.state == StateListening {
			s.setState(StateIdle)
		}
		return
	}
	if err := s.sock.SendAudio(r.Segment); err != nil {
		s.log.Warn().Err(err).Msg("could not send captured audio")
		s.setState(StateIdle)
		return
	}
	s.setState(StateThinking)
}

func (s *Session) handleDrained() {
	if s.terminating {
		if s.state == StateSpeaking {
			s.setState(StateIdle)
		}
		time.AfterFunc(s.cfg.GraceDelay, func() {
			s.post(event{kind: evGraceElapsed})
		})
		return
	}
	if s.autoLoop && s.status == conn.StatusConnected && s.startCapture(true) {
		return
	}
	if s.state == StateSpeaking {
		s.setState(StateIdle)
	}
}

func (s *Session) handleSocket(ev conn.Event) {
	switch ev.Kind {
	case conn.KindStatus:
		s.handleStatus(ev)
	case conn.KindText:
		s.appendTranscript(*ev.Entry)
	case conn.KindAudio:
		s.queue.Enqueue(ev.Audio)
		if s.state != StateSpeaking {
			s.setState(StateSpeaking)
		}
	case conn.KindReviewDetails:
		s.lock()
		s.draft = ev.Draft
		s.unlock()
		s.sink.DraftUpdated(ev.Draft)
	case conn.KindReservationConfirmed:
		s.handleConfirmed(ev.Draft)
	case conn.KindEndSession:
		s.beginTermination()
	}
}

func (s *Session) handleStatus(ev conn.Event) {
	prev := s.status
	s.lock()
	s.status = ev.Status
	s.unlock()
	s.sink.ConnectionStatusChanged(ev.Status)

	switch ev.Status {
	case conn.StatusConnected:
		s.startedAt = time.Now()
		metrics.DefaultMetrics.RecordSessionStart()
		s.setState(StateIdle)
	case conn.StatusDisconnected, conn.StatusError:
		if prev == conn.StatusConnected {
			metrics.DefaultMetrics.RecordSessionEnd(time.Since(s.startedAt).Seconds())
		}
		if ev.Status == conn.StatusError && ev.Err != nil {
			s.log.Warn().Err(ev.Err).Msg("transport failed")
		}
		s.autoLoop = false
		s.terminating = false
		if s.rec.Active() {
			s.rec.Stop()
		}
		s.queue.Clear()
		s.setState(StateIdle)
	}
}

func (s *Session) appendTranscript(entry models.TranscriptEntry) {
	s.lock()
	s.transcript = append(s.transcript, entry)
	s.unlock()
	s.sink.TranscriptAppended(entry)
}

// handleConfirmed runs the persistence side of the reservation handshake.
// Each confirmation message fires exactly one store call; the conversation
// winds down regardless of the call's outcome.
func (s *Session) handleConfirmed(wire *models.ReservationDraft) {
	s.beginTermination()

	draft := wire
	if draft == nil {
		s.lock()
		draft = s.draft
		s.unlock()
	}
	if draft == nil {
		s.handlePersisted(models.ReservationOutcome{
			Success:      false,
			ErrorMessage: "no reservation data to save",
		})
		return
	}

	d := *draft
	go func() {
		started := time.Now()
		outcome := models.ReservationOutcome{}
		if s.store == nil {
			outcome.ErrorMessage = "reservation store is not configured"
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
			id, err := s.store.CreateReservation(ctx, d)
			cancel()
			if err != nil {
				outcome.ErrorMessage = err.Error()
			} else {
				outcome.Success = true
				outcome.ID = id
			}
		}
		metrics.DefaultMetrics.RecordReservationAttempt(outcome.Success, time.Since(started).Seconds())
		s.post(event{kind: evPersisted, outcome: outcome})
	}()
}

// handlePersisted records the handshake's outcome. The draft is spent either
// way; it is cleared so no stale details survive the conversation.
func (s *Session) handlePersisted(outcome models.ReservationOutcome) {
	s.lock()
	hadDraft := s.draft != nil
	s.draft = nil
	s.unlock()
	if hadDraft {
		s.sink.DraftUpdated(nil)
	}
	s.setOutcome(&outcome)
	if outcome.Success {
		s.appendTranscript(models.TranscriptEntry{
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("[System]: Reservation Saved (ID: %d)", outcome.ID),
		})
		return
	}
	s.appendTranscript(models.TranscriptEntry{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("[System]: Reservation Failed (%s)", outcome.ErrorMessage),
	})
}

// beginTermination stops the listen loop and arranges for the socket to
// close once the remaining audio has played out, plus a short grace delay.
func (s *Session) beginTermination() {
	s.autoLoop = false
	if s.terminating {
		return
	}
	s.terminating = true
	if s.rec.Active() {
		s.rec.Stop()
	}
	if !s.queue.Playing() {
		time.AfterFunc(s.cfg.GraceDelay, func() {
			s.post(event{kind: evGraceElapsed})
		})
	}
}

func (s *Session) setState(state AgentState) {
	s.lock()
	if s.state == state {
		s.unlock()
		return
	}
	s.state = state
	s.unlock()
	s.sink.AgentStateChanged(state)
}

func (s *Session) setAdvisory(reason string) {
	s.lock()
	if s.advisory == reason {
		s.unlock()
		return
	}
	s.advisory = reason
	s.unlock()
	s.sink.PermissionAdvisory(reason)
}

func (s *Session) setOutcome(outcome *models.ReservationOutcome) {
	s.lock()
	s.outcome = outcome
	s.unlock()
	s.sink.OutcomeRecorded(outcome)
}

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/engine/capture"
	"voice-reservation-assistant/internal/engine/conn"
	"voice-reservation-assistant/internal/engine/playback"
	"voice-reservation-assistant/internal/models"
)

type fakeSocket struct {
	events chan conn.Event

	mu          sync.Mutex
	connected   bool
	dialErr     error
	sent        [][]byte
	disconnects int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{events: make(chan conn.Event, 64)}
}

func (f *fakeSocket) Connect(ctx context.Context) error {
	f.events <- conn.Event{Kind: conn.KindStatus, Status: conn.StatusConnecting}
	if f.dialErr != nil {
		f.events <- conn.Event{Kind: conn.KindStatus, Status: conn.StatusError, Err: f.dialErr}
		return f.dialErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.events <- conn.Event{Kind: conn.KindStatus, Status: conn.StatusConnected}
	return nil
}

func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return
	}
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	f.events <- conn.Event{Kind: conn.KindStatus, Status: conn.StatusDisconnected}
}

func (f *fakeSocket) SendAudio(segment []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return conn.ErrNotConnected
	}
	f.sent = append(f.sent, segment)
	return nil
}

func (f *fakeSocket) Events() <-chan conn.Event { return f.events }

func (f *fakeSocket) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRecorder struct {
	mu       sync.Mutex
	deliver  func(capture.Result)
	startErr error
	starts   int
}

func (f *fakeRecorder) Start(deliver func(capture.Result)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.deliver != nil {
		return capture.ErrTakeInProgress
	}
	f.starts++
	f.deliver = deliver
	return nil
}

func (f *fakeRecorder) Stop() {
	f.finish(capture.Result{Reason: capture.FinishManualStop})
}

func (f *fakeRecorder) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliver != nil
}

// finish ends the running take with a scripted result.
func (f *fakeRecorder) finish(r capture.Result) {
	f.mu.Lock()
	d := f.deliver
	f.deliver = nil
	f.mu.Unlock()
	if d != nil {
		d(r)
	}
}

func (f *fakeRecorder) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type instantPlayer struct{}

func (instantPlayer) Play(ctx context.Context, segment []byte) error { return nil }

type slowPlayer struct{ d time.Duration }

func (p slowPlayer) Play(ctx context.Context, segment []byte) error {
	select {
	case <-time.After(p.d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeStore struct {
	mu    sync.Mutex
	calls []models.ReservationDraft
	id    int64
	err   error
}

func (f *fakeStore) CreateReservation(ctx context.Context, draft models.ReservationDraft) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, draft)
	return f.id, f.err
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordSink struct {
	states     chan AgentState
	statuses   chan conn.Status
	entries    chan models.TranscriptEntry
	drafts     chan *models.ReservationDraft
	outcomes   chan *models.ReservationOutcome
	advisories chan string
}

func newRecordSink() *recordSink {
	return &recordSink{
		states:     make(chan AgentState, 64),
		statuses:   make(chan conn.Status, 64),
		entries:    make(chan models.TranscriptEntry, 64),
		drafts:     make(chan *models.ReservationDraft, 64),
		outcomes:   make(chan *models.ReservationOutcome, 64),
		advisories: make(chan string, 64),
	}
}

func (r *recordSink) ConnectionStatusChanged(s conn.Status)        { r.statuses <- s }
func (r *recordSink) AgentStateChanged(s AgentState)               { r.states <- s }
func (r *recordSink) TranscriptAppended(e models.TranscriptEntry)  { r.entries <- e }
func (r *recordSink) DraftUpdated(d *models.ReservationDraft)      { r.drafts <- d }
func (r *recordSink) OutcomeRecorded(o *models.ReservationOutcome) { r.outcomes <- o }
func (r *recordSink) PermissionAdvisory(reason string)             { r.advisories <- reason }

func awaitState(t *testing.T, sink *recordSink, want AgentState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-sink.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("never reached state %s", want)
		}
	}
}

func awaitStatus(t *testing.T, sink *recordSink, want conn.Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-sink.statuses:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("never reached status %s", want)
		}
	}
}

func awaitEntry(t *testing.T, sink *recordSink, substr string) models.TranscriptEntry {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-sink.entries:
			if strings.Contains(e.Content, substr) {
				return e
			}
		case <-deadline:
			t.Fatalf("no transcript entry containing %q", substr)
		}
	}
}

func awaitOutcome(t *testing.T, sink *recordSink) *models.ReservationOutcome {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case o := <-sink.outcomes:
			if o != nil {
				return o
			}
		case <-deadline:
			t.Fatal("no reservation outcome recorded")
		}
	}
}

type harness struct {
	sess  *Session
	sock  *fakeSocket
	rec   *fakeRecorder
	store *fakeStore
	sink  *recordSink
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithPlayer(t, instantPlayer{})
}

func newHarnessWithPlayer(t *testing.T, player playback.Player) *harness {
	t.Helper()
	h := &harness{
		sock:  newFakeSocket(),
		rec:   &fakeRecorder{},
		store: &fakeStore{id: 7},
		sink:  newRecordSink(),
	}
	cfg := Config{GraceDelay: 20 * time.Millisecond, PersistTimeout: time.Second}
	h.sess = New(cfg, h.sock, h.rec, player, h.store, h.sink, zerolog.Nop())
	t.Cleanup(h.sess.Close)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.sess.Connect()
	awaitStatus(t, h.sink, conn.StatusConnected)
}

func TestSession_ConnectMovesToIdle(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	if got := h.sess.ConnectionStatus(); got != conn.StatusConnected {
		t.Fatalf("status = %s", got)
	}
	if got := h.sess.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
}

func TestSession_GreetingThenAutoListen(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindText, Entry: &models.TranscriptEntry{Role: models.RoleAssistant, Content: "Welcome to Gourmet Bistro"}}
	h.sock.events <- conn.Event{Kind: conn.KindAudio, Audio: []byte{1, 2, 3}}

	awaitEntry(t, h.sink, "Welcome")
	awaitState(t, h.sink, StateSpeaking)
	// Once the greeting drains, the loop opens the microphone on its own.
	awaitState(t, h.sink, StateListening)
	if h.rec.startCount() != 1 {
		t.Fatalf("capture starts = %d, want 1", h.rec.startCount())
	}
}

func TestSession_CaptureResultIsSentAndStateBecomesThinking(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.sess.StartCapture()
	awaitState(t, h.sink, StateListening)

	h.rec.finish(capture.Result{Segment: []byte("RIFFdata"), Reason: capture.FinishEndOfTurn})
	awaitState(t, h.sink, StateThinking)
	if h.sock.sentCount() != 1 {
		t.Fatalf("sent %d segments, want 1", h.sock.sentCount())
	}
}

func TestSession_EmptyTakeIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.sess.StartCapture()
	awaitState(t, h.sink, StateListening)

	h.rec.finish(capture.Result{Segment: nil, Reason: capture.FinishManualStop})
	awaitState(t, h.sink, StateIdle)
	if h.sock.sentCount() != 0 {
		t.Fatal("empty take must not be sent")
	}
}

func TestSession_PermissionAdvisoryLeavesSessionUsable(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.rec.startErr = &capture.PermissionError{Reason: "mic denied"}

	h.sess.StartCapture()
	select {
	case reason := <-h.sink.advisories:
		if reason != "mic denied" {
			t.Fatalf("advisory = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no permission advisory")
	}
	if got := h.sess.ConnectionStatus(); got != conn.StatusConnected {
		t.Fatal("permission failure must not drop the connection")
	}
}

func TestSession_ReviewDetailsUpdatesDraft(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindReviewDetails, Draft: &models.ReservationDraft{Name: "Dana", PartySize: 4}}
	select {
	case d := <-h.sink.drafts:
		if d == nil || d.Name != "Dana" {
			t.Fatalf("draft = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("draft never surfaced")
	}
	if got := h.sess.Draft(); got == nil || got.PartySize != 4 {
		t.Fatalf("snapshot draft = %+v", got)
	}
}

func TestSession_ConfirmationPersistsOnceAndHangsUp(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	draft := &models.ReservationDraft{Name: "Dana", Phone: "5550100", Date: "24-12-2026", Time: "19:00", PartySize: 4}
	h.sock.events <- conn.Event{Kind: conn.KindReviewDetails, Draft: draft}
	h.sock.events <- conn.Event{Kind: conn.KindReservationConfirmed}

	outcome := awaitOutcome(t, h.sink)
	if !outcome.Success || outcome.ID != 7 {
		t.Fatalf("outcome = %+v", outcome)
	}
	awaitEntry(t, h.sink, "Reservation Saved (ID: 7)")
	awaitStatus(t, h.sink, conn.StatusDisconnected)
	if h.store.callCount() != 1 {
		t.Fatalf("store calls = %d, want exactly 1", h.store.callCount())
	}
}

func TestSession_ConfirmationClearsDraft(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindReviewDetails, Draft: &models.ReservationDraft{Name: "Dana", Date: "24-12-2026"}}
	h.sock.events <- conn.Event{Kind: conn.KindReservationConfirmed}

	awaitOutcome(t, h.sink)
	if got := h.sess.Draft(); got != nil {
		t.Fatalf("draft survived the handshake: %+v", got)
	}
	awaitStatus(t, h.sink, conn.StatusDisconnected)
	if got := h.sess.Draft(); got != nil {
		t.Fatalf("draft reappeared after hangup: %+v", got)
	}
}

func TestSession_ConfirmationPrefersWireDraft(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindReviewDetails, Draft: &models.ReservationDraft{Name: "Old"}}
	h.sock.events <- conn.Event{Kind: conn.KindReservationConfirmed, Draft: &models.ReservationDraft{Name: "New"}}

	awaitOutcome(t, h.sink)
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.calls) != 1 || h.store.calls[0].Name != "New" {
		t.Fatalf("store calls = %+v", h.store.calls)
	}
}

func TestSession_ConfirmationWithoutDraftFailsWithoutStoreCall(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindReservationConfirmed}

	outcome := awaitOutcome(t, h.sink)
	if outcome.Success || !strings.Contains(outcome.ErrorMessage, "no reservation data") {
		t.Fatalf("outcome = %+v", outcome)
	}
	if h.store.callCount() != 0 {
		t.Fatal("store must not be called without a draft")
	}
	awaitStatus(t, h.sink, conn.StatusDisconnected)
}

func TestSession_StoreFailureStillEndsConversation(t *testing.T) {
	h := newHarness(t)
	h.store.err = errors.New("db down")
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindReservationConfirmed, Draft: &models.ReservationDraft{Name: "Dana"}}

	outcome := awaitOutcome(t, h.sink)
	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if h.sess.Draft() != nil {
		t.Fatal("draft must be cleared on a failed handshake too")
	}
	awaitEntry(t, h.sink, "Reservation Failed")
	awaitStatus(t, h.sink, conn.StatusDisconnected)
}

func TestSession_EndSessionDrainsThenDisconnects(t *testing.T) {
	// A slow player keeps the farewell audio in flight while end_session is
	// processed, mirroring the real ordering on the wire.
	h := newHarnessWithPlayer(t, slowPlayer{d: 50 * time.Millisecond})
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindAudio, Audio: []byte("goodbye")}
	h.sock.events <- conn.Event{Kind: conn.KindEndSession}

	awaitStatus(t, h.sink, conn.StatusDisconnected)
	if h.rec.startCount() != 0 {
		t.Fatal("no capture may start during termination")
	}
}

func TestSession_ManualStopDisablesAutoListen(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.sess.StartCapture()
	awaitState(t, h.sink, StateListening)

	// The fake delivers an empty take on stop, so the session returns to idle.
	h.sess.StopCapture()
	awaitState(t, h.sink, StateIdle)

	// Assistant audio drains, but the listen loop stays off after a manual stop.
	h.sock.events <- conn.Event{Kind: conn.KindAudio, Audio: []byte("reply")}
	awaitState(t, h.sink, StateSpeaking)
	awaitState(t, h.sink, StateIdle)
	time.Sleep(50 * time.Millisecond)
	if got := h.rec.startCount(); got != 1 {
		t.Fatalf("capture restarted after manual stop: starts = %d", got)
	}
}

func TestSession_RestartAfterManualStopReenablesAutoListen(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.sess.StartCapture()
	awaitState(t, h.sink, StateListening)
	h.sess.StopCapture()
	awaitState(t, h.sink, StateIdle)

	// A fresh explicit start re-arms the automatic loop.
	h.sess.StartCapture()
	awaitState(t, h.sink, StateListening)
	h.rec.finish(capture.Result{Segment: []byte("RIFFdata"), Reason: capture.FinishEndOfTurn})
	awaitState(t, h.sink, StateThinking)

	h.sock.events <- conn.Event{Kind: conn.KindAudio, Audio: []byte("reply")}
	awaitState(t, h.sink, StateSpeaking)

	// The drained reply hands the turn back as listening, with no idle detour.
	select {
	case st := <-h.sink.states:
		if st != StateListening {
			t.Fatalf("state after speaking = %s, want listening", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listen loop did not restart")
	}
	if got := h.rec.startCount(); got != 3 {
		t.Fatalf("capture starts = %d, want 3", got)
	}
}

func TestSession_AdvisoryClearsOnNextCaptureStart(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.rec.startErr = &capture.PermissionError{Reason: "mic denied"}

	h.sess.StartCapture()
	select {
	case reason := <-h.sink.advisories:
		if reason != "mic denied" {
			t.Fatalf("advisory = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no permission advisory")
	}
	if got := h.sess.Advisory(); got != "mic denied" {
		t.Fatalf("standing advisory = %q", got)
	}

	h.rec.startErr = nil
	h.sess.StartCapture()
	awaitState(t, h.sink, StateListening)
	select {
	case reason := <-h.sink.advisories:
		if reason != "" {
			t.Fatalf("advisory = %q, want cleared", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("advisory never cleared")
	}
	if got := h.sess.Advisory(); got != "" {
		t.Fatalf("standing advisory = %q, want empty", got)
	}
}

func TestSession_TransportErrorIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.sess.StartCapture()
	awaitState(t, h.sink, StateListening)

	h.sock.events <- conn.Event{Kind: conn.KindStatus, Status: conn.StatusError, Err: errors.New("peer vanished")}

	awaitStatus(t, h.sink, conn.StatusError)
	awaitState(t, h.sink, StateIdle)
	if h.rec.Active() {
		t.Fatal("capture must be released on transport error")
	}
}

func TestSession_ReconnectClearsConversationState(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindText, Entry: &models.TranscriptEntry{Role: models.RoleUser, Content: "book a table"}}
	h.sock.events <- conn.Event{Kind: conn.KindReviewDetails, Draft: &models.ReservationDraft{Name: "Dana"}}
	awaitEntry(t, h.sink, "book a table")

	h.sess.Disconnect()
	awaitStatus(t, h.sink, conn.StatusDisconnected)
	h.connect(t)

	if got := h.sess.Transcript(); len(got) != 0 {
		t.Fatalf("transcript not cleared: %+v", got)
	}
	if h.sess.Draft() != nil {
		t.Fatal("draft not cleared")
	}
}

func TestSession_AcknowledgeClearsOutcome(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.sock.events <- conn.Event{Kind: conn.KindReservationConfirmed, Draft: &models.ReservationDraft{Name: "Dana"}}
	awaitOutcome(t, h.sink)

	h.sess.AcknowledgeOutcome()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case o := <-h.sink.outcomes:
			if o == nil {
				if h.sess.Outcome() != nil {
					t.Fatal("snapshot outcome not cleared")
				}
				return
			}
		case <-deadline:
			t.Fatal("outcome never cleared")
		}
	}
}

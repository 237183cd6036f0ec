// Package playback plays audio segments strictly in arrival order, one at a
// time, and reports when the queue runs dry.
package playback

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/observability/metrics"
)

// Player renders one audio segment and blocks until it has finished or the
// context is cancelled. Implementations run off the caller's goroutine.
type Player interface {
	Play(ctx context.Context, segment []byte) error
}

// Queue serializes playback of enqueued segments. Segments never overlap and
// never play out of order; a failed segment is logged and the queue advances.
// The drained callback fires every time the queue transitions from playing to
// empty, including when the last segment failed.
type Queue struct {
	player  Player
	log     zerolog.Logger
	drained func()

	mu      sync.Mutex
	pending [][]byte
	playing bool
	cancel  context.CancelFunc
	cleared bool
}

// NewQueue creates an idle queue. drained may be nil.
func NewQueue(player Player, log zerolog.Logger, drained func()) *Queue {
	return &Queue{player: player, log: log, drained: drained}
}

// Enqueue appends a segment and starts the playback loop if it is not
// already running. Empty segments are ignored.
func (q *Queue) Enqueue(segment []byte) {
	if len(segment) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, segment)
	metrics.DefaultMetrics.SetPlaybackQueueDepth(len(q.pending))
	if q.playing {
		q.mu.Unlock()
		return
	}
	q.playing = true
	q.mu.Unlock()

	go q.run()
}

// Playing reports whether a segment is currently being rendered.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Clear drops all pending segments and cancels the in-flight one. No drained
// signal is emitted for a cleared queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	metrics.DefaultMetrics.SetPlaybackQueueDepth(0)
	if q.playing {
		q.cleared = true
	}
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.playing = false
			cleared := q.cleared
			q.cleared = false
			q.mu.Unlock()
			if !cleared && q.drained != nil {
				q.drained()
			}
			return
		}
		segment := q.pending[0]
		q.pending = q.pending[1:]
		metrics.DefaultMetrics.SetPlaybackQueueDepth(len(q.pending))
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.mu.Unlock()

		err := q.player.Play(ctx, segment)
		interrupted := ctx.Err() != nil
		cancel()

		q.mu.Lock()
		q.cancel = nil
		q.mu.Unlock()

		if !interrupted {
			metrics.DefaultMetrics.RecordPlaybackSegment(err)
			if err != nil {
				q.log.Warn().Err(err).Int("bytes", len(segment)).Msg("playback segment failed, advancing")
			}
		}
	}
}

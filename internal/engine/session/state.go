package session

// AgentState is the caller-visible conversation phase.
type AgentState int

const (
	// StateIdle means no capture or playback is in progress.
	StateIdle AgentState = iota
	// StateListening means the microphone is open and a take is running.
	StateListening
	// StateThinking means a segment was sent and the reply is pending.
	StateThinking
	// StateSpeaking means assistant audio is playing.
	StateSpeaking
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

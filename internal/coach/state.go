package coach

// State is the lifecycle position of a voice session.
type State int

const (
	// StateIdle is the state before the overlay is shown.
	StateIdle State = iota

	// StateConnecting covers the microphone request and the service handshake.
	StateConnecting

	// StateOpen means the service acknowledged the session and audio flows.
	StateOpen

	// StateClosed is terminal: the session ended normally.
	StateClosed

	// StateErrored is terminal: the session ended because of a failure.
	StateErrored
)

// String returns the lowercase name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Closed or Errored.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Status strings shown to the user.
const (
	StatusInitializing     = "Initializing…"
	StatusConnecting       = "Connecting…"
	StatusConnected        = "Connected"
	StatusGenerating       = "Generating Exercises…"
	StatusDisconnected     = "Disconnected"
	StatusError            = "Error"
	StatusPermissionDenied = "Mic permission denied"
	StatusConnectionFailed = "Connection failed"
	placeholderCaption     = "I'm with you."
)

// View is a point-in-time copy of everything the overlay renders.
type View struct {
	SessionID string
	State     State
	Status    string

	// UserTranscript and AITranscript accumulate partial transcripts until
	// the service reports the turn complete.
	UserTranscript string
	AITranscript   string

	// AISpeaking is true while any playback buffer is scheduled and unfinished.
	AISpeaking bool

	// UserSpeaking is true while user transcript text arrives within a turn.
	UserSpeaking bool

	Muted bool
}

// Caption returns the text for the transcript area: the user's words while
// they speak, the AI's words while it speaks, and a placeholder otherwise.
func (v View) Caption() string {
	switch {
	case v.UserSpeaking && v.UserTranscript != "":
		return v.UserTranscript
	case v.AISpeaking && v.AITranscript != "":
		return v.AITranscript
	default:
		return placeholderCaption
	}
}

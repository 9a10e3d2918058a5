package s2s

import "fmt"

// Event is one inbound message from the voice service. The concrete type is
// one of [InputTranscript], [OutputTranscript], [AudioChunk], [TurnComplete],
// [Interrupted], [ToolCall] or [ServiceError].
type Event interface {
	// Kind returns a short name for logging and metrics.
	Kind() string

	event()
}

// InputTranscript is a partial transcript of the user's speech.
type InputTranscript struct {
	Text string
}

// OutputTranscript is a partial transcript of the model's speech.
type OutputTranscript struct {
	Text string
}

// AudioChunk carries synthesised speech as interleaved little-endian 16-bit
// PCM.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// TurnComplete signals that the model finished its conversational turn.
type TurnComplete struct{}

// Interrupted signals that the model stopped speaking because the user
// started talking over it.
type Interrupted struct{}

// FunctionCall is a single function invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCall carries one or more function calls from the same message.
type ToolCall struct {
	Calls []FunctionCall
}

// ServiceError is an error reported in-band by the service.
type ServiceError struct {
	Code    int
	Status  string
	Message string
}

func (e ServiceError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("service error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

func (InputTranscript) Kind() string  { return "input_transcript" }
func (OutputTranscript) Kind() string { return "output_transcript" }
func (AudioChunk) Kind() string       { return "audio_chunk" }
func (TurnComplete) Kind() string     { return "turn_complete" }
func (Interrupted) Kind() string      { return "interrupted" }
func (ToolCall) Kind() string         { return "tool_call" }
func (ServiceError) Kind() string     { return "error" }

func (InputTranscript) event()  {}
func (OutputTranscript) event() {}
func (AudioChunk) event()       {}
func (TurnComplete) event()     {}
func (Interrupted) event()      {}
func (ToolCall) event()         {}
func (ServiceError) event()     {}

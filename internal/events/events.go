// Package events defines the transcription event stream shared by every
// pipeline stage and the fan-out bus that distributes it.
package events

import "time"

// Type discriminates the event union
type Type string

const (
	// TypeStreamingResult is a recognized fragment, possibly still subject
	// to replacement by a later, more confident result
	TypeStreamingResult Type = "streaming_result"

	// TypeFinalResult is a fragment confident enough to be treated as settled
	TypeFinalResult Type = "final_result"

	// TypeSessionComplete carries the whole session's text on stop
	TypeSessionComplete Type = "session_complete"

	// TypeRecognitionError reports a backend failure; the session continues
	TypeRecognitionError Type = "recognition_error"

	// TypeRecordingState reports session start/stop transitions
	TypeRecordingState Type = "recording_state_changed"

	// TypeDeliveryFailure reports a sink failure; the deliver loop continues
	TypeDeliveryFailure Type = "delivery_failure"
)

// Event is one entry in the transcription stream. Immutable once constructed;
// consumed by any number of subscribers. Only the fields relevant to the Type
// are populated.
type Event struct {
	Type Type `json:"type"`

	// StreamingResult / FinalResult
	Text       string  `json:"text,omitempty"`
	IsPartial  bool    `json:"is_partial,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// SessionComplete
	FullText string `json:"full_text,omitempty"`

	// RecognitionError
	Message string `json:"message,omitempty"`

	// RecordingState
	Active bool `json:"active,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewStreamingResult builds a streaming result event
func NewStreamingResult(text string, isPartial bool, confidence float64) Event {
	return Event{
		Type:       TypeStreamingResult,
		Text:       text,
		IsPartial:  isPartial,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}
}

// NewFinalResult builds a final result event
func NewFinalResult(text string) Event {
	return Event{
		Type:      TypeFinalResult,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewSessionComplete builds a session completion event carrying the full text
func NewSessionComplete(fullText string) Event {
	return Event{
		Type:      TypeSessionComplete,
		FullText:  fullText,
		Timestamp: time.Now(),
	}
}

// NewRecognitionError builds a recognition error event
func NewRecognitionError(message string) Event {
	return Event{
		Type:      TypeRecognitionError,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDeliveryFailure builds a delivery failure event
func NewDeliveryFailure(message string) Event {
	return Event{
		Type:      TypeDeliveryFailure,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewRecordingState builds a recording state transition event
func NewRecordingState(active bool) Event {
	return Event{
		Type:      TypeRecordingState,
		Active:    active,
		Timestamp: time.Now(),
	}
}

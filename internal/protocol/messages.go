package protocol

import "time"

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	FirstWord  bool      `json:"first_word,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

const (
	SubjectTranscriptPrefix  = "stt.text"
	SubjectTranscriptPartial = SubjectTranscriptPrefix + ".partial"
	SubjectTranscriptFinal   = SubjectTranscriptPrefix + ".final"
)

package protocol

import "time"

// Progress is the once-per-second heartbeat emitted while a session records.
type Progress struct {
	SessionID      string    `json:"session_id"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}

// TranscriptEvent carries recognizer output for live-caption display.
// Interim events replace the previous hypothesis; final events are stable.
type TranscriptEvent struct {
	SessionID    string    `json:"session_id"`
	Text         string    `json:"text"`
	Final        bool      `json:"final"`
	Confidence   float64   `json:"confidence,omitempty"`
	LanguageCode string    `json:"language_code,omitempty"`
	LanguageName string    `json:"language_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Artifact is the finished voice memo handed to the persistence collaborator.
// The audio payload travels inline; MediaType is whatever the encoder
// negotiated so storage can label it correctly.
type Artifact struct {
	MemoID             string `json:"memo_id"`
	SessionID          string `json:"session_id"`
	Audio              []byte `json:"audio"`
	MediaType          string `json:"media_type"`
	DurationSeconds    int    `json:"duration_seconds"`
	Transcript         string `json:"transcript,omitempty"`
	LanguageCode       string `json:"language_code,omitempty"`
	LanguageName       string `json:"language_name,omitempty"`
	EnglishTranslation string `json:"english_translation,omitempty"`
}

// Outcome is the terminal message for a session: exactly one of Artifact or
// ErrorKind is set.
type Outcome struct {
	SessionID string    `json:"session_id"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PermissionStatus reflects the user-visible microphone permission state.
// Only capture acquire outcomes may move it.
type PermissionStatus struct {
	State     string    `json:"state"` // prompt | granted | denied | unknown
	Timestamp time.Time `json:"timestamp"`
}

// Control is the record-toggle command from the UI boundary.
type Control struct {
	Action    string    `json:"action"` // start | stop | abort
	Timestamp time.Time `json:"timestamp"`
}

// MemoStored announces that the persistence collaborator wrote a memo.
type MemoStored struct {
	MemoID          string    `json:"memo_id"`
	SessionID       string    `json:"session_id"`
	MediaType       string    `json:"media_type"`
	DurationSeconds int       `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectSessionControl    = "memo.session.control"
	SubjectSessionProgress   = "memo.session.progress"
	SubjectTranscriptPartial = "memo.transcript.partial"
	SubjectTranscriptFinal   = "memo.transcript.final"
	SubjectSessionOutcome    = "memo.session.outcome"
	SubjectPermissionStatus  = "memo.permission.status"
	SubjectMemoStored        = "memo.stored"
)

const (
	ControlStart = "start"
	ControlStop  = "stop"
	ControlAbort = "abort"
)

const (
	PermissionUnknown = "unknown"
	PermissionPrompt  = "prompt"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

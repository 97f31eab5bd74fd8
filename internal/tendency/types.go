// Package tendency turns stored per-session note statistics into per-note,
// per-instrument pitch tendencies.
package tendency

// SessionPayload is a completed tuning session as submitted by a client.
// Pointer fields distinguish an omitted value from an explicit zero.
type SessionPayload struct {
	SessionID    string        `json:"session_id" validate:"required"`
	Instrument   string        `json:"instrument"`
	InstrumentID *int64        `json:"instrument_id" validate:"required"`
	Notes        []NotePayload `json:"note_strings" validate:"required,dive"`
}

// NotePayload is one note's statistics within a submitted session.
type NotePayload struct {
	NoteString string   `json:"note_string" validate:"required"`
	MeanCents  *float64 `json:"mean_cents" validate:"required"`
	Count      *int64   `json:"count" validate:"required,gte=0"`
}

// Ack acknowledges a stored session.
type Ack struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Summary is the tendency of one note on one instrument.
type Summary struct {
	NoteString   string  `json:"note_string"`
	InstrumentID int64   `json:"instrument_id"`
	MeanCents    float64 `json:"mean_cents"`
	TotalSamples int64   `json:"total_samples"`
}

// Instrument describes an instrument that has stored sessions.
type Instrument struct {
	InstrumentID int64  `json:"instrument_id"`
	Instrument   string `json:"instrument"`
	Sessions     int    `json:"sessions"`
}

// Submitted is delivered to listeners after a session is stored.
type Submitted struct {
	SessionID    string
	InstrumentID int64
	Notes        int
}

// Ptr returns a pointer to v. Convenience for building payloads.
func Ptr[T any](v T) *T { return &v }

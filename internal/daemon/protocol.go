// Package daemon provides the server, client and protocol types for talking to
// pitchtend over a Unix socket using NDJSON.
package daemon

import "github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"

// Command names.
const (
	CmdSubmit      = "submit"
	CmdTendencies  = "tendencies"
	CmdInstruments = "instruments"
	CmdDelete      = "delete"
	CmdSubscribe   = "subscribe"
	CmdStatus      = "status"
)

// Error codes carried in Response.Code.
const (
	CodeBadRequest = "bad_request"
	CodeValidation = "validation"
	CodeConflict   = "conflict"
	CodeNotFound   = "not_found"
	CodeStore      = "store"
)

// EventSession is streamed to subscribers after a session is stored.
const EventSession = "session"

// Command is sent from a client to the daemon.
type Command struct {
	Cmd          string                   `json:"cmd"`
	Session      *tendency.SessionPayload `json:"session,omitempty"`
	InstrumentID *int64                   `json:"instrumentId,omitempty"`
	SessionID    string                   `json:"sessionId,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK          bool                  `json:"ok"`
	SessionID   string                `json:"sessionId,omitempty"`
	Tendencies  []tendency.Summary    `json:"tendencies,omitempty"`
	Instruments []tendency.Instrument `json:"instruments,omitempty"`
	Status      string                `json:"status,omitempty"`
	Error       string                `json:"error,omitempty"`
	Code        string                `json:"code,omitempty"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event        string `json:"event"`
	SessionID    string `json:"sessionId,omitempty"`
	InstrumentID *int64 `json:"instrumentId,omitempty"`
	Notes        *int   `json:"notes,omitempty"`
}

// Int64Ptr returns a pointer to an int64 value. Convenience for building commands.
func Int64Ptr(v int64) *int64 { return &v }

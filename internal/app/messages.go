package app

import (
	"github.com/muffinbran/pitch-tendency-analyzer/internal/daemon"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
)

// DaemonConnectedMsg is sent when both daemon connections are established.
type DaemonConnectedMsg struct {
	Client   *daemon.Client // for commands (tendencies, instruments)
	EvClient *daemon.Client // for event subscription
}

// DaemonConnectErrorMsg is sent when the daemon connection fails.
type DaemonConnectErrorMsg struct {
	Err error
}

// DaemonEventMsg wraps a streamed event from the daemon.
type DaemonEventMsg struct {
	Event daemon.Event
}

// DaemonEventErrorMsg is sent when the event stream or command connection
// breaks.
type DaemonEventErrorMsg struct {
	Err error
}

// InstrumentsLoadedMsg carries the response to an instruments command.
type InstrumentsLoadedMsg struct {
	Instruments []tendency.Instrument
	Err         error
}

// TendenciesLoadedMsg carries the response to a tendencies command.
// InstrumentID is the filter the request was made with.
type TendenciesLoadedMsg struct {
	InstrumentID *int64
	Rows         []tendency.Summary
	Err          error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}

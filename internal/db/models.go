// Package db provides SQLite persistence for tuning sessions and their
// per-note pitch samples.
package db

import "time"

// Session represents one completed tuning run on one physical instrument.
type Session struct {
	ID           string
	InstrumentID int64
	Instrument   string
	CreatedAt    time.Time
}

// NoteSample is one note's aggregated statistics within a single session.
// MeanCents is already a mean over Count raw observations.
type NoteSample struct {
	ID         int64
	SessionID  string
	NoteString string
	MeanCents  float64
	Count      int64
}

// NoteRecord is a NoteSample joined with its parent session's instrument.
type NoteRecord struct {
	SessionID    string
	InstrumentID int64
	NoteString   string
	MeanCents    float64
	Count        int64
}

// Instrument summarises the sessions recorded for one instrument id.
type Instrument struct {
	ID       int64
	Name     string
	Sessions int
}

// InstrumentFilter selects either every instrument or exactly one.
// The zero value matches every instrument.
type InstrumentFilter struct {
	id  int64
	set bool
}

// AllInstruments returns a filter that matches every instrument.
func AllInstruments() InstrumentFilter { return InstrumentFilter{} }

// ForInstrument returns a filter that matches only the given instrument id.
func ForInstrument(id int64) InstrumentFilter { return InstrumentFilter{id: id, set: true} }

// ID returns the filtered instrument id and whether a filter is set.
func (f InstrumentFilter) ID() (int64, bool) { return f.id, f.set }

// Matches reports whether an instrument id passes the filter.
func (f InstrumentFilter) Matches(instrumentID int64) bool {
	return !f.set || f.id == instrumentID
}

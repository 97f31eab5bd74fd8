package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

// openTestStore opens a store backed by a fresh database file in a temp dir.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSubmitStoresAllNotes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := Session{ID: "sess-1", InstrumentID: 7, Instrument: "Violin"}
	notes := []NoteSample{
		{NoteString: "A4", MeanCents: 3.5, Count: 12},
		{NoteString: "E5", MeanCents: -8.25, Count: 4},
		{NoteString: "D4", MeanCents: 0, Count: 9},
	}

	if err := store.Submit(ctx, sess, notes); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := store.NotesForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("NotesForSession: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d notes, want 3", len(got))
	}
	for i, n := range got {
		if n.SessionID != "sess-1" {
			t.Errorf("notes[%d].SessionID = %q, want %q", i, n.SessionID, "sess-1")
		}
		if n.NoteString != notes[i].NoteString {
			t.Errorf("notes[%d].NoteString = %q, want %q", i, n.NoteString, notes[i].NoteString)
		}
		if n.MeanCents != notes[i].MeanCents || n.Count != notes[i].Count {
			t.Errorf("notes[%d] = %+v, want cents=%v count=%d", i, n, notes[i].MeanCents, notes[i].Count)
		}
	}

	stored, err := store.Session(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if stored == nil {
		t.Fatal("expected session, got nil")
	}
	if stored.InstrumentID != 7 || stored.Instrument != "Violin" {
		t.Errorf("session = %+v", stored)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestSubmitEmptyNoteList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Submit(ctx, Session{ID: "empty", InstrumentID: 1, Instrument: "Cello"}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sess, err := store.Session(ctx, "empty")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess == nil {
		t.Fatal("session with no notes should still be stored")
	}

	records, err := store.NoteRecords(ctx, AllInstruments())
	if err != nil {
		t.Fatalf("NoteRecords: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestSubmitKeepsDuplicateNoteStrings(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	notes := []NoteSample{
		{NoteString: "A4", MeanCents: 10, Count: 2},
		{NoteString: "A4", MeanCents: 20, Count: 1},
	}
	if err := store.Submit(ctx, Session{ID: "dup-notes", InstrumentID: 1, Instrument: "Flute"}, notes); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := store.NotesForSession(ctx, "dup-notes")
	if err != nil {
		t.Fatalf("NotesForSession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d notes, want 2", len(got))
	}
	if got[0].ID == got[1].ID {
		t.Error("duplicate note strings should get distinct row ids")
	}
}

func TestSubmitDuplicateSessionRejected(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess := Session{ID: "sess-1", InstrumentID: 1, Instrument: "Violin"}
	if err := store.Submit(ctx, sess, []NoteSample{{NoteString: "A4", MeanCents: 1, Count: 1}}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	err := store.Submit(ctx, sess, []NoteSample{{NoteString: "A4", MeanCents: 99, Count: 50}})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("second Submit error = %v, want ErrDuplicateSession", err)
	}

	notes, err := store.NotesForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("NotesForSession: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("got %d notes after duplicate submit, want 1", len(notes))
	}
	if notes[0].MeanCents != 1 {
		t.Errorf("original note overwritten: %+v", notes[0])
	}
}

func TestSubmitConcurrentDuplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Submit(ctx,
				Session{ID: "race", InstrumentID: 3, Instrument: "Oboe"},
				[]NoteSample{{NoteString: "C4", MeanCents: 2, Count: 5}})
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateSession):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != workers-1 {
		t.Errorf("ok=%d dup=%d, want ok=1 dup=%d", ok, dup, workers-1)
	}

	notes, err := store.NotesForSession(ctx, "race")
	if err != nil {
		t.Fatalf("NotesForSession: %v", err)
	}
	if len(notes) != 1 {
		t.Errorf("got %d notes, want 1", len(notes))
	}
}

func TestSubmitIsAtomic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Abort any note insert named FAIL, after the session row is written.
	if _, err := store.db.Exec(`
		CREATE TRIGGER fail_note BEFORE INSERT ON note_samples
		WHEN NEW.note_string = 'FAIL'
		BEGIN
			SELECT RAISE(ABORT, 'injected failure');
		END;
	`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	notes := []NoteSample{
		{NoteString: "A4", MeanCents: 1, Count: 1},
		{NoteString: "FAIL", MeanCents: 2, Count: 1},
	}
	if err := store.Submit(ctx, Session{ID: "partial", InstrumentID: 1, Instrument: "Violin"}, notes); err == nil {
		t.Fatal("expected Submit to fail")
	}

	sess, err := store.Session(ctx, "partial")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess != nil {
		t.Error("session row should have been rolled back")
	}

	got, err := store.NotesForSession(ctx, "partial")
	if err != nil {
		t.Fatalf("NotesForSession: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d notes, want 0", len(got))
	}

	// The id is free again after the rollback.
	if err := store.Submit(ctx, Session{ID: "partial", InstrumentID: 1, Instrument: "Violin"}, notes[:1]); err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
}

func TestSubmitRejectsNegativeCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Submit(ctx, Session{ID: "neg", InstrumentID: 1, Instrument: "Violin"},
		[]NoteSample{{NoteString: "A4", MeanCents: 1, Count: -1}})
	if err == nil {
		t.Fatal("expected check constraint failure")
	}
	if errors.Is(err, ErrDuplicateSession) {
		t.Error("check failure should not be reported as duplicate")
	}

	sess, _ := store.Session(ctx, "neg")
	if sess != nil {
		t.Error("session should not be stored when a note fails")
	}
}

func TestNoteRecordsFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustSubmit(t, store, Session{ID: "s1", InstrumentID: 1, Instrument: "Violin"},
		NoteSample{NoteString: "A4", MeanCents: 5, Count: 3})
	mustSubmit(t, store, Session{ID: "s2", InstrumentID: 2, Instrument: "Violin"},
		NoteSample{NoteString: "A4", MeanCents: -5, Count: 3},
		NoteSample{NoteString: "B4", MeanCents: 1, Count: 1})
	mustSubmit(t, store, Session{ID: "s0", InstrumentID: 0, Instrument: "Unknown"},
		NoteSample{NoteString: "C4", MeanCents: 0, Count: 1})

	all, err := store.NoteRecords(ctx, AllInstruments())
	if err != nil {
		t.Fatalf("NoteRecords(all): %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d records, want 4", len(all))
	}

	two, err := store.NoteRecords(ctx, ForInstrument(2))
	if err != nil {
		t.Fatalf("NoteRecords(2): %v", err)
	}
	if len(two) != 2 {
		t.Fatalf("got %d records for instrument 2, want 2", len(two))
	}
	for _, r := range two {
		if r.InstrumentID != 2 {
			t.Errorf("record %+v leaked through instrument filter", r)
		}
		if r.SessionID != "s2" {
			t.Errorf("record session = %q, want s2", r.SessionID)
		}
	}

	zero, err := store.NoteRecords(ctx, ForInstrument(0))
	if err != nil {
		t.Fatalf("NoteRecords(0): %v", err)
	}
	if len(zero) != 1 || zero[0].NoteString != "C4" {
		t.Errorf("explicit instrument 0 filter = %+v, want only C4", zero)
	}
}

func TestInstruments(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustSubmit(t, store, Session{ID: "s1", InstrumentID: 2, Instrument: "Cello"})
	mustSubmit(t, store, Session{ID: "s2", InstrumentID: 1, Instrument: "Violin"})
	mustSubmit(t, store, Session{ID: "s3", InstrumentID: 2, Instrument: "Cello"})

	got, err := store.Instruments(ctx)
	if err != nil {
		t.Fatalf("Instruments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d instruments, want 2", len(got))
	}
	if got[0].ID != 1 || got[0].Name != "Violin" || got[0].Sessions != 1 {
		t.Errorf("instruments[0] = %+v", got[0])
	}
	if got[1].ID != 2 || got[1].Name != "Cello" || got[1].Sessions != 2 {
		t.Errorf("instruments[1] = %+v", got[1])
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustSubmit(t, store, Session{ID: "gone", InstrumentID: 1, Instrument: "Violin"},
		NoteSample{NoteString: "A4", MeanCents: 1, Count: 1},
		NoteSample{NoteString: "B4", MeanCents: 2, Count: 2})

	if err := store.DeleteSession(ctx, "gone"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	notes, err := store.NotesForSession(ctx, "gone")
	if err != nil {
		t.Fatalf("NotesForSession: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("got %d notes after delete, want 0", len(notes))
	}

	if err := store.DeleteSession(ctx, "gone"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionNotFound(t *testing.T) {
	store := openTestStore(t)

	sess, err := store.Session(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil, got session %q", sess.ID)
	}
}

func TestInstrumentFilter(t *testing.T) {
	all := AllInstruments()
	if _, ok := all.ID(); ok {
		t.Error("AllInstruments should not set an id")
	}
	if !all.Matches(0) || !all.Matches(42) {
		t.Error("AllInstruments should match everything")
	}

	zero := ForInstrument(0)
	if id, ok := zero.ID(); !ok || id != 0 {
		t.Errorf("ForInstrument(0).ID() = %d, %v", id, ok)
	}
	if zero.Matches(1) {
		t.Error("ForInstrument(0) should not match 1")
	}

	if (InstrumentFilter{}) != all {
		t.Error("zero value filter should equal AllInstruments")
	}
}

func mustSubmit(t *testing.T, store *Store, sess Session, notes ...NoteSample) {
	t.Helper()
	if err := store.Submit(context.Background(), sess, notes); err != nil {
		t.Fatalf("Submit %s: %v", sess.ID, err)
	}
}

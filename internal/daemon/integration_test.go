package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
)

// startServer runs a daemon backed by a fresh database and returns its
// socket path. The server stops when the test ends.
func startServer(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	store, err := db.Open(filepath.Join(dir, "pitchtend.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	svc := tendency.NewService(store, nil, nil)
	srv := NewServer(svc, nil)
	svc.OnSubmit(srv.Notify)

	sockPath := filepath.Join(dir, "d.sock")
	ln, err := ListenUnix(sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		store.Close()
	})
	return sockPath
}

func connect(t *testing.T, sockPath string) *Client {
	t.Helper()
	c, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func samplePayload(id string, instrumentID int64) tendency.SessionPayload {
	return tendency.SessionPayload{
		SessionID:    id,
		Instrument:   "Cello",
		InstrumentID: tendency.Ptr(instrumentID),
		Notes: []tendency.NotePayload{
			{NoteString: "A4", MeanCents: tendency.Ptr(10.0), Count: tendency.Ptr(int64(1))},
			{NoteString: "A4", MeanCents: tendency.Ptr(15.0), Count: tendency.Ptr(int64(2))},
			{NoteString: "C4", MeanCents: tendency.Ptr(-5.0), Count: tendency.Ptr(int64(4))},
		},
	}
}

func TestServerSubmitAndQuery(t *testing.T) {
	c := connect(t, startServer(t))

	id, err := c.Submit(samplePayload("s1", 1))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "s1" {
		t.Errorf("id = %q, want s1", id)
	}

	got, err := c.Tendencies(nil)
	if err != nil {
		t.Fatalf("tendencies: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("tendencies = %+v, want 2 rows", got)
	}
	if got[0].NoteString != "A4" || got[0].MeanCents != 13.33 || got[0].TotalSamples != 3 {
		t.Errorf("first row = %+v", got[0])
	}
	if got[1].NoteString != "C4" || got[1].MeanCents != -5 {
		t.Errorf("second row = %+v", got[1])
	}

	instruments, err := c.Instruments()
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}
	if len(instruments) != 1 || instruments[0].Instrument != "Cello" || instruments[0].Sessions != 1 {
		t.Errorf("instruments = %+v", instruments)
	}
}

func TestServerFilterByInstrument(t *testing.T) {
	c := connect(t, startServer(t))

	if _, err := c.Submit(samplePayload("s1", 1)); err != nil {
		t.Fatalf("submit s1: %v", err)
	}
	if _, err := c.Submit(samplePayload("s2", 2)); err != nil {
		t.Fatalf("submit s2: %v", err)
	}

	got, err := c.Tendencies(Int64Ptr(2))
	if err != nil {
		t.Fatalf("tendencies: %v", err)
	}
	for _, row := range got {
		if row.InstrumentID != 2 {
			t.Errorf("row from instrument %d leaked into filter", row.InstrumentID)
		}
	}

	none, err := c.Tendencies(Int64Ptr(99))
	if err != nil {
		t.Fatalf("tendencies 99: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown instrument returned %+v", none)
	}
}

func TestServerErrorCodes(t *testing.T) {
	c := connect(t, startServer(t))

	if _, err := c.Submit(samplePayload("s1", 1)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := c.Submit(samplePayload("s1", 1))
	if !errors.Is(err, tendency.ErrConflict) {
		t.Errorf("duplicate submit error = %v, want conflict", err)
	}

	bad := samplePayload("s2", 1)
	bad.Notes[0].Count = tendency.Ptr(int64(-1))
	_, err = c.Submit(bad)
	if !IsValidation(err) {
		t.Errorf("negative count error = %v, want validation", err)
	}

	err = c.Delete("missing")
	if !errors.Is(err, tendency.ErrNotFound) {
		t.Errorf("delete missing error = %v, want not found", err)
	}

	resp, err := c.SendCommand(Command{Cmd: "transcribe"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK || resp.Code != CodeBadRequest {
		t.Errorf("unknown command response = %+v", resp)
	}

	resp, err = c.SendCommand(Command{Cmd: CmdSubmit})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Code != CodeValidation {
		t.Errorf("submit without session code = %q, want %q", resp.Code, CodeValidation)
	}
}

func TestServerMalformedLineKeepsConnection(t *testing.T) {
	c := connect(t, startServer(t))

	if _, err := c.conn.Write([]byte("{not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !c.scanner.Scan() {
		t.Fatalf("no response to malformed line: %v", c.scanner.Err())
	}

	resp, err := c.SendCommand(Command{Cmd: CmdStatus})
	if err != nil {
		t.Fatalf("status after malformed line: %v", err)
	}
	if !resp.OK {
		t.Errorf("status = %+v", resp)
	}
}

func TestServerDeleteRemovesTendencies(t *testing.T) {
	c := connect(t, startServer(t))

	if _, err := c.Submit(samplePayload("s1", 1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.Delete("s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := c.Tendencies(nil)
	if err != nil {
		t.Fatalf("tendencies: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("tendencies after delete = %+v", got)
	}
}

func TestServerSubscribeReceivesSessionEvent(t *testing.T) {
	sockPath := startServer(t)

	events := connect(t, sockPath)
	resp, err := events.SendCommand(Command{Cmd: CmdSubscribe})
	if err != nil || !resp.OK {
		t.Fatalf("subscribe: %+v %v", resp, err)
	}

	cmds := connect(t, sockPath)
	// The subscription is registered after the OK is written; wait until the
	// server reports it before submitting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := cmds.SendCommand(Command{Cmd: CmdStatus})
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Status == "running (1 subscribers)" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered: %q", st.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := cmds.Submit(samplePayload("s1", 4)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := make(chan Event, 1)
	go func() {
		ev, err := events.ReadEvent()
		if err == nil {
			got <- ev
		}
	}()

	select {
	case ev := <-got:
		if ev.Event != EventSession || ev.SessionID != "s1" {
			t.Errorf("event = %+v", ev)
		}
		if ev.InstrumentID == nil || *ev.InstrumentID != 4 {
			t.Errorf("instrumentId = %v, want 4", ev.InstrumentID)
		}
		if ev.Notes == nil || *ev.Notes != 3 {
			t.Errorf("notes = %v, want 3", ev.Notes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no session event received")
	}
}

func TestListenUnixRefusesLiveDaemon(t *testing.T) {
	sockPath := startServer(t)

	if _, err := ListenUnix(sockPath); err == nil {
		t.Error("second listener on a live socket should fail")
	}
}

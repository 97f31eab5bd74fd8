package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
)

// maxLine bounds a single NDJSON line in either direction.
const maxLine = 1024 * 1024

// subscriberBuffer is how many events a slow subscriber may lag before
// events are dropped for it.
const subscriberBuffer = 32

// SocketPath returns the default daemon socket path.
func SocketPath() string {
	return filepath.Join(filepath.Dir(db.DefaultDBPath()), "pitchtend.sock")
}

// Service is what the daemon exposes. *tendency.Service satisfies it.
type Service interface {
	Submit(ctx context.Context, p tendency.SessionPayload) (tendency.Ack, error)
	Tendencies(ctx context.Context, filter db.InstrumentFilter) ([]tendency.Summary, error)
	Instruments(ctx context.Context) ([]tendency.Instrument, error)
	DeleteSession(ctx context.Context, id string) error
}

// Server answers daemon commands on a listener, one goroutine per connection.
type Server struct {
	svc    Service
	logger *slog.Logger

	mu    sync.Mutex
	subs  map[chan Event]struct{}
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server. A nil logger uses slog.Default().
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		logger: logger,
		subs:   make(map[chan Event]struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
}

// ListenUnix listens on socketPath, removing a stale socket left by a dead
// daemon. It fails if another daemon is still answering on the path.
func ListenUnix(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(socketPath); err == nil {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			return nil, fmt.Errorf("daemon already running on %s", socketPath)
		}
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled, then closes the listener
// and all open connections and waits for their handlers to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeConns()
	})
	defer stop()

	s.logger.Info("daemon listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		// Accepted after shutdown began; closeConns may already have run.
		if ctx.Err() != nil {
			conn.Close()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// Notify publishes a session event for a stored session. It matches the
// signature expected by tendency.Service.OnSubmit.
func (s *Server) Notify(ev tendency.Submitted) {
	notes := ev.Notes
	s.Publish(Event{
		Event:        EventSession,
		SessionID:    ev.SessionID,
		InstrumentID: Int64Ptr(ev.InstrumentID),
		Notes:        &notes,
	})
}

// Publish fans ev out to every subscriber without blocking.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping event for slow subscriber", "event", ev.Event)
		}
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			s.logger.Warn("malformed command", "error", err)
			if err := enc.Encode(Response{Error: "malformed command: " + err.Error(), Code: CodeBadRequest}); err != nil {
				return
			}
			continue
		}

		if cmd.Cmd == CmdSubscribe {
			if err := enc.Encode(Response{OK: true}); err != nil {
				return
			}
			s.stream(ctx, scanner, enc)
			return
		}

		if err := enc.Encode(s.dispatch(ctx, cmd)); err != nil {
			s.logger.Debug("write response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Debug("read command", "error", err)
	}
}

// stream sends events to a subscribed connection until it closes. Lines the
// subscriber sends after subscribing are ignored.
func (s *Server) stream(ctx context.Context, scanner *bufio.Scanner, enc *json.Encoder) {
	ch := make(chan Event, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for scanner.Scan() {
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := enc.Encode(ev); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) Response {
	switch cmd.Cmd {
	case CmdSubmit:
		if cmd.Session == nil {
			return Response{Error: "submit requires a session", Code: CodeValidation}
		}
		ack, err := s.svc.Submit(ctx, *cmd.Session)
		if err != nil {
			return s.errorResponse(cmd, err)
		}
		return Response{OK: true, SessionID: ack.SessionID}

	case CmdTendencies:
		filter := db.AllInstruments()
		if cmd.InstrumentID != nil {
			filter = db.ForInstrument(*cmd.InstrumentID)
		}
		summaries, err := s.svc.Tendencies(ctx, filter)
		if err != nil {
			return s.errorResponse(cmd, err)
		}
		return Response{OK: true, Tendencies: summaries}

	case CmdInstruments:
		instruments, err := s.svc.Instruments(ctx)
		if err != nil {
			return s.errorResponse(cmd, err)
		}
		return Response{OK: true, Instruments: instruments}

	case CmdDelete:
		if err := s.svc.DeleteSession(ctx, cmd.SessionID); err != nil {
			return s.errorResponse(cmd, err)
		}
		return Response{OK: true, SessionID: cmd.SessionID}

	case CmdStatus:
		s.mu.Lock()
		subs := len(s.subs)
		s.mu.Unlock()
		return Response{OK: true, Status: fmt.Sprintf("running (%d subscribers)", subs)}
	}

	return Response{Error: fmt.Sprintf("unknown command %q", cmd.Cmd), Code: CodeBadRequest}
}

func (s *Server) errorResponse(cmd Command, err error) Response {
	resp := Response{Error: err.Error()}

	var ve *tendency.ValidationError
	switch {
	case errors.As(err, &ve):
		resp.Code = CodeValidation
	case errors.Is(err, tendency.ErrConflict):
		resp.Code = CodeConflict
	case errors.Is(err, tendency.ErrNotFound):
		resp.Code = CodeNotFound
	default:
		resp.Code = CodeStore
		s.logger.Error("command failed", "cmd", cmd.Cmd, "error", err)
	}
	return resp
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

package tendency

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/observability"
)

// Store is the persistence the service needs. *db.Store satisfies it.
type Store interface {
	Submit(ctx context.Context, sess db.Session, notes []db.NoteSample) error
	NoteRecords(ctx context.Context, filter db.InstrumentFilter) ([]db.NoteRecord, error)
	Instruments(ctx context.Context) ([]db.Instrument, error)
	DeleteSession(ctx context.Context, id string) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so errors match the wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Service validates submissions, persists them, and answers tendency queries.
type Service struct {
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	listeners []func(Submitted)
}

// NewService creates a Service. metrics may be nil; a nil logger uses
// slog.Default().
func NewService(store Store, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, metrics: metrics, logger: logger}
}

// OnSubmit registers fn to be called after every successfully stored session.
// fn runs on the submitting goroutine and must not block.
func (s *Service) OnSubmit(fn func(Submitted)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Submit validates and stores a session with all of its notes.
//
// Errors are a *ValidationError for bad input, a *ConflictError when the
// session id is already stored, or a *StoreError for anything else.
func (s *Service) Submit(ctx context.Context, p SessionPayload) (Ack, error) {
	if err := Validate(p); err != nil {
		s.metrics.RecordSubmit(observability.ResultValidation, 0)
		return Ack{}, err
	}

	sess := db.Session{
		ID:           p.SessionID,
		InstrumentID: *p.InstrumentID,
		Instrument:   p.Instrument,
	}
	notes := make([]db.NoteSample, len(p.Notes))
	for i, n := range p.Notes {
		notes[i] = db.NoteSample{
			SessionID:  p.SessionID,
			NoteString: n.NoteString,
			MeanCents:  *n.MeanCents,
			Count:      *n.Count,
		}
	}

	if err := s.store.Submit(ctx, sess, notes); err != nil {
		if errors.Is(err, db.ErrDuplicateSession) {
			s.metrics.RecordSubmit(observability.ResultConflict, 0)
			return Ack{}, &ConflictError{SessionID: p.SessionID}
		}
		s.metrics.RecordSubmit(observability.ResultError, 0)
		return Ack{}, &StoreError{Op: "submit session", Err: err}
	}

	s.metrics.RecordSubmit(observability.ResultOK, len(notes))
	s.logger.Info("session stored",
		"session_id", p.SessionID,
		"instrument_id", sess.InstrumentID,
		"notes", len(notes))

	s.notify(Submitted{SessionID: p.SessionID, InstrumentID: sess.InstrumentID, Notes: len(notes)})

	return Ack{
		Status:    "success",
		SessionID: p.SessionID,
		Message:   "Session data received.",
	}, nil
}

// Tendencies computes the current tendency summary for filter. A store with no
// matching samples yields an empty, non-nil slice.
func (s *Service) Tendencies(ctx context.Context, filter db.InstrumentFilter) ([]Summary, error) {
	start := time.Now()

	records, err := s.store.NoteRecords(ctx, filter)
	if err != nil {
		return nil, &StoreError{Op: "read note records", Err: err}
	}
	summaries := Summarize(records, filter)

	_, filtered := filter.ID()
	s.metrics.RecordQuery(filtered, time.Since(start))

	return summaries, nil
}

// Instruments lists every instrument with stored sessions.
func (s *Service) Instruments(ctx context.Context) ([]Instrument, error) {
	stored, err := s.store.Instruments(ctx)
	if err != nil {
		return nil, &StoreError{Op: "read instruments", Err: err}
	}
	out := make([]Instrument, len(stored))
	for i, in := range stored {
		out[i] = Instrument{InstrumentID: in.ID, Instrument: in.Name, Sessions: in.Sessions}
	}
	return out, nil
}

// DeleteSession removes a stored session and its notes.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Field: "session_id", Reason: "required"}
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			return ErrNotFound
		}
		return &StoreError{Op: "delete session", Err: err}
	}
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

func (s *Service) notify(ev Submitted) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.listeners {
		fn(ev)
	}
}

// Validate checks that a payload carries every required field.
func Validate(p SessionPayload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}

	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return &ValidationError{Field: field, Reason: reason}
}

// Package ledger records every remote call the extraction flow attempts.
package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
)

// Verb names the kind of remote operation a record describes.
type Verb string

const (
	VerbCreate    Verb = "create"
	VerbTransform Verb = "transform"
	VerbFetch     Verb = "fetch"
	VerbDelete    Verb = "delete"
)

// Phase distinguishes the outgoing request entry from its settlement.
type Phase string

const (
	PhaseRequest Phase = "request"
	PhaseSettled Phase = "settled"
)

// CallRecord is one ledger entry.
// A request entry carries neither Response nor Error; a settled entry carries exactly one.
type CallRecord struct {
	ID        uuid.UUID       `json:"id"`
	Run       uint64          `json:"run"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Method    string          `json:"method,omitempty"`
	Verb      Verb            `json:"verb"`
	Phase     Phase           `json:"phase"`
	Request   json.RawMessage `json:"request,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Failed reports whether the record settled with an error.
func (r CallRecord) Failed() bool {
	return r.Phase == PhaseSettled && r.Error != ""
}

// Sink receives every record after it is appended.
type Sink interface {
	Record(ctx context.Context, rec CallRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec CallRecord) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, rec CallRecord) error {
	return f(ctx, rec)
}

// Config holds ledger settings.
type Config struct {
	MaxEntries int // 0 means unbounded
}

// Ledger is an append-only, concurrency-safe sequence of CallRecords.
type Ledger struct {
	// dispatch keeps sink delivery in insertion order. It is taken before mu.
	dispatch sync.Mutex
	mu       sync.RWMutex
	records  []CallRecord
	dropped  int
	max      int
	sinks    []Sink
	logger   *observability.Logger
	now      func() time.Time
}

// New creates an empty ledger.
func New(cfg Config, logger *observability.Logger, sinks ...Sink) *Ledger {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Ledger{
		max:    cfg.MaxEntries,
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
	}
}

// AddSink registers another sink for subsequent appends.
func (l *Ledger) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Append adds rec to the end of the ledger and returns the stored copy.
// Sinks see records in ledger order. Sink failures are logged and never undo
// the append.
func (l *Ledger) Append(ctx context.Context, rec CallRecord) CallRecord {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	l.dispatch.Lock()
	defer l.dispatch.Unlock()

	l.mu.Lock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	l.records = append(l.records, rec)
	if l.max > 0 && len(l.records) > l.max {
		overflow := len(l.records) - l.max
		l.records = append([]CallRecord(nil), l.records[overflow:]...)
		l.dropped += overflow
	}
	sinks := l.sinks
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.Record(ctx, rec); err != nil {
			l.logger.Warn().
				Err(err).
				Str("record_id", rec.ID.String()).
				Str("verb", string(rec.Verb)).
				Msg("ledger sink failed")
		}
	}

	return rec
}

// Records returns a copy of the ledger in insertion order.
func (l *Ledger) Records() []CallRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CallRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records currently held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Dropped returns how many records were evicted by the size cap.
func (l *Ledger) Dropped() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

// Clear discards every record. Only a flow reset uses this.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.dropped = 0
}

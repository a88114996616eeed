// Package audit records every force-create attempt, approved or
// rejected, as a structured append-only trail for security review.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome of a force-create attempt.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Event is one audit record. It carries enough for a human reviewer to
// correlate an attempt (truncated token prefix, subject, date, total
// amount) without reproducing the secret-bound token itself.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Subject     string    `json:"tercero"`
	Date        string    `json:"fecha"`
	TotalAmount float64   `json:"total_importe"`
	TokenPrefix string    `json:"token"`
}

// Logger appends structured audit records to some sink.
type Logger interface {
	Record(ctx context.Context, e Event) error
}

// WriterLogger writes one JSON record per line to an injected writer.
type WriterLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterLogger creates a Logger writing JSONL to w. A nil writer
// falls back to os.Stdout.
func NewWriterLogger(w io.Writer) *WriterLogger {
	if w == nil {
		w = os.Stdout
	}
	return &WriterLogger{w: w}
}

// Record appends the event as a single JSON line.
func (l *WriterLogger) Record(_ context.Context, e Event) error {
	fill(&e)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = l.w.Write(append(b, '\n'))
	return err
}

// Nop discards all events. For callers composing the subsystem without
// an audit requirement, e.g. in unit tests of unrelated behavior.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// fill stamps the event with an id and timestamp if the caller left
// them empty.
func fill(e *Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Action == "" {
		e.Action = "force_create_attempt"
	}
}

// Package audit implements the append-only audit trail written to by every
// governance component on every decision.
//
// Audit writes are fire-and-forget relative to the governing operation: a
// failed write never rolls back or fails the decision it describes, but it is
// surfaced through a monitorable failure handler. Every event carries a
// store-wide sequence and a per-resource sequence so a downstream consumer
// can detect and reconcile gaps.
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

// Event is a single structured audit record. Never updated, never deleted.
type Event struct {
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	ActorID       string         `json:"actor_id"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	Details       map[string]any `json:"details,omitempty"`
	PreviousState string         `json:"previous_state,omitempty"`
	NewState      string         `json:"new_state,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`

	// Ordering keys, assigned by the sink at append time.
	Sequence    uint64 `json:"sequence"`
	ResourceSeq uint64 `json:"resource_seq"`

	// Hash chain fields, assigned by chained sinks.
	PreviousHash string `json:"previous_hash,omitempty"`
	EntryHash    string `json:"entry_hash,omitempty"`
}

// Trail is the sink interface the components write to.
type Trail interface {
	Record(ctx context.Context, event Event) error
}

// FailureHandler receives events whose write failed. Implementations must not
// panic; they typically feed an alert counter.
type FailureHandler func(event Event, err error)

// Recorder wraps a Trail with the best-effort write policy. All components
// record through a Recorder so a sink failure never enters their error path.
type Recorder struct {
	trail     Trail
	onFailure FailureHandler
}

// NewRecorder creates a Recorder. onFailure may be nil, in which case
// failures are silently counted but otherwise dropped.
func NewRecorder(trail Trail, onFailure FailureHandler) *Recorder {
	return &Recorder{trail: trail, onFailure: onFailure}
}

// Record writes the event, swallowing any sink error after the failure
// handler has seen it.
func (r *Recorder) Record(ctx context.Context, action, actorID, resourceType, resourceID string, details map[string]any) {
	r.RecordTransition(ctx, action, actorID, resourceType, resourceID, details, "", "")
}

// RecordTransition writes an event carrying a state transition.
func (r *Recorder) RecordTransition(ctx context.Context, action, actorID, resourceType, resourceID string, details map[string]any, previousState, newState string) {
	if r == nil || r.trail == nil {
		return
	}
	event := Event{
		ID:            uuid.New().String(),
		Action:        action,
		ActorID:       actorID,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Details:       details,
		PreviousState: previousState,
		NewState:      newState,
		Timestamp:     time.Now().UTC(),
	}
	if err := r.trail.Record(ctx, event); err != nil && r.onFailure != nil {
		r.onFailure(event, err)
	}
}

// WriterTrail writes events as prefixed JSON lines to an io.Writer. Useful as
// a secondary sink for log shipping.
type WriterTrail struct {
	mu     sync.Mutex
	writer io.Writer
	seq    uint64
}

// NewWriterTrail creates a WriterTrail. A nil writer defaults to os.Stdout.
func NewWriterTrail(w io.Writer) *WriterTrail {
	if w == nil {
		w = os.Stdout
	}
	return &WriterTrail{writer: w}
}

func (t *WriterTrail) Record(ctx context.Context, event Event) error {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	event.Sequence = t.seq

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix for easy filtering in mixed log streams.
	_, err = t.writer.Write(append([]byte("AUDIT: "), append(data, '\n')...))
	return err
}

// Package audit provides the append-only audit event sink.
// Events are newline-delimited JSON, one file per event kind, each line a
// self-contained record. The sink owns its own serialization; callers may
// append concurrently.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"askdesk/internal/logging"
)

// EventKind identifies the audit event type.
type EventKind string

const (
	KindAuthAttempt    EventKind = "auth_attempt"
	KindAccessDecision EventKind = "access_decision"
	KindQueryCompleted EventKind = "query_completed"
)

// Event is a single audit record. Kind-specific fields live in Fields.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"ts"`
	Kind      EventKind              `json:"kind"`
	Username  string                 `json:"username"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink appends audit events to per-kind NDJSON files.
// Writes are flushed per event for at-least-once durability on restart.
type Sink struct {
	dir   string
	mu    sync.Mutex
	files map[EventKind]*os.File
}

// NewSink creates a sink rooted at dir. With dir == "" the sink discards
// events, which keeps tests and offline tooling free of filesystem setup.
func NewSink(dir string) (*Sink, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create sink dir: %w", err)
		}
	}
	return &Sink{dir: dir, files: make(map[EventKind]*os.File)}, nil
}

// Append writes one event. Missing ID and Timestamp are filled in.
func (s *Sink) Append(e Event) error {
	if s == nil || s.dir == "" {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(e.Kind)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: append %s: %w", e.Kind, err)
	}
	return nil
}

// file returns the open handle for a kind, opening it on first use.
// Caller holds s.mu.
func (s *Sink) file(kind EventKind) (*os.File, error) {
	if f, ok := s.files[kind]; ok {
		return f, nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.ndjson", kind))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	s.files[kind] = f
	return f, nil
}

// Close closes all open files.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for kind, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, kind)
	}
	return firstErr
}

// =============================================================================
// CONVENIENCE CONSTRUCTORS FOR THE THREE EVENT KINDS
// =============================================================================

// AuthAttempt records a login attempt.
func (s *Sink) AuthAttempt(username string, success bool, reason string) {
	s.append(Event{
		Kind:     KindAuthAttempt,
		Username: username,
		Fields: map[string]interface{}{
			"success": success,
			"reason":  reason,
		},
	})
}

// AccessDecision records a per-chunk allow/deny decision.
func (s *Sink) AccessDecision(requestID, username, chunkID string, allowed bool) {
	s.append(Event{
		Kind:      KindAccessDecision,
		Username:  username,
		RequestID: requestID,
		Fields: map[string]interface{}{
			"chunk_id": chunkID,
			"allowed":  allowed,
		},
	})
}

// QueryCompleted records a finished retrieval request.
func (s *Sink) QueryCompleted(requestID, username string, variants, poolSize, returned int) {
	s.append(Event{
		Kind:      KindQueryCompleted,
		Username:  username,
		RequestID: requestID,
		Fields: map[string]interface{}{
			"variants_count": variants,
			"pool_size":      poolSize,
			"returned":       returned,
		},
	})
}

// append logs a failed write instead of losing it silently. Audit
// failures never abort the request that produced the event.
func (s *Sink) append(e Event) {
	if err := s.Append(e); err != nil {
		logging.Get(logging.CategoryAudit).Error("dropped %s event: %v", e.Kind, err)
	}
}

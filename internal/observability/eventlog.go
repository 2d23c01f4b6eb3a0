package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one line of the resolution event log.
type Event struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"` // INFO, WARN, ERROR
	Type    string    `json:"type"`  // e.g. "commit.partial", "report.submitted"
	Message string    `json:"msg"`
	// Scope is the reporting period key, e.g. "FIN/2026-03".
	Scope string `json:"scope,omitempty"`
	// WorkflowID ties together every event written by one workflow run.
	WorkflowID string         `json:"workflow_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event of the given type. The "scope" and "workflow_id"
// entries of data are lifted into the typed fields; the rest stays in Data.
func NewEvent(at time.Time, eventType string, data map[string]any) Event {
	e := Event{
		Time:    at,
		Level:   LevelFor(eventType),
		Type:    eventType,
		Message: eventType,
	}
	rest := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case "scope":
			e.Scope, _ = v.(string)
		case "workflow_id":
			e.WorkflowID, _ = v.(string)
		default:
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		e.Data = rest
	}
	return e
}

// EventFilter selects events on Read. Zero fields match everything.
type EventFilter struct {
	Since      *time.Time
	Until      *time.Time
	Type       string
	Level      string
	Scope      string
	WorkflowID string
}

// EventLog appends events and reads them back.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// jsonlEventLog keeps one JSON object per line in an append-only file.
type jsonlEventLog struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLEventLog opens (or creates) the event log at path.
func NewJSONLEventLog(path string) (EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{path: path, file: f, enc: json.NewEncoder(f)}, nil
}

// Write appends the event as a single line.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(event); err != nil {
		return fmt.Errorf("writing %s event: %w", event.Type, err)
	}
	return nil
}

// Read returns the events matching filter in the order they were written.
// Lines that do not decode are skipped.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	err = decodeEvents(f, func(e Event) {
		if filter.matches(e) {
			events = append(events, e)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}
	return events, nil
}

// Close closes the underlying file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

func decodeEvents(r io.Reader, fn func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		fn(e)
	}
	return scanner.Err()
}

func (f EventFilter) matches(e Event) bool {
	switch {
	case f.Since != nil && e.Time.Before(*f.Since):
		return false
	case f.Until != nil && e.Time.After(*f.Until):
		return false
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.Level != "" && e.Level != f.Level:
		return false
	case f.Scope != "" && scopeOf(e) != f.Scope:
		return false
	case f.WorkflowID != "" && workflowOf(e) != f.WorkflowID:
		return false
	}
	return true
}

// Package logbuf keeps a bounded in-memory tail of log lines for the status
// endpoint. It is observational only; nothing reads it for control decisions.
package logbuf

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCapacity matches the host panel's 200-line log view.
const DefaultCapacity = 200

// Entry is one retained log line.
type Entry struct {
	Ts      time.Time `json:"ts"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Sink is a capped append-only buffer of log entries, oldest dropped first.
// It implements zerolog.Hook so it can ride along the process logger.
type Sink struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
}

// NewSink builds a sink with the given capacity (DefaultCapacity if <= 0).
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{cap: capacity, entries: make([]Entry, 0, capacity)}
}

// Run satisfies zerolog.Hook.
func (s *Sink) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if message == "" {
		return
	}
	s.Append(Entry{Ts: time.Now(), Level: level.String(), Message: message})
}

// Append records one entry, evicting the oldest when over capacity.
func (s *Sink) Append(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
}

// Snapshot returns a copy of the retained entries, oldest first.
func (s *Sink) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len reports how many entries are retained.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

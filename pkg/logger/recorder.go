package logger

import (
	"strings"
	"sync"
)

// Recorder captures log entries through a hook. Tests use it to assert on
// warnings and errors that components log instead of returning.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	remove  func()
}

// Record starts capturing entries. Call Stop when done.
func Record() *Recorder {
	r := &Recorder{}
	r.remove = AddHook(func(e Entry) {
		r.mu.Lock()
		r.entries = append(r.entries, e)
		r.mu.Unlock()
	})
	return r
}

// Stop detaches the recorder. Captured entries remain readable.
func (r *Recorder) Stop() {
	if r.remove != nil {
		r.remove()
		r.remove = nil
	}
}

// Entries returns a copy of everything captured so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many entries match level and component.
// An empty component matches any component.
func (r *Recorder) Count(level LogLevel, component string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level && (component == "" || e.Component == component) {
			n++
		}
	}
	return n
}

// Has reports whether an entry at level from component contains substr.
func (r *Recorder) Has(level LogLevel, component, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level != level {
			continue
		}
		if component != "" && e.Component != component {
			continue
		}
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Reset discards captured entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

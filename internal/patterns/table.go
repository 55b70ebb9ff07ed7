// Package patterns holds the static mapping from bus subscription patterns
// to the event names that connected clients consume.
package patterns

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPattern is returned when an entry has no pattern.
	ErrEmptyPattern = errors.New("pattern cannot be empty")
	// ErrEmptyEvent is returned when an entry has no event name.
	ErrEmptyEvent = errors.New("event name cannot be empty")
	// ErrDuplicatePattern is returned when the same pattern appears twice.
	ErrDuplicatePattern = errors.New("pattern already defined")
)

// Entry maps one glob-style bus pattern to a client event name.
type Entry struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Event   string `json:"event" yaml:"event"`
}

// Table is an immutable pattern → event lookup. It is safe for concurrent
// use because nothing mutates it after New returns.
type Table struct {
	entries []Entry
	index   map[string]string
}

// New builds a table from the given entries, preserving their order.
func New(entries ...Entry) (*Table, error) {
	t := &Table{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		if e.Pattern == "" {
			return nil, ErrEmptyPattern
		}
		if e.Event == "" {
			return nil, fmt.Errorf("pattern %q: %w", e.Pattern, ErrEmptyEvent)
		}
		if _, exists := t.index[e.Pattern]; exists {
			return nil, fmt.Errorf("pattern %q: %w", e.Pattern, ErrDuplicatePattern)
		}
		t.index[e.Pattern] = e.Event
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// MustNew is like New but panics on an invalid entry list. Use it only for
// tables defined in code.
func MustNew(entries ...Entry) *Table {
	t, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

// Default returns the table the relay ships with.
func Default() *Table {
	return MustNew(
		Entry{Pattern: "seat:events:*_*", Event: "seat_events"},
		Entry{Pattern: "login:*:event:*", Event: "login_events"},
	)
}

// Resolve returns the event name for the pattern that matched a bus message.
// The match is exact: the bus has already evaluated the glob.
func (t *Table) Resolve(pattern string) (string, bool) {
	event, ok := t.index[pattern]
	return event, ok
}

// Entries returns a copy of the table entries in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Patterns returns the subscription patterns in declaration order.
func (t *Table) Patterns() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Pattern
	}
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Package state persists the record of units applied by unitsync.
//
// A State is the complete set of managed units; only units this tool created
// appear in it. The Store owns the state file lifecycle: an exclusive lock is
// taken before loading and held until the run releases it, and every save
// replaces the file atomically.
package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrLocked is returned when another invocation holds the state lock.
var ErrLocked = errors.New("state file is locked by another run")

// Error reports a failure to read, write or lock the state file.
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Record is the state kept for a single managed unit
type Record struct {
	Template    string `yaml:"template"`
	ContentHash string `yaml:"content_hash"`
}

// State maps unit names to the record of their last successful apply
type State map[string]Record

// New returns an empty state
func New() State {
	return make(State)
}

// Clone returns a copy that can be mutated independently
func (s State) Clone() State {
	if s == nil {
		return New()
	}
	return maps.Clone(s)
}

// Units returns the managed unit names in sorted order
func (s State) Units() []string {
	return slices.Sorted(maps.Keys(s))
}

// Has reports whether unit is managed
func (s State) Has(unit string) bool {
	_, ok := s[unit]
	return ok
}

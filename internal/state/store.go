package state

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/unitsync/internal/atomicfile"
)

// currentVersion is written into every state file
const currentVersion = 1

// document is the on-disk layout of the state file
type document struct {
	Version int   `yaml:"version"`
	Units   State `yaml:"units"`
}

// Store loads and saves the state file. It is not safe for concurrent use
// within a process; across processes it is guarded by Lock.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore creates a store for the state file at path. The lock is held on a
// sibling file so that atomic renames of the state file do not drop it.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the state file path
func (s *Store) Path() string {
	return s.path
}

// Lock takes the exclusive advisory lock without waiting. It fails with
// ErrLocked if another process holds it.
func (s *Store) Lock() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &Error{Path: s.path, Op: "lock", Err: err}
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		return &Error{Path: s.path, Op: "lock", Err: err}
	}
	if !locked {
		return &Error{Path: s.path, Op: "lock", Err: ErrLocked}
	}
	return nil
}

// Unlock releases the lock taken by Lock
func (s *Store) Unlock() error {
	if err := s.lock.Unlock(); err != nil {
		return &Error{Path: s.path, Op: "unlock", Err: err}
	}
	return nil
}

// Locked reports whether this store currently holds the lock
func (s *Store) Locked() bool {
	return s.lock.Locked()
}

// Load reads the state file. A missing file yields an empty state.
func (s *Store) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, &Error{Path: s.path, Op: "load", Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &Error{Path: s.path, Op: "load", Err: fmt.Errorf("file is empty")}
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &Error{Path: s.path, Op: "load", Err: fmt.Errorf("failed to parse state file: %w", err)}
	}

	if doc.Version != currentVersion {
		return nil, &Error{Path: s.path, Op: "load", Err: fmt.Errorf("unsupported state version %d", doc.Version)}
	}

	if doc.Units == nil {
		doc.Units = New()
	}
	for unit, rec := range doc.Units {
		if rec.ContentHash == "" {
			return nil, &Error{Path: s.path, Op: "load", Err: fmt.Errorf("unit %s has no content hash", unit)}
		}
	}

	return doc.Units, nil
}

// Save writes the state atomically: the previous file is either fully
// replaced or left untouched.
func (s *Store) Save(st State) error {
	if st == nil {
		st = New()
	}

	data, err := yaml.Marshal(document{Version: currentVersion, Units: st})
	if err != nil {
		return &Error{Path: s.path, Op: "save", Err: err}
	}

	if err := atomicfile.Write(s.path, data, 0600); err != nil {
		return &Error{Path: s.path, Op: "save", Err: err}
	}
	return nil
}

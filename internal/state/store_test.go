package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_MissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.yaml"))

	st, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st == nil || len(st) != 0 {
		t.Errorf("expected empty non-nil state, got %v", st)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{name: "empty", state: New()},
		{
			name: "single",
			state: State{
				"a.service": {Template: "t", ContentHash: "abc"},
			},
		},
		{
			name: "awkward names",
			state: State{
				"getty@tty1.service": {Template: "getty.tmpl", ContentHash: "1"},
				"yes.service":        {Template: "no", ContentHash: "true"},
				"x.timer":            {Template: "", ContentHash: "0123"},
				"y.service":          {Template: "dir/with: colon", ContentHash: "~"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(filepath.Join(t.TempDir(), "state.yaml"))
			if err := store.Save(tt.state); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := store.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if diff := cmp.Diff(tt.state, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveLoad_RoundTripMany(t *testing.T) {
	st := New()
	for i := 0; i < 200; i++ {
		st[fmt.Sprintf("unit-%03d.service", i)] = Record{
			Template:    fmt.Sprintf("tmpl-%d", i%7),
			ContentHash: fmt.Sprintf("%064x", i),
		}
	}

	store := NewStore(filepath.Join(t.TempDir(), "state.yaml"))
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_Deterministic(t *testing.T) {
	dir := t.TempDir()
	st := State{
		"b.service": {Template: "t", ContentHash: "2"},
		"a.service": {Template: "t", ContentHash: "1"},
	}

	first := NewStore(filepath.Join(dir, "one.yaml"))
	second := NewStore(filepath.Join(dir, "two.yaml"))
	if err := first.Save(st); err != nil {
		t.Fatal(err)
	}
	if err := second.Save(st); err != nil {
		t.Fatal(err)
	}

	a, err := os.ReadFile(first.Path())
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("saved files differ:\n%s\n---\n%s", a, b)
	}
}

func TestLoad_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ""},
		{name: "not yaml", content: "{{{"},
		{name: "wrong shape", content: "version: 1\nunits: [a, b]\n"},
		{name: "unknown field", content: "version: 1\nunits: {}\nextra: true\n"},
		{name: "unsupported version", content: "version: 9\nunits: {}\n"},
		{name: "missing hash", content: "version: 1\nunits:\n  a.service:\n    template: t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			_, err := NewStore(path).Load()
			if err == nil {
				t.Fatal("expected error for malformed state")
			}
			var stErr *Error
			if !errors.As(err, &stErr) {
				t.Errorf("expected *state.Error, got %T", err)
			}
		})
	}
}

func TestLoad_Unreadable(t *testing.T) {
	// A directory in place of the state file cannot be read
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}

	_, err := NewStore(path).Load()
	var stErr *Error
	if !errors.As(err, &stErr) {
		t.Fatalf("expected *state.Error, got %v", err)
	}
}

func TestSave_FailureLeavesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")
	store := NewStore(path)

	orig := State{"a.service": {Template: "t", ContentHash: "1"}}
	if err := store.Save(orig); err != nil {
		t.Fatal(err)
	}

	// Make the directory read-only so the temp file cannot be created
	if err := os.Chmod(dir, 0555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0755) })
	if os.Getuid() == 0 {
		t.Skip("running as root; directory permissions are not enforced")
	}

	if err := store.Save(State{"b.service": {Template: "t", ContentHash: "2"}}); err == nil {
		t.Fatal("expected save into read-only directory to fail")
	}

	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig, got); diff != "" {
		t.Errorf("state changed after failed save (-want +got):\n%s", diff)
	}
}

func TestLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	first := NewStore(path)
	second := NewStore(path)

	if err := first.Lock(); err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}
	if !first.Locked() {
		t.Error("first store should report locked")
	}

	err := second.Lock()
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Lock: err = %v, want ErrLocked", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := second.Lock(); err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	_ = second.Unlock()
}

func TestLock_SurvivesSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	owner := NewStore(path)
	if err := owner.Lock(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = owner.Unlock() }()

	// Saving renames over the state file; the sibling lock must still hold
	if err := owner.Save(State{"a.service": {Template: "t", ContentHash: "1"}}); err != nil {
		t.Fatal(err)
	}
	if err := NewStore(path).Lock(); !errors.Is(err, ErrLocked) {
		t.Errorf("lock after save: err = %v, want ErrLocked", err)
	}
}

func TestState_Helpers(t *testing.T) {
	st := State{
		"b.service": {Template: "t", ContentHash: "2"},
		"a.service": {Template: "t", ContentHash: "1"},
	}

	if diff := cmp.Diff([]string{"a.service", "b.service"}, st.Units()); diff != "" {
		t.Errorf("Units() mismatch (-want +got):\n%s", diff)
	}
	if !st.Has("a.service") || st.Has("c.service") {
		t.Error("Has() returned wrong result")
	}

	clone := st.Clone()
	delete(clone, "a.service")
	if !st.Has("a.service") {
		t.Error("mutating clone changed original")
	}

	var nilState State
	if c := nilState.Clone(); c == nil {
		t.Error("Clone of nil state should be non-nil")
	}
}

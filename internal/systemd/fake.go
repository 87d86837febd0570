package systemd

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

// Fake is an in-memory Manager for tests. It records every call and can be
// told to fail specific operations.
type Fake struct {
	mu     sync.Mutex
	files  map[string][]byte
	active map[string]bool
	enable map[string]bool
	fail   map[string]error
	calls  []string
}

// NewFake creates an empty fake service manager
func NewFake() *Fake {
	return &Fake{
		files:  make(map[string][]byte),
		active: make(map[string]bool),
		enable: make(map[string]bool),
		fail:   make(map[string]error),
	}
}

// FailOn makes op fail with err for the given unit. Use an empty unit for
// operations without one (daemon-reload).
func (f *Fake) FailOn(op, unit string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[callKey(op, unit)] = err
}

// SetFile seeds the content of a unit file
func (f *Fake) SetFile(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = []byte(content)
}

// SetActive marks a unit as running
func (f *Fake) SetActive(name string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[name] = active
}

// File returns the content of a unit file and whether it exists
func (f *Fake) File(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	return string(data), ok
}

// Active reports whether a unit is running
func (f *Fake) Active(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[name]
}

// Enabled reports whether a unit is enabled
func (f *Fake) Enabled(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enable[name]
}

// Calls returns the recorded calls as "op unit" strings, in order
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls clears the call log
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(op, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := callKey(op, unit)
	f.calls = append(f.calls, key)
	return f.fail[key]
}

func (f *Fake) ReadUnitFile(_ context.Context, name string) ([]byte, error) {
	if err := f.record("read", name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (f *Fake) WriteUnitFile(_ context.Context, name string, content []byte) error {
	if err := f.record("write", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = append([]byte(nil), content...)
	return nil
}

func (f *Fake) RemoveUnitFile(_ context.Context, name string) error {
	if err := f.record("remove", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, name)
	return nil
}

func (f *Fake) DaemonReload(_ context.Context) error {
	return f.record("daemon-reload", "")
}

func (f *Fake) Enable(_ context.Context, name string) error {
	if err := f.record("enable", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enable[name] = true
	return nil
}

func (f *Fake) Disable(_ context.Context, name string) error {
	if err := f.record("disable", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.enable, name)
	return nil
}

func (f *Fake) Restart(_ context.Context, name string) error {
	if err := f.record("restart", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[name] = true
	return nil
}

func (f *Fake) Stop(_ context.Context, name string) error {
	if err := f.record("stop", name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, name)
	return nil
}

func (f *Fake) IsActive(_ context.Context, name string) (bool, error) {
	if err := f.record("is-active", name); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[name], nil
}

func callKey(op, unit string) string {
	if unit == "" {
		return op
	}
	return op + " " + unit
}

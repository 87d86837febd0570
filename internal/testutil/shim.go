package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Shim is a fake systemctl executable that appends each invocation to a log
// file. Subcommands can be made to fail, hang, or report units as active.
type Shim struct {
	// Path is the shim executable
	Path string
	// Dir holds the executable and its control files; prepend it to PATH to
	// make the shim answer for "systemctl".
	Dir string
	// LogPath receives one line per invocation with the arguments
	LogPath string
}

// NewShim writes a systemctl shim script into a fresh temp directory.
func NewShim(t *testing.T) *Shim {
	t.Helper()

	dir := t.TempDir()
	s := &Shim{
		Path:    filepath.Join(dir, "systemctl"),
		Dir:     dir,
		LogPath: filepath.Join(dir, "systemctl.log"),
	}

	// Control files: fail-<subcommand>-<unit>, hang-<subcommand>, active-<unit>
	script := `#!/bin/sh
dir="$(dirname "$0")"
echo "$@" >> "$dir/systemctl.log"
[ "$1" = "--user" ] && shift
sub="$1"
unit="$2"
if [ -e "$dir/hang-$sub" ]; then
	exec sleep 5
fi
if [ -e "$dir/fail-$sub-$unit" ] || [ -e "$dir/fail-$sub" ]; then
	echo "Failed to $sub $unit: simulated failure" >&2
	exit 1
fi
if [ "$sub" = "is-active" ]; then
	if [ -e "$dir/active-$unit" ]; then
		echo active
		exit 0
	fi
	echo inactive
	exit 3
fi
exit 0
`
	if err := os.WriteFile(s.Path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write systemctl shim: %v", err)
	}
	return s
}

// Fail makes the given subcommand fail. An empty unit fails it for every unit.
func (s *Shim) Fail(t *testing.T, sub, unit string) {
	t.Helper()
	name := "fail-" + sub
	if unit != "" {
		name += "-" + unit
	}
	s.touch(t, name)
}

// Hang makes the given subcommand sleep long enough to hit any short timeout.
func (s *Shim) Hang(t *testing.T, sub string) {
	t.Helper()
	s.touch(t, "hang-"+sub)
}

// SetActive makes is-active report the unit as running.
func (s *Shim) SetActive(t *testing.T, unit string) {
	t.Helper()
	s.touch(t, "active-"+unit)
}

// Invocations returns the logged argument lines, in order.
func (s *Shim) Invocations(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(s.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("failed to read shim log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

func (s *Shim) touch(t *testing.T, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.Dir, name), nil, 0644); err != nil {
		t.Fatalf("failed to write shim control file: %v", err)
	}
}

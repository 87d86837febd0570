//go:build integration

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/unitsync/internal/testutil"
)

// Harness builds the unitsync binary once and runs it against a throwaway
// host layout with a systemctl shim first on PATH.
type Harness struct {
	t       *testing.T
	binary  string
	shim    *testutil.Shim
	root    string
	unitDir string
	state   string
	config  string
}

// NewHarness builds the binary and prepares the host layout
func NewHarness(ctx context.Context, t *testing.T) *Harness {
	t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		t.Fatalf("get project root: %v", err)
	}

	root := t.TempDir()
	h := &Harness{
		t:       t,
		binary:  filepath.Join(root, "bin", "unitsync"),
		shim:    testutil.NewShim(t),
		root:    root,
		unitDir: filepath.Join(root, "etc", "systemd", "system"),
		state:   filepath.Join(root, "var", "lib", "unitsync", "state.yaml"),
		config:  filepath.Join(root, "etc", "unitsync", "config.yaml"),
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/unitsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: t, prefix: "[build] "}
	if err := cmd.Run(); err != nil {
		t.Fatalf("go build: %v", err)
	}
	return h
}

// Run executes unitsync with the harness paths and returns stdout, stderr
// and the exit code.
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Env = append(os.Environ(),
		"PATH="+h.shim.Dir+string(os.PathListSeparator)+os.Getenv("PATH"),
		"UNITSYNC_CONFIG="+h.config,
		"UNITSYNC_STATE="+h.state,
		"UNITSYNC_UNIT_DIR="+h.unitDir,
		"UNITSYNC_TIMEOUT=5s",
		"NO_COLOR=1",
	)
	cmd.Stdin = strings.NewReader("")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			h.t.Fatalf("exec failed: %v", err)
		}
	}
	return stdout.String(), stderr.String(), exitCode
}

// MustRun executes unitsync and fails the test on a non-zero exit code
func (h *Harness) MustRun(ctx context.Context, args ...string) string {
	h.t.Helper()
	stdout, stderr, code := h.Run(ctx, args...)
	if code != 0 {
		h.t.Fatalf("unitsync %v failed with exit code %d\nstdout: %s\nstderr: %s", args, code, stdout, stderr)
	}
	return stdout
}

// WriteFile writes a file below the harness root, creating parents
func (h *Harness) WriteFile(path, content string) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// UnitFile returns the content of an installed unit and whether it exists
func (h *Harness) UnitFile(name string) (string, bool) {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.unitDir, name))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ShimCalls returns the logged systemctl invocations
func (h *Harness) ShimCalls() []string {
	h.t.Helper()
	return h.shim.Invocations(h.t)
}

// ClearShimLog truncates the systemctl shim log
func (h *Harness) ClearShimLog() {
	h.t.Helper()
	if err := os.WriteFile(h.shim.LogPath, nil, 0644); err != nil {
		h.t.Fatalf("clear shim log: %v", err)
	}
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// initGitRepo creates a repository with the given files committed on main
func initGitRepo(ctx context.Context, t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"add", "."},
		{"-c", "user.email=test@example.com", "-c", "user.name=test", "commit", "-m", "templates"},
	} {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
}

func configFor(services ...string) string {
	return "services:\n" + strings.Join(services, "")
}

func service(unit, name, port string) string {
	return fmt.Sprintf("  - template: app.service\n    unit: %s\n    variables:\n      name: %s\n      port: %q\n", unit, name, port)
}

package systemd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/unitsync/internal/atomicfile"
)

// ErrTimeout is returned when a call does not complete within its timeout.
var ErrTimeout = errors.New("systemd call timed out")

// CommandError reports a systemctl invocation that ran but failed.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("systemctl %s failed: %v: %s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Manager provides the operations needed to apply unit changes to the
// service manager. Every call is bounded by the implementation's timeout.
type Manager interface {
	// ReadUnitFile returns the current content of a unit file, or an error
	// satisfying errors.Is(err, fs.ErrNotExist) if it does not exist.
	ReadUnitFile(ctx context.Context, name string) ([]byte, error)
	// WriteUnitFile atomically writes a unit file
	WriteUnitFile(ctx context.Context, name string, content []byte) error
	// RemoveUnitFile deletes a unit file; a missing file is not an error
	RemoveUnitFile(ctx context.Context, name string) error
	// DaemonReload reloads unit definitions
	DaemonReload(ctx context.Context) error
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	// IsActive reports whether the unit is currently running
	IsActive(ctx context.Context, name string) (bool, error)
}

// Client implements Manager by writing files into a unit directory and
// shelling out to systemctl.
type Client struct {
	unitDir string
	user    bool
	timeout time.Duration
	binary  string
}

// Option configures a Client
type Option func(*Client)

// WithUserScope makes the client operate on the user service manager
// (systemctl --user).
func WithUserScope(user bool) Option {
	return func(c *Client) { c.user = user }
}

// WithTimeout bounds every call made by the client. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBinary overrides the systemctl executable.
func WithBinary(path string) Option {
	return func(c *Client) { c.binary = path }
}

// NewClient creates a new systemd client that manages units in unitDir
func NewClient(unitDir string, opts ...Option) *Client {
	c := &Client{
		unitDir: unitDir,
		timeout: 30 * time.Second,
		binary:  "systemctl",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UnitPath returns the absolute path of a unit file inside the unit directory
func (c *Client) UnitPath(name string) string {
	return filepath.Join(c.unitDir, name)
}

// ReadUnitFile reads a unit file from the unit directory
func (c *Client) ReadUnitFile(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := c.bounded(ctx, func() error {
		var err error
		data, err = os.ReadFile(c.UnitPath(name))
		return err
	})
	return data, err
}

// WriteUnitFile writes a unit file with atomic rename
func (c *Client) WriteUnitFile(ctx context.Context, name string, content []byte) error {
	return c.bounded(ctx, func() error {
		if err := atomicfile.Write(c.UnitPath(name), content, 0644); err != nil {
			return fmt.Errorf("failed to write unit file %s: %w", name, err)
		}
		return nil
	})
}

// RemoveUnitFile deletes a unit file from the unit directory
func (c *Client) RemoveUnitFile(ctx context.Context, name string) error {
	return c.bounded(ctx, func() error {
		if err := os.Remove(c.UnitPath(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove unit file %s: %w", name, err)
		}
		return nil
	})
}

// DaemonReload reloads systemd daemon configuration
func (c *Client) DaemonReload(ctx context.Context) error {
	_, err := c.systemctl(ctx, "daemon-reload")
	return err
}

// Enable enables a unit so it is started at boot
func (c *Client) Enable(ctx context.Context, name string) error {
	_, err := c.systemctl(ctx, "enable", name)
	return err
}

// Disable disables a unit
func (c *Client) Disable(ctx context.Context, name string) error {
	_, err := c.systemctl(ctx, "disable", name)
	return err
}

// Restart restarts a unit, starting it if it is not running
func (c *Client) Restart(ctx context.Context, name string) error {
	_, err := c.systemctl(ctx, "restart", name)
	return err
}

// Stop stops a unit
func (c *Client) Stop(ctx context.Context, name string) error {
	_, err := c.systemctl(ctx, "stop", name)
	return err
}

// IsActive checks whether a unit is active
func (c *Client) IsActive(ctx context.Context, name string) (bool, error) {
	output, err := c.systemctl(ctx, "is-active", name)
	if err != nil {
		// is-active returns non-zero for inactive units, but that's not an error
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			var exitErr *exec.ExitError
			if errors.As(cmdErr.Err, &exitErr) {
				return false, nil
			}
		}
		return false, err
	}
	return strings.TrimSpace(output) == "active", nil
}

// systemctl runs a systemctl subcommand within the client's timeout and
// returns its combined output.
func (c *Client) systemctl(ctx context.Context, args ...string) (string, error) {
	if c.user {
		args = append([]string{"--user"}, args...)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: systemctl %s after %s", ErrTimeout, strings.Join(args, " "), c.timeout)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return string(output), &CommandError{
			Args:   args,
			Output: strings.TrimSpace(string(output)),
			Err:    err,
		}
	}
	return string(output), nil
}

// bounded runs a filesystem operation, giving up once the timeout elapses.
// The operation itself keeps running in the background if abandoned.
func (c *Client) bounded(ctx context.Context, fn func() error) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: file operation after %s", ErrTimeout, c.timeout)
		}
		return ctx.Err()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

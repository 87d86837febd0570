// Package git fetches a templates repository with the git command line.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client provides git operations for repository management
type Client interface {
	// Checkout clones or updates the repository at url into destDir and
	// checks out ref. It returns the checked out commit.
	Checkout(ctx context.Context, url, ref, destDir string) (string, error)
}

// Auth selects how the client authenticates. At most one field is set.
type Auth struct {
	SSHKeyFile     string
	HTTPSTokenFile string
}

// tokenEnv carries an HTTPS token to the credential helper
const tokenEnv = "UNITSYNC_GIT_TOKEN"

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	auth Auth
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(auth Auth) *ShellClient {
	return &ShellClient{auth: auth}
}

// Checkout clones on first use, fetches afterwards, and force-checks out ref.
// Branch names are resolved against origin so that a stale local branch
// never shadows new upstream commits.
func (c *ShellClient) Checkout(ctx context.Context, url, ref, destDir string) (string, error) {
	_, err := os.Stat(filepath.Join(destDir, ".git"))
	cloned := err == nil

	if !cloned {
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		if _, err := c.git(ctx, url, "", "clone", "--no-checkout", url, destDir); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
	} else {
		if _, err := c.git(ctx, url, destDir, "fetch", "--tags", "--force", "origin"); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
	}

	// Prefer the remote branch; fall back to tags and commit hashes.
	if _, err := c.git(ctx, url, destDir, "checkout", "-f", "--detach", "origin/"+ref); err != nil {
		if _, err := c.git(ctx, url, destDir, "checkout", "-f", "--detach", ref); err != nil {
			return "", fmt.Errorf("git checkout failed for ref %q (tried both remote branch and direct): %w", ref, err)
		}
	}

	out, err := c.git(ctx, url, destDir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// git runs a git subcommand, in dir when non-empty, with authentication for
// url applied, and returns stdout.
func (c *ShellClient) git(ctx context.Context, url, dir string, args ...string) (string, error) {
	flags, env, err := c.authFor(url)
	if err != nil {
		return "", err
	}
	if dir != "" {
		flags = append(flags, "-C", dir)
	}

	cmd := exec.CommandContext(ctx, "git", append(flags, args...)...)
	cmd.Env = append(os.Environ(), env...)

	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// authFor returns the global git flags and environment that authenticate
// against url.
func (c *ShellClient) authFor(url string) ([]string, []string, error) {
	env := []string{"GIT_TERMINAL_PROMPT=0"}

	if c.auth.SSHKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.auth.SSHKeyFile))
		return nil, append(env, "GIT_SSH_COMMAND="+sshCmd), nil
	}

	if c.auth.HTTPSTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.auth.HTTPSTokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read HTTPS token file: %w", err)
		}
		// The helper reads the token from the environment so it never
		// appears in the process arguments.
		flags := []string{
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$` + tokenEnv + `"; }; f`,
		}
		return flags, append(env, tokenEnv+"="+strings.TrimSpace(string(token))), nil
	}

	return nil, env, nil
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const templateName = "web.service.tmpl"

// initRepo creates a local repo with the given branch to act as the remote.
func initRepo(t *testing.T, dir, branch string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	run(t, "git", "init", "-b", branch, dir)
	run(t, "git", "-C", dir, "config", "user.email", "test@test.com")
	run(t, "git", "-C", dir, "config", "user.name", "Test")
}

// commitTemplate creates or overwrites the template file and commits it.
func commitTemplate(t *testing.T, repoDir, content, msg string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(repoDir, templateName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, "git", "-C", repoDir, "add", templateName)
	run(t, "git", "-C", repoDir, "commit", "-m", msg)
}

func run(t *testing.T, name string, args ...string) {
	t.Helper()
	if out, err := exec.Command(name, args...).CombinedOutput(); err != nil {
		t.Fatalf("%s %v: %v: %s", name, args, err, out)
	}
}

func readTemplate(t *testing.T, dir string) string {
	t.Helper()
	got, err := os.ReadFile(filepath.Join(dir, templateName))
	if err != nil {
		t.Fatal(err)
	}
	return string(got)
}

func TestCheckout_FollowsBranch(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitTemplate(t, remoteDir, "version1\n", "Initial commit")

	cloneDir := filepath.Join(t.TempDir(), "repo")
	client := NewShellClient(Auth{})

	commit1, err := client.Checkout(ctx, remoteDir, "main", cloneDir)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if got := readTemplate(t, cloneDir); got != "version1\n" {
		t.Fatalf("expected version1, got %q", got)
	}

	commitTemplate(t, remoteDir, "version2\n", "Update")

	commit2, err := client.Checkout(ctx, remoteDir, "main", cloneDir)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if commit1 == commit2 {
		t.Error("expected different commit after update, but got the same")
	}
	if got := readTemplate(t, cloneDir); got != "version2\n" {
		t.Errorf("expected version2 after update, got %q", got)
	}
}

func TestCheckout_Tag(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitTemplate(t, remoteDir, "tagged\n", "Tagged commit")
	run(t, "git", "-C", remoteDir, "tag", "v1.0")
	commitTemplate(t, remoteDir, "after-tag\n", "Post-tag commit")

	cloneDir := filepath.Join(t.TempDir(), "repo")
	if _, err := NewShellClient(Auth{}).Checkout(ctx, remoteDir, "v1.0", cloneDir); err != nil {
		t.Fatalf("tag checkout: %v", err)
	}
	if got := readTemplate(t, cloneDir); got != "tagged\n" {
		t.Errorf("expected tagged content, got %q", got)
	}
}

func TestCheckout_UnknownRef(t *testing.T) {
	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitTemplate(t, remoteDir, "x\n", "Initial commit")

	_, err := NewShellClient(Auth{}).Checkout(context.Background(), remoteDir, "does-not-exist", filepath.Join(t.TempDir(), "repo"))
	if err == nil {
		t.Fatal("expected error for unknown ref")
	}
	if !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("error should name the ref: %v", err)
	}
}

func TestAuthFor(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	t.Run("ssh", func(t *testing.T) {
		c := NewShellClient(Auth{SSHKeyFile: "/keys/id's"})
		flags, env, err := c.authFor("git@example.com:r.git")
		if err != nil {
			t.Fatal(err)
		}
		if len(flags) != 0 {
			t.Errorf("unexpected flags: %v", flags)
		}
		if !containsPrefix(env, `GIT_SSH_COMMAND=ssh -i '/keys/id'\''s'`) {
			t.Errorf("GIT_SSH_COMMAND not set correctly: %v", env)
		}
	})

	t.Run("https token", func(t *testing.T) {
		c := NewShellClient(Auth{HTTPSTokenFile: tokenFile})
		flags, env, err := c.authFor("https://example.com/r.git")
		if err != nil {
			t.Fatal(err)
		}
		if len(flags) != 2 || flags[0] != "-c" || !strings.HasPrefix(flags[1], "credential.helper=") {
			t.Errorf("unexpected flags: %v", flags)
		}
		if strings.Contains(strings.Join(flags, " "), "s3cret") {
			t.Error("token must not appear in arguments")
		}
		if !containsPrefix(env, tokenEnv+"=s3cret") {
			t.Errorf("token env not set: %v", env)
		}
	})

	t.Run("missing token file", func(t *testing.T) {
		c := NewShellClient(Auth{HTTPSTokenFile: filepath.Join(t.TempDir(), "nope")})
		if _, _, err := c.authFor("https://example.com/r.git"); err == nil {
			t.Error("expected error for missing token file")
		}
	})

	t.Run("scheme mismatch ignored", func(t *testing.T) {
		c := NewShellClient(Auth{SSHKeyFile: "/k"})
		flags, env, err := c.authFor("https://example.com/r.git")
		if err != nil {
			t.Fatal(err)
		}
		if len(flags) != 0 || containsPrefix(env, "GIT_SSH_COMMAND=") {
			t.Errorf("ssh auth applied to https url: %v %v", flags, env)
		}
	})
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple path", input: "/home/user/.ssh/key", want: "'/home/user/.ssh/key'"},
		{name: "path with spaces", input: "/home/my user/key", want: "'/home/my user/key'"},
		{name: "path with single quote", input: "/home/user's/key", want: "'/home/user'\\''s/key'"},
		{name: "empty string", input: "", want: "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shellQuote(tt.input); got != tt.want {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func containsPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// errNoModuleRoot is returned when no go.mod sits above the caller
var errNoModuleRoot = errors.New("go.mod not found in any parent directory")

// FindProjectRoot returns the unitsync module root, the nearest directory
// holding go.mod above the calling source file. Integration tests build
// ./cmd/unitsync from there.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	return moduleRoot(filepath.Dir(filename))
}

func moduleRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errNoModuleRoot
		}
		dir = parent
	}
}

package core

import (
	"os"
	"testing"
)

// setupTempDir creates a fresh scratch directory for a test's segment store,
// caches and work files, removed automatically at test cleanup.
func setupTempDir(tb testing.TB) string {
	dir, err := os.MkdirTemp("", "osmseg_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp failed: %v", err)
	}
	tb.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// writeFile is a small os.WriteFile wrapper for building malformed fixture
// files in tests.
func writeFile(path string, b []byte) error {
	return os.WriteFile(path, b, 0o644)
}

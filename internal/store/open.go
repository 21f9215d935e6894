package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Open opens the history backend named by backend ("sqlite" or "json") at
// path, creating the parent directory when needed.
func Open(backend, path string) (History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	switch backend {
	case "", "sqlite":
		return OpenSQLite(path)
	case "json":
		return OpenJSON(path)
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

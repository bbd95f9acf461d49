// Package filestore keeps a session snapshot in a JSON file so the CLI
// remembers the farmer's location between runs.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"krishi/internal/jsonx"
	"krishi/internal/logging"
	"krishi/internal/session"
)

// Store reads and writes one snapshot file.
type Store struct {
	path   string
	logger logging.Logger
}

// New returns a store for path. A leading "~/" is expanded to the home
// directory.
func New(path string, logger logging.Logger) *Store {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return &Store{path: path, logger: logging.OrNop(logger)}
}

// Path is the resolved file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored snapshot. A missing file is an empty snapshot.
func (s *Store) Load() (session.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return session.Snapshot{}, nil
	}
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("read session %s: %w", s.path, err)
	}
	var snap session.Snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		s.logger.Error("Failed to decode session file %s: %v. Preview: %s", s.path, err, previewJSON(data))
		return session.Snapshot{}, fmt.Errorf("decode session %s: %w", s.path, err)
	}
	return snap, nil
}

// Save writes snap through a temporary file so a crash never leaves a
// truncated snapshot behind.
func (s *Store) Save(snap session.Snapshot) error {
	data, err := jsonx.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func previewJSON(data []byte) string {
	const maxPreview = 256
	preview := strings.TrimSpace(string(data))
	preview = strings.ReplaceAll(preview, "\n", " ")
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "... (truncated)"
	}
	return preview
}

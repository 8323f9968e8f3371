// Package media persists alert media blobs on the local filesystem under a
// configured content root. Stored paths are relative to the root and joined
// with the public media base URL when serialized outward.
package media

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// Store writes blobs below root. Paths handed to Save use forward slashes
// and must not escape the root.
type Store struct {
	root   string
	logger log.Logger
}

// New creates a media store rooted at dir.
func New(dir string, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{root: dir, logger: logger}
}

// Save writes data to relPath below the root, creating directories as
// needed, and returns the relative path it was stored under.
func (s *Store) Save(ctx context.Context, relPath string, data []byte) (string, error) {
	clean := path.Clean("/" + relPath)[1:] // normalize and strip any leading ../
	if clean == "" || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("media: invalid path %q", relPath)
	}

	full := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("media: mkdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", clean, err)
	}

	s.logger.Info(ctx, "media stored", "path", clean, "bytes", len(data))
	return clean, nil
}

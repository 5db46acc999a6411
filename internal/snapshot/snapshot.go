// internal/snapshot/snapshot.go
package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"distpatch/internal/diff"
	"distpatch/internal/safe"

	"go.uber.org/zap"
)

// FileRecord is one file inside a tree snapshot. Content lives in the
// safe, addressed by Hash.
type FileRecord struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// TreeSnapshot is an immutable capture of a directory tree at one instant.
// Identity is the build configuration fingerprint the tree was produced
// under; two snapshots are only comparable when their identities match.
type TreeSnapshot struct {
	Root     string                `json:"root"`
	Identity string                `json:"identity"`
	Taken    time.Time             `json:"taken"`
	Files    map[string]FileRecord `json:"files"`
}

// Store captures and diffs build output trees.
type Store struct {
	safe   *safe.Safe
	engine *diff.Engine
	logger *zap.Logger
}

func NewStore(s *safe.Safe, logger *zap.Logger) *Store {
	return &Store{
		safe:   s,
		engine: diff.NewEngine(3),
		logger: logger,
	}
}

// Capture walks root recursively and records every regular file, storing
// contents in the safe. Paths are recorded relative to root with forward
// slashes so snapshots from different machines compare cleanly.
func (s *Store) Capture(root, identity string) (*TreeSnapshot, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving snapshot root: %w", err)
	}

	snap := &TreeSnapshot{
		Root:     absRoot,
		Identity: identity,
		Taken:    time.Now(),
		Files:    make(map[string]FileRecord),
	}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", relPath, err)
		}

		hash, err := s.safe.Store(content)
		if err != nil {
			return fmt.Errorf("storing content of %s: %w", relPath, err)
		}

		snap.Files[filepath.ToSlash(relPath)] = FileRecord{
			Hash: hash,
			Size: int64(len(content)),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}

	s.logger.Debug("captured tree snapshot",
		zap.String("root", absRoot),
		zap.Int("files", len(snap.Files)))

	return snap, nil
}

// Content retrieves a snapshotted file's content from the safe.
func (s *Store) Content(snap *TreeSnapshot, path string) ([]byte, error) {
	rec, ok := snap.Files[path]
	if !ok {
		return nil, fmt.Errorf("path %s not in snapshot", path)
	}
	return s.safe.Get(rec.Hash)
}

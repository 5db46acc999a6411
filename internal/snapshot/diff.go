// internal/snapshot/diff.go
package snapshot

import (
	"bytes"
	"fmt"
	"sort"

	"distpatch/internal/diff"
	"distpatch/internal/errors"
	"distpatch/shared/utils"

	"go.uber.org/zap"
)

// Canonical virtual roots. Hunk headers never expose where the build
// actually happened, so the same inputs produce byte-identical patches on
// any machine.
const (
	oldRoot = "a/dist"
	newRoot = "b/dist"
	devNull = "/dev/null"
)

// DistPatch is the normalized diff between two comparable tree snapshots,
// keyed by (source patch name, upstream tag) and content-addressed by Hash.
type DistPatch struct {
	Name     string `json:"name"`
	Upstream string `json:"upstream"`
	Content  []byte `json:"-"`
	Hash     string `json:"hash"`
}

// FileName is the patch's name on disk inside the artifact repository.
func (p *DistPatch) FileName() string {
	return p.Name + ".patch"
}

// Diff produces the dist patch between two snapshots. Byte-identical trees
// return (nil, nil): nothing to publish, as opposed to a zero-size
// artifact.
func (s *Store) Diff(name, upstream string, before, after *TreeSnapshot) (*DistPatch, error) {
	if before.Identity != after.Identity {
		return nil, errors.Internal("snapshots captured under different build configurations")
	}

	paths := make([]string, 0, len(before.Files)+len(after.Files))
	seen := make(map[string]bool)
	for p := range before.Files {
		paths = append(paths, p)
		seen[p] = true
	}
	for p := range after.Files {
		if !seen[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	for _, path := range paths {
		oldRec, inOld := before.Files[path]
		newRec, inNew := after.Files[path]
		if inOld && inNew && oldRec.Hash == newRec.Hash {
			continue
		}

		var oldContent, newContent []byte
		var err error
		if inOld {
			if oldContent, err = s.Content(before, path); err != nil {
				return nil, fmt.Errorf("loading before content of %s: %w", path, err)
			}
		}
		if inNew {
			if newContent, err = s.Content(after, path); err != nil {
				return nil, fmt.Errorf("loading after content of %s: %w", path, err)
			}
		}

		oldPath := oldRoot + "/" + path
		newPath := newRoot + "/" + path
		fmt.Fprintf(&buf, "diff --dist %s %s\n", oldPath, newPath)

		if diff.IsBinary(oldContent) || diff.IsBinary(newContent) {
			fmt.Fprintf(&buf, "Binary files %s and %s differ\n", label(oldPath, inOld), label(newPath, inNew))
			continue
		}

		buf.WriteString(s.engine.Unified(label(oldPath, inOld), label(newPath, inNew), oldContent, newContent))
	}

	if buf.Len() == 0 {
		return nil, nil
	}

	content := buf.Bytes()
	hash, err := s.safe.Store(content)
	if err != nil {
		return nil, fmt.Errorf("storing dist patch content: %w", err)
	}

	s.logger.Info("generated dist patch",
		zap.String("name", name),
		zap.String("hash", utils.ShortHash(hash)),
		zap.Int("bytes", len(content)))

	return &DistPatch{
		Name:     name,
		Upstream: upstream,
		Content:  content,
		Hash:     hash,
	}, nil
}

func label(path string, present bool) string {
	if !present {
		return devNull
	}
	return path
}

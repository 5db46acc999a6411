// internal/fingerprint/fingerprint.go
package fingerprint

import (
	"bytes"
	"sort"

	"distpatch/internal/errors"
	"distpatch/internal/snapshot"

	"go.uber.org/zap"
)

// Match records where the marker was first found. Informational only; the
// gate cares about presence, not position.
type Match struct {
	Path string
	Line int
}

// Verifier proves that a patch's intended code path is actually present in
// the built output, not merely that the build did not error.
type Verifier struct {
	store  *snapshot.Store
	logger *zap.Logger
}

func NewVerifier(store *snapshot.Store, logger *zap.Logger) *Verifier {
	return &Verifier{store: store, logger: logger}
}

// Verify scans every file in the snapshot for a literal occurrence of
// marker and returns the first match. Absence is FingerprintMissing.
// Files are scanned in path order so the reported match is stable.
func (v *Verifier) Verify(snap *snapshot.TreeSnapshot, marker string) (*Match, error) {
	needle := []byte(marker)

	paths := make([]string, 0, len(snap.Files))
	for p := range snap.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		content, err := v.store.Content(snap, path)
		if err != nil {
			return nil, err
		}

		idx := bytes.Index(content, needle)
		if idx < 0 {
			continue
		}

		match := &Match{
			Path: path,
			Line: bytes.Count(content[:idx], []byte{'\n'}) + 1,
		}
		v.logger.Info("fingerprint found",
			zap.String("path", match.Path),
			zap.Int("line", match.Line))
		return match, nil
	}

	return nil, errors.FingerprintMissing(marker)
}

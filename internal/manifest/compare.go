// internal/manifest/compare.go
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"distpatch/internal/snapshot"
	"distpatch/shared/utils"

	"go.uber.org/zap"
)

// Result is the idempotency comparator's verdict on a fresh dist patch.
type Result int

const (
	// ResultNew: no published artifact under this key; proceed to commit.
	ResultNew Result = iota
	// ResultIdentical: byte-for-byte equal to the published artifact; the
	// run is a successful no-op.
	ResultIdentical
	// ResultDrift: content differs from the published artifact; overwrite
	// needs explicit confirmation.
	ResultDrift
)

func (r Result) String() string {
	switch r {
	case ResultNew:
		return "new"
	case ResultIdentical:
		return "identical"
	case ResultDrift:
		return "drift"
	}
	return "unknown"
}

// Comparator decides whether a freshly generated dist patch duplicates the
// one already published in the artifact repository.
type Comparator struct {
	dir    string // patch dir inside the artifact repository
	logger *zap.Logger
}

func NewComparator(dir string, logger *zap.Logger) *Comparator {
	return &Comparator{dir: dir, logger: logger}
}

// Compare hashes the stored and fresh patch contents. The returned string
// is the stored content's hash when one exists.
func (c *Comparator) Compare(patch *snapshot.DistPatch) (Result, string, error) {
	stored, err := os.ReadFile(filepath.Join(c.dir, patch.FileName()))
	if err != nil {
		if os.IsNotExist(err) {
			return ResultNew, "", nil
		}
		return 0, "", fmt.Errorf("reading published patch: %w", err)
	}

	storedHash := utils.HashContent(stored)
	result := ResultDrift
	if storedHash == patch.Hash {
		result = ResultIdentical
	}

	c.logger.Info("compared against published artifact",
		zap.String("name", patch.Name),
		zap.String("result", result.String()),
		zap.String("stored", utils.ShortHash(storedHash)),
		zap.String("fresh", utils.ShortHash(patch.Hash)))

	return result, storedHash, nil
}

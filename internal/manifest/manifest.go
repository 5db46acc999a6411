// internal/manifest/manifest.go
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"distpatch/internal/errors"

	"go.uber.org/zap"
)

// Entry records the provenance of one published dist patch.
type Entry struct {
	Upstream    string    `json:"upstream"`
	SourcePatch string    `json:"sourcePatch"`
	ChangeRefs  []string  `json:"changeRefs"`
	Created     time.Time `json:"created"`
}

// Document is the whole manifest, keyed by dist patch name. Reads and
// writes are whole-document; there is no partial-record locking.
type Document map[string]Entry

// Registry is the durable manifest on disk. Writes are staged to a temp
// file and renamed into place, so a partial write is never visible.
type Registry struct {
	path   string
	logger *zap.Logger
}

func NewRegistry(path string, logger *zap.Logger) *Registry {
	return &Registry{path: path, logger: logger}
}

func (r *Registry) Path() string {
	return r.path
}

// Load reads the manifest. A missing file is an empty manifest.
func (r *Registry) Load() (Document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return doc, nil
}

// Get is pure and side-effect-free.
func (r *Registry) Get(name string) (*Entry, bool, error) {
	doc, err := r.Load()
	if err != nil {
		return nil, false, err
	}
	entry, ok := doc[name]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put records an entry. An existing key with different provenance fails
// with ManifestConflict unless overwrite was explicitly authorized by the
// idempotency comparator's confirmation path.
func (r *Registry) Put(name string, entry Entry, overwrite bool) error {
	doc, err := r.Load()
	if err != nil {
		return err
	}

	if existing, ok := doc[name]; ok && !overwrite && !sameProvenance(existing, entry) {
		return errors.ManifestConflict(name)
	}

	doc[name] = entry
	if err := r.write(doc); err != nil {
		return err
	}

	r.logger.Info("manifest updated",
		zap.String("name", name),
		zap.String("upstream", entry.Upstream),
		zap.Int("change_refs", len(entry.ChangeRefs)))
	return nil
}

func (r *Registry) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("staging manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing staged manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing staged manifest: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

func sameProvenance(a, b Entry) bool {
	if a.Upstream != b.Upstream || a.SourcePatch != b.SourcePatch {
		return false
	}
	if len(a.ChangeRefs) != len(b.ChangeRefs) {
		return false
	}
	for i := range a.ChangeRefs {
		if a.ChangeRefs[i] != b.ChangeRefs[i] {
			return false
		}
	}
	return true
}

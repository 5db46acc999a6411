// internal/config/changeset.go
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ChangeRef is one ordered source modification to apply. Ordinal is its
// 1-based position in the changeset and never changes once a run starts.
type ChangeRef struct {
	ID      string
	Ordinal int
}

// ChangeSet is the curated, ordered list of changes applied on top of a
// fixed base revision. It is owned by configuration and read-only during
// a run.
type ChangeSet struct {
	Name string
	Base string
	Refs []ChangeRef
}

// RefIDs returns the change identifiers in application order.
func (cs *ChangeSet) RefIDs() []string {
	ids := make([]string, len(cs.Refs))
	for i, r := range cs.Refs {
		ids[i] = r.ID
	}
	return ids
}

type changesetFile struct {
	Name    string   `yaml:"name"`
	Base    string   `yaml:"base"`
	Changes []string `yaml:"changes"`
}

// LoadChangeSet parses a changeset file. Order in the file is application
// order.
func LoadChangeSet(path string) (*ChangeSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading changeset: %w", err)
	}

	var f changesetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing changeset: %w", err)
	}

	if f.Name == "" {
		return nil, fmt.Errorf("changeset name is required")
	}
	if f.Base == "" {
		return nil, fmt.Errorf("changeset base revision is required")
	}
	if len(f.Changes) == 0 {
		return nil, fmt.Errorf("changeset has no changes")
	}

	cs := &ChangeSet{Name: f.Name, Base: f.Base}
	seen := make(map[string]bool)
	for i, id := range f.Changes {
		if id == "" {
			return nil, fmt.Errorf("changeset entry %d is empty", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("changeset entry %d duplicates %s", i+1, id)
		}
		seen[id] = true
		cs.Refs = append(cs.Refs, ChangeRef{ID: id, Ordinal: i + 1})
	}

	return cs, nil
}

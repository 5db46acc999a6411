// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DriftPolicy decides what happens when a freshly generated dist patch
// differs from the one already published under the same key.
type DriftPolicy string

const (
	DriftAbort     DriftPolicy = "abort"
	DriftOverwrite DriftPolicy = "overwrite"
)

type Config struct {
	Workspaces struct {
		Dependency string `json:"dependency"` // checkout of the upstream dependency
		Artifact   string `json:"artifact"`   // repository the dist patches are published from
	} `json:"workspaces"`

	Build struct {
		Command []string `json:"command"`
		Output  string   `json:"output"` // build output dir, relative to the dependency workspace
	} `json:"build"`

	Publish struct {
		Command []string `json:"command"`
		Remote  string   `json:"remote"`
	} `json:"publish"`

	ChangesetFile string `json:"changeset_file"`
	ManifestFile  string `json:"manifest_file"` // relative to the artifact workspace
	PatchDir      string `json:"patch_dir"`     // relative to the artifact workspace
	DataDir       string `json:"data_dir"`      // badger + snapshot content

	Fingerprint string      `json:"fingerprint"`
	OnDrift     DriftPolicy `json:"on_drift"`
	LogLevel    string      `json:"log_level"` // debug, info, warn, error
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.OnDrift == "" {
		c.OnDrift = DriftAbort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ManifestFile == "" {
		c.ManifestFile = "manifest.json"
	}
	if c.PatchDir == "" {
		c.PatchDir = "patches"
	}
	if c.DataDir == "" {
		c.DataDir = ".distpatch"
	}
}

func (c *Config) validate() error {
	if c.Workspaces.Dependency == "" {
		return fmt.Errorf("workspaces.dependency is required")
	}
	if c.Workspaces.Artifact == "" {
		return fmt.Errorf("workspaces.artifact is required")
	}
	if len(c.Build.Command) == 0 {
		return fmt.Errorf("build.command is required")
	}
	if c.Build.Output == "" {
		return fmt.Errorf("build.output is required")
	}
	if c.ChangesetFile == "" {
		return fmt.Errorf("changeset_file is required")
	}
	switch c.OnDrift {
	case DriftAbort, DriftOverwrite:
	default:
		return fmt.Errorf("on_drift must be %q or %q, got %q", DriftAbort, DriftOverwrite, c.OnDrift)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChangeset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "changeset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadChangeSet(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		path := writeChangeset(t, `
name: security-hotfix
base: v2.1.0
changes:
  - abc123
  - def456
  - 789abc
`)
		cs, err := LoadChangeSet(path)
		require.NoError(t, err)

		assert.Equal(t, "security-hotfix", cs.Name)
		assert.Equal(t, "v2.1.0", cs.Base)
		require.Len(t, cs.Refs, 3)

		// File order is application order; ordinals are 1-based.
		assert.Equal(t, ChangeRef{ID: "abc123", Ordinal: 1}, cs.Refs[0])
		assert.Equal(t, ChangeRef{ID: "def456", Ordinal: 2}, cs.Refs[1])
		assert.Equal(t, ChangeRef{ID: "789abc", Ordinal: 3}, cs.Refs[2])
		assert.Equal(t, []string{"abc123", "def456", "789abc"}, cs.RefIDs())
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadChangeSet(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("MissingName", func(t *testing.T) {
		_, err := LoadChangeSet(writeChangeset(t, "base: v1\nchanges: [a]\n"))
		assert.ErrorContains(t, err, "name is required")
	})

	t.Run("MissingBase", func(t *testing.T) {
		_, err := LoadChangeSet(writeChangeset(t, "name: fix\nchanges: [a]\n"))
		assert.ErrorContains(t, err, "base revision is required")
	})

	t.Run("NoChanges", func(t *testing.T) {
		_, err := LoadChangeSet(writeChangeset(t, "name: fix\nbase: v1\n"))
		assert.ErrorContains(t, err, "no changes")
	})

	t.Run("EmptyEntry", func(t *testing.T) {
		_, err := LoadChangeSet(writeChangeset(t, "name: fix\nbase: v1\nchanges: [a, \"\"]\n"))
		assert.ErrorContains(t, err, "entry 2 is empty")
	})

	t.Run("DuplicateEntry", func(t *testing.T) {
		_, err := LoadChangeSet(writeChangeset(t, "name: fix\nbase: v1\nchanges: [a, b, a]\n"))
		assert.ErrorContains(t, err, "duplicates a")
	})
}

func TestLoadConfig(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "distpatch.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("DefaultsApplied", func(t *testing.T) {
		cfg, err := Load(write(t, `{
			"workspaces": {"dependency": "/src/dep", "artifact": "/src/art"},
			"build": {"command": ["npm", "run", "build"], "output": "dist"},
			"changeset_file": "changeset.yaml"
		}`))
		require.NoError(t, err)

		assert.Equal(t, DriftAbort, cfg.OnDrift)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "manifest.json", cfg.ManifestFile)
		assert.Equal(t, "patches", cfg.PatchDir)
		assert.Equal(t, ".distpatch", cfg.DataDir)
	})

	t.Run("MissingWorkspace", func(t *testing.T) {
		_, err := Load(write(t, `{
			"workspaces": {"dependency": "/src/dep"},
			"build": {"command": ["make"], "output": "dist"},
			"changeset_file": "changeset.yaml"
		}`))
		assert.ErrorContains(t, err, "workspaces.artifact is required")
	})

	t.Run("MissingBuildCommand", func(t *testing.T) {
		_, err := Load(write(t, `{
			"workspaces": {"dependency": "/src/dep", "artifact": "/src/art"},
			"build": {"output": "dist"},
			"changeset_file": "changeset.yaml"
		}`))
		assert.ErrorContains(t, err, "build.command is required")
	})

	t.Run("BadDriftPolicy", func(t *testing.T) {
		_, err := Load(write(t, `{
			"workspaces": {"dependency": "/src/dep", "artifact": "/src/art"},
			"build": {"command": ["make"], "output": "dist"},
			"changeset_file": "changeset.yaml",
			"on_drift": "maybe"
		}`))
		assert.ErrorContains(t, err, "on_drift")
	})
}

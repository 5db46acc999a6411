package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"distpatch/internal/safe"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestStore(t *testing.T) *Store {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)

	s, err := safe.New(db, safe.Options{Root: t.TempDir()})
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
		db.Close()
	})
	return NewStore(s, zap.NewNop())
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func TestCapture(t *testing.T) {
	store := setupTestStore(t)

	t.Run("RecordsRegularFiles", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{
			"app.js":        "console.log('hi');\n",
			"lib/helper.js": "module.exports = {};\n",
		})

		snap, err := store.Capture(dir, "identity-1")
		require.NoError(t, err)

		assert.Equal(t, "identity-1", snap.Identity)
		require.Len(t, snap.Files, 2)
		assert.Contains(t, snap.Files, "app.js")
		assert.Contains(t, snap.Files, "lib/helper.js")
		assert.Equal(t, int64(19), snap.Files["app.js"].Size)

		content, err := store.Content(snap, "lib/helper.js")
		require.NoError(t, err)
		assert.Equal(t, "module.exports = {};\n", string(content))
	})

	t.Run("UnknownPath", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"a.txt": "a\n"})

		snap, err := store.Capture(dir, "identity-1")
		require.NoError(t, err)

		_, err = store.Content(snap, "missing.txt")
		assert.Error(t, err)
	})
}

func TestDiff(t *testing.T) {
	store := setupTestStore(t)

	capture := func(t *testing.T, identity string, files map[string]string) *TreeSnapshot {
		t.Helper()
		dir := t.TempDir()
		writeTree(t, dir, files)
		snap, err := store.Capture(dir, identity)
		require.NoError(t, err)
		return snap
	}

	t.Run("IdenticalTrees", func(t *testing.T) {
		files := map[string]string{"app.js": "same\n"}
		before := capture(t, "id", files)
		after := capture(t, "id", files)

		patch, err := store.Diff("fix+v1", "v1", before, after)
		require.NoError(t, err)
		assert.Nil(t, patch)
	})

	t.Run("ModifiedFile", func(t *testing.T) {
		before := capture(t, "id", map[string]string{"app.js": "a\nb\nc\n"})
		after := capture(t, "id", map[string]string{"app.js": "a\nx\nc\n"})

		patch, err := store.Diff("fix+v1", "v1", before, after)
		require.NoError(t, err)
		require.NotNil(t, patch)

		content := string(patch.Content)
		assert.Contains(t, content, "diff --dist a/dist/app.js b/dist/app.js\n")
		assert.Contains(t, content, "--- a/dist/app.js\n")
		assert.Contains(t, content, "+++ b/dist/app.js\n")
		assert.Contains(t, content, "-b\n")
		assert.Contains(t, content, "+x\n")

		// Hunk headers never leak the build location.
		assert.NotContains(t, content, before.Root)
		assert.NotContains(t, content, after.Root)

		assert.Equal(t, "fix+v1", patch.Name)
		assert.Equal(t, "v1", patch.Upstream)
		assert.Equal(t, "fix+v1.patch", patch.FileName())
	})

	t.Run("AddedAndRemovedFiles", func(t *testing.T) {
		before := capture(t, "id", map[string]string{"old.js": "gone\n"})
		after := capture(t, "id", map[string]string{"new.js": "here\n"})

		patch, err := store.Diff("fix+v1", "v1", before, after)
		require.NoError(t, err)
		require.NotNil(t, patch)

		content := string(patch.Content)
		assert.Contains(t, content, "--- /dev/null\n+++ b/dist/new.js\n")
		assert.Contains(t, content, "--- a/dist/old.js\n+++ /dev/null\n")
	})

	t.Run("BinaryFile", func(t *testing.T) {
		before := capture(t, "id", map[string]string{"blob.bin": "a\x00b"})
		after := capture(t, "id", map[string]string{"blob.bin": "a\x00c"})

		patch, err := store.Diff("fix+v1", "v1", before, after)
		require.NoError(t, err)
		require.NotNil(t, patch)
		assert.Contains(t, string(patch.Content),
			"Binary files a/dist/blob.bin and b/dist/blob.bin differ\n")
	})

	t.Run("MismatchedIdentities", func(t *testing.T) {
		before := capture(t, "id-one", map[string]string{"a.js": "a\n"})
		after := capture(t, "id-two", map[string]string{"a.js": "b\n"})

		_, err := store.Diff("fix+v1", "v1", before, after)
		assert.Error(t, err)
	})

	t.Run("DeterministicAcrossLocations", func(t *testing.T) {
		beforeFiles := map[string]string{
			"app.js":     "a\nb\nc\n",
			"lib/util.js": "one\ntwo\n",
		}
		afterFiles := map[string]string{
			"app.js":     "a\nx\nc\n",
			"lib/util.js": "one\ntwo\nthree\n",
		}

		first, err := store.Diff("fix+v1", "v1",
			capture(t, "id", beforeFiles), capture(t, "id", afterFiles))
		require.NoError(t, err)

		second, err := store.Diff("fix+v1", "v1",
			capture(t, "id", beforeFiles), capture(t, "id", afterFiles))
		require.NoError(t, err)

		assert.Equal(t, first.Content, second.Content)
		assert.Equal(t, first.Hash, second.Hash)
	})
}

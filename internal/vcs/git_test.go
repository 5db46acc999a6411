package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init", "-q")
	gitRun(t, dir, "config", "user.name", "vcs-test")
	gitRun(t, dir, "config", "user.email", "vcs-test@localhost")
	gitRun(t, dir, "config", "commit.gpgsign", "false")
	gitRun(t, dir, "config", "tag.gpgsign", "false")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("one\n"), 0644))
	gitRun(t, dir, "add", "-A")
	gitRun(t, dir, "commit", "-q", "-m", "init")
	return dir
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestRefExists(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	repo := NewGitRepo(initRepo(t), zap.NewNop())

	t.Run("KnownRef", func(t *testing.T) {
		exists, err := repo.RefExists(ctx, "HEAD")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("UnknownRefIsNotAnError", func(t *testing.T) {
		exists, err := repo.RefExists(ctx, "no-such-ref")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("BrokenRepositoryIsAnError", func(t *testing.T) {
		// A plain directory is not a miss, it is a failure worth
		// surfacing.
		broken := NewGitRepo(t.TempDir(), zap.NewNop())
		_, err := broken.RefExists(ctx, "HEAD")
		assert.Error(t, err)
	})
}

func TestRemoteRefs(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	dir := initRepo(t)
	remote := t.TempDir()
	gitRun(t, remote, "init", "-q", "--bare")
	gitRun(t, dir, "remote", "add", "origin", remote)

	repo := NewGitRepo(dir, zap.NewNop())
	branch, err := repo.CurrentBranch(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Tag(ctx, "dist/x", "x"))
	require.NoError(t, repo.Push(ctx, "origin", branch, "dist/x"))

	t.Run("DeleteRemote", func(t *testing.T) {
		require.NoError(t, repo.DeleteRemote(ctx, "origin", "dist/x"))
		assert.Empty(t, gitRun(t, remote, "tag", "-l", "dist/x"))
	})

	t.Run("DeleteRemoteToleratesAbsentRef", func(t *testing.T) {
		assert.NoError(t, repo.DeleteRemote(ctx, "origin", "dist/x"))
	})

	t.Run("ForcePushRestoresBranch", func(t *testing.T) {
		head, err := repo.Head(ctx)
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("two\n"), 0644))
		require.NoError(t, repo.Add(ctx, "file.txt"))
		_, err = repo.Commit(ctx, "second")
		require.NoError(t, err)
		require.NoError(t, repo.Push(ctx, "origin", branch))

		require.NoError(t, repo.ResetHard(ctx, head))
		require.NoError(t, repo.ForcePush(ctx, "origin", branch))
		assert.Equal(t, head, gitRun(t, remote, "rev-parse", branch))
	})
}

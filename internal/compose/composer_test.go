package compose

import (
	"context"
	"fmt"
	"testing"

	"distpatch/internal/config"
	"distpatch/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepo records the operations the composer performs. CherryPick fails
// on the ref named by conflict.
type fakeRepo struct {
	current  string
	branches map[string]bool
	applied  []string
	conflict string
	aborted  bool
	diff     []byte
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		current:  "main",
		branches: map[string]bool{"main": true},
		diff:     []byte("--- a/index.js\n+++ b/index.js\n"),
	}
}

func (r *fakeRepo) Root() string { return "/fake" }

func (r *fakeRepo) IsClean(ctx context.Context) (bool, error) { return true, nil }

func (r *fakeRepo) CurrentBranch(ctx context.Context) (string, error) { return r.current, nil }

func (r *fakeRepo) Head(ctx context.Context) (string, error) { return "head", nil }

func (r *fakeRepo) RefExists(ctx context.Context, ref string) (bool, error) {
	return r.branches[ref], nil
}

func (r *fakeRepo) Checkout(ctx context.Context, ref string) error {
	r.current = ref
	return nil
}

func (r *fakeRepo) CreateBranch(ctx context.Context, name, ref string) error {
	if r.branches[name] {
		return fmt.Errorf("branch %s exists", name)
	}
	r.branches[name] = true
	r.current = name
	return nil
}

func (r *fakeRepo) DeleteBranch(ctx context.Context, name string) error {
	delete(r.branches, name)
	return nil
}

func (r *fakeRepo) ResetHard(ctx context.Context, ref string) error { return nil }
func (r *fakeRepo) Clean(ctx context.Context) error                 { return nil }

func (r *fakeRepo) CherryPick(ctx context.Context, ref string) error {
	if ref == r.conflict {
		return fmt.Errorf("could not apply %s", ref)
	}
	r.applied = append(r.applied, ref)
	return nil
}

func (r *fakeRepo) AbortCherryPick(ctx context.Context) error {
	r.aborted = true
	return nil
}

func (r *fakeRepo) Add(ctx context.Context, paths ...string) error { return nil }
func (r *fakeRepo) Commit(ctx context.Context, message string) (string, error) {
	return "sha", nil
}
func (r *fakeRepo) Tag(ctx context.Context, name, message string) error { return nil }
func (r *fakeRepo) DeleteTag(ctx context.Context, name string) error    { return nil }
func (r *fakeRepo) Push(ctx context.Context, remote string, refs ...string) error {
	return nil
}

func (r *fakeRepo) ForcePush(ctx context.Context, remote string, refs ...string) error {
	return nil
}

func (r *fakeRepo) DeleteRemote(ctx context.Context, remote string, refs ...string) error {
	return nil
}

func (r *fakeRepo) DiffAgainstRef(ctx context.Context, ref string) ([]byte, error) {
	return r.diff, nil
}

func testChangeSet() *config.ChangeSet {
	return &config.ChangeSet{
		Name: "hotfix",
		Base: "v2.1.0",
		Refs: []config.ChangeRef{
			{ID: "c1", Ordinal: 1},
			{ID: "c2", Ordinal: 2},
			{ID: "c3", Ordinal: 3},
		},
	}
}

func TestCompose(t *testing.T) {
	ctx := context.Background()

	t.Run("AppliesInOrder", func(t *testing.T) {
		repo := newFakeRepo()
		composer := NewComposer(repo, zap.NewNop())

		patch, err := composer.Compose(ctx, testChangeSet(), "compose/hotfix+v2.1.0")
		require.NoError(t, err)

		assert.Equal(t, []string{"c1", "c2", "c3"}, repo.applied)
		assert.Equal(t, "hotfix", patch.Name)
		assert.Equal(t, 3, patch.Applied)
		assert.Equal(t, repo.diff, patch.Content)
		assert.True(t, repo.branches["compose/hotfix+v2.1.0"])
	})

	t.Run("ConflictStopsAtFailingChange", func(t *testing.T) {
		repo := newFakeRepo()
		repo.conflict = "c2"
		composer := NewComposer(repo, zap.NewNop())

		_, err := composer.Compose(ctx, testChangeSet(), "compose/hotfix+v2.1.0")
		require.Error(t, err)

		assert.Equal(t, errors.KindChangeConflict, errors.KindOf(err))
		assert.Contains(t, err.Error(), "change 2 (c2)")

		// Nothing past the failing change was attempted, and the work
		// branch left no trace.
		assert.Equal(t, []string{"c1"}, repo.applied)
		assert.True(t, repo.aborted)
		assert.False(t, repo.branches["compose/hotfix+v2.1.0"])
		assert.Equal(t, "v2.1.0", repo.current)
	})

	t.Run("DiscardsStaleWorkBranch", func(t *testing.T) {
		repo := newFakeRepo()
		repo.branches["compose/hotfix+v2.1.0"] = true
		composer := NewComposer(repo, zap.NewNop())

		patch, err := composer.Compose(ctx, testChangeSet(), "compose/hotfix+v2.1.0")
		require.NoError(t, err)
		assert.Equal(t, 3, patch.Applied)
	})

	t.Run("Deterministic", func(t *testing.T) {
		first := newFakeRepo()
		second := newFakeRepo()

		p1, err := NewComposer(first, zap.NewNop()).Compose(ctx, testChangeSet(), "compose/x")
		require.NoError(t, err)
		p2, err := NewComposer(second, zap.NewNop()).Compose(ctx, testChangeSet(), "compose/x")
		require.NoError(t, err)

		assert.Equal(t, p1.Content, p2.Content)
		assert.Equal(t, first.applied, second.applied)
	})
}

// internal/vcs/git.go
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// GitRepo runs git against a working tree.
type GitRepo struct {
	root   string
	logger *zap.Logger
}

func NewGitRepo(root string, logger *zap.Logger) *GitRepo {
	return &GitRepo{root: root, logger: logger}
}

func (g *GitRepo) Root() string {
	return g.root
}

func (g *GitRepo) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.root}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("running git", zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (g *GitRepo) IsClean(ctx context.Context) (bool, error) {
	out, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) == 0, nil
}

func (g *GitRepo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitRepo) Head(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitRepo) RefExists(ctx context.Context, ref string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", g.root, "rev-parse", "--verify", "--quiet", ref)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// --quiet keeps the expected miss silent: a non-zero exit with
		// nothing on stderr means the ref does not exist. Anything else
		// (broken repository, missing git) is a real failure.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(bytes.TrimSpace(stderr.Bytes())) == 0 {
			return false, nil
		}
		return false, fmt.Errorf("git rev-parse %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
	}
	return true, nil
}

func (g *GitRepo) Checkout(ctx context.Context, ref string) error {
	_, err := g.git(ctx, "checkout", ref)
	return err
}

func (g *GitRepo) CreateBranch(ctx context.Context, name, ref string) error {
	_, err := g.git(ctx, "checkout", "-b", name, ref)
	return err
}

func (g *GitRepo) DeleteBranch(ctx context.Context, name string) error {
	_, err := g.git(ctx, "branch", "-D", name)
	return err
}

func (g *GitRepo) ResetHard(ctx context.Context, ref string) error {
	_, err := g.git(ctx, "reset", "--hard", ref)
	return err
}

func (g *GitRepo) Clean(ctx context.Context) error {
	_, err := g.git(ctx, "clean", "-fdx")
	return err
}

func (g *GitRepo) CherryPick(ctx context.Context, ref string) error {
	_, err := g.git(ctx, "cherry-pick", ref)
	return err
}

func (g *GitRepo) AbortCherryPick(ctx context.Context) error {
	_, err := g.git(ctx, "cherry-pick", "--abort")
	return err
}

func (g *GitRepo) Add(ctx context.Context, paths ...string) error {
	_, err := g.git(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

func (g *GitRepo) Commit(ctx context.Context, message string) (string, error) {
	if _, err := g.git(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.Head(ctx)
}

func (g *GitRepo) Tag(ctx context.Context, name, message string) error {
	_, err := g.git(ctx, "tag", "-a", name, "-m", message)
	return err
}

func (g *GitRepo) DeleteTag(ctx context.Context, name string) error {
	_, err := g.git(ctx, "tag", "-d", name)
	return err
}

func (g *GitRepo) Push(ctx context.Context, remote string, refs ...string) error {
	_, err := g.git(ctx, append([]string{"push", remote}, refs...)...)
	return err
}

func (g *GitRepo) ForcePush(ctx context.Context, remote string, refs ...string) error {
	_, err := g.git(ctx, append([]string{"push", "--force", remote}, refs...)...)
	return err
}

// DeleteRemote removes refs from the remote. An already-absent ref is not
// an error, which keeps compensation idempotent.
func (g *GitRepo) DeleteRemote(ctx context.Context, remote string, refs ...string) error {
	_, err := g.git(ctx, append([]string{"push", remote, "--delete"}, refs...)...)
	if err != nil && strings.Contains(err.Error(), "remote ref does not exist") {
		return nil
	}
	return err
}

func (g *GitRepo) DiffAgainstRef(ctx context.Context, ref string) ([]byte, error) {
	return g.git(ctx, "diff", ref)
}

// internal/compose/composer.go
package compose

import (
	"context"
	"fmt"

	"distpatch/internal/config"
	"distpatch/internal/errors"
	"distpatch/internal/vcs"

	"go.uber.org/zap"
)

// SourcePatch is the consolidated diff of an entire changeset against its
// base revision. Immutable once generated; regenerable, never mutated.
type SourcePatch struct {
	Name    string
	Content []byte
	Applied int
}

// Composer applies an ordered changeset onto a pristine base revision.
type Composer struct {
	repo   vcs.Repo
	logger *zap.Logger
}

func NewComposer(repo vcs.Repo, logger *zap.Logger) *Composer {
	return &Composer{repo: repo, logger: logger}
}

// Compose checks out the base revision, applies every change strictly in
// order on workBranch, and emits the consolidated source patch. Any
// application failure discards the whole in-progress branch and returns
// ChangeConflict naming the failing position; no partial patch is ever
// emitted. Re-running with the same changeset and base produces
// byte-identical content.
func (c *Composer) Compose(ctx context.Context, cs *config.ChangeSet, workBranch string) (*SourcePatch, error) {
	if err := c.repo.Checkout(ctx, cs.Base); err != nil {
		return nil, fmt.Errorf("checking out base %s: %w", cs.Base, err)
	}

	// A stale work branch from an interrupted run would shadow this one.
	if exists, err := c.repo.RefExists(ctx, workBranch); err != nil {
		return nil, err
	} else if exists {
		c.logger.Warn("discarding stale work branch", zap.String("branch", workBranch))
		if err := c.repo.DeleteBranch(ctx, workBranch); err != nil {
			return nil, fmt.Errorf("deleting stale branch %s: %w", workBranch, err)
		}
	}

	if err := c.repo.CreateBranch(ctx, workBranch, cs.Base); err != nil {
		return nil, fmt.Errorf("creating work branch %s: %w", workBranch, err)
	}

	for _, ref := range cs.Refs {
		if err := c.repo.CherryPick(ctx, ref.ID); err != nil {
			c.discard(ctx, cs.Base, workBranch)
			return nil, errors.ChangeConflict(ref.Ordinal, ref.ID, err)
		}
		c.logger.Debug("applied change",
			zap.Int("ordinal", ref.Ordinal),
			zap.String("ref", ref.ID))
	}

	content, err := c.repo.DiffAgainstRef(ctx, cs.Base)
	if err != nil {
		c.discard(ctx, cs.Base, workBranch)
		return nil, fmt.Errorf("diffing against base %s: %w", cs.Base, err)
	}

	c.logger.Info("composed source patch",
		zap.String("name", cs.Name),
		zap.Int("applied", len(cs.Refs)),
		zap.Int("bytes", len(content)))

	return &SourcePatch{
		Name:    cs.Name,
		Content: content,
		Applied: len(cs.Refs),
	}, nil
}

// discard drops every trace of a failed composition. Errors here are
// logged only; the conflict that got us here is the one the caller needs.
func (c *Composer) discard(ctx context.Context, base, workBranch string) {
	if err := c.repo.AbortCherryPick(ctx); err != nil {
		c.logger.Debug("cherry-pick abort", zap.Error(err))
	}
	if err := c.repo.Checkout(ctx, base); err != nil {
		c.logger.Warn("checking out base during discard", zap.Error(err))
		return
	}
	if err := c.repo.DeleteBranch(ctx, workBranch); err != nil {
		c.logger.Warn("deleting work branch during discard", zap.Error(err))
	}
}

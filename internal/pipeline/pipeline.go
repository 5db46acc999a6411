// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"distpatch/internal/buildtool"
	"distpatch/internal/compose"
	"distpatch/internal/config"
	"distpatch/internal/errors"
	"distpatch/internal/fingerprint"
	"distpatch/internal/manifest"
	"distpatch/internal/registry"
	"distpatch/internal/runlog"
	"distpatch/internal/snapshot"
	"distpatch/internal/vcs"
	"distpatch/shared/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunConfig is the immutable per-run configuration. It is resolved once
// before the run starts and passed through the state machine; there is no
// shared process-wide state.
type RunConfig struct {
	Tag          string
	ChangeSet    *config.ChangeSet
	DryRun       bool
	FreshClone   bool
	ForceRebuild bool
	OnDrift      config.DriftPolicy
}

// Confirm is the interactive adapter for the drift overwrite decision.
// When nil, the OnDrift policy decides and the run never blocks.
type Confirm func(prompt string) bool

// Result values for a terminal run.
const (
	ResultPublished  = "published"
	ResultNoChanges  = "no-changes"
	ResultNoOp       = "no-op"
	ResultSkipped    = "skipped"
	ResultDryRun     = "dry-run"
	ResultFailed     = "failed"
	ResultRolledBack = "rolled-back"
)

// Outcome is what one pipeline run produced.
type Outcome struct {
	RunID       string
	State       State
	Result      string
	DistPatch   *snapshot.DistPatch
	Fingerprint *fingerprint.Match
	Err         error
}

// Exit reports the process exit status for this outcome. Confirmed no-ops
// and deliberate skips are not failures.
func (o *Outcome) Exit() int {
	if o.State == StateSuccess {
		return 0
	}
	return 1
}

// effects accumulates the undoable side effects of one run, in the order
// they were performed. Rollback consults it and nothing else.
type effects struct {
	workBranch         string // dependency workspace
	prevArtifactBranch string
	prevArtifactHead   string
	artifactCommit     string
	artifactTag        string
	pushed             bool
}

// Options wires a pipeline together.
type Options struct {
	Run        RunConfig
	Dep        vcs.Repo
	Art        vcs.Repo
	Builder    buildtool.Builder
	Publisher  registry.Publisher
	Snapshots  *snapshot.Store
	Verifier   *fingerprint.Verifier
	Registry   *manifest.Registry
	Comparator *manifest.Comparator
	Runs       *runlog.Store // optional
	Confirm    Confirm       // optional
	Logger     *zap.Logger

	Remote      string // artifact repo remote; empty skips the push
	PatchDir    string // relative to the artifact repo root
	ManifestRel string // relative to the artifact repo root
	Fingerprint string // empty skips the fingerprint gate
	GuardPaths  []string
}

// Pipeline drives one run through the state machine. A pipeline instance
// is single-use: it owns both workspaces for its entire lifetime and is
// not safe for concurrent runs against the same workspaces.
type Pipeline struct {
	opts   Options
	run    RunConfig
	runID  string
	logger *zap.Logger

	state   State
	effects effects

	identity    string
	patchName   string
	baselineOut string
	patchedOut  string

	source *compose.SourcePatch
	before *snapshot.TreeSnapshot
	after  *snapshot.TreeSnapshot
	dist   *snapshot.DistPatch
	match  *fingerprint.Match

	overwrite bool
	result    string
	started   time.Time
}

func New(opts Options) *Pipeline {
	runID := uuid.New().String()
	return &Pipeline{
		opts:      opts,
		run:       opts.Run,
		runID:     runID,
		logger:    opts.Logger.With(zap.String("run_id", runID)),
		state:     StateInit,
		patchName: fmt.Sprintf("%s+%s", opts.Run.ChangeSet.Name, opts.Run.Tag),
	}
}

func (p *Pipeline) workBranchName() string {
	return "compose/" + p.patchName
}

func (p *Pipeline) artifactTagName() string {
	return "dist/" + p.patchName
}

// Execute runs every state in order. It always returns an Outcome; Err is
// set on Failed and RolledBack terminations.
func (p *Pipeline) Execute(ctx context.Context) *Outcome {
	p.started = time.Now()

	if guard, err := NewGuard(p.opts.GuardPaths, p.logger); err != nil {
		p.logger.Debug("configuration guard unavailable", zap.Error(err))
	} else {
		guard.Start()
		defer guard.Close()
	}

	steps := []struct {
		state State
		fn    func(context.Context) (bool, error)
	}{
		{StateValidatingWorkspaces, p.validateWorkspaces},
		{StateComposingPatch, p.composePatch},
		{StateBuildingBaseline, p.buildBaseline},
		{StateSnapshottingBefore, p.snapshotBefore},
		{StateApplyingPatch, p.applyPatch},
		{StateBuildingPatched, p.buildPatched},
		{StateSnapshottingAfter, p.snapshotAfter},
		{StateVerifyingFingerprint, p.verifyFingerprint},
		{StateGeneratingDistPatch, p.generateDistPatch},
		{StateComparingIdempotency, p.compareIdempotency},
		{StateCommittingArtifacts, p.commitArtifacts},
		{StatePublishing, p.publish},
	}

	for _, step := range steps {
		next, err := Transition(p.state, EventAdvance)
		if err != nil {
			return p.fail(ctx, errors.Internal("advancing from %s: %v", p.state, err))
		}
		p.state = next
		p.logger.Info("entering state", zap.String("state", string(p.state)))

		done, err := step.fn(ctx)
		if err != nil {
			return p.fail(ctx, err)
		}
		if done {
			next, err := Transition(p.state, EventComplete)
			if err != nil {
				return p.fail(ctx, errors.Internal("completing from %s: %v", p.state, err))
			}
			p.state = next
			break
		}
	}

	if p.state != StateSuccess {
		next, err := Transition(p.state, EventAdvance)
		if err != nil {
			return p.fail(ctx, errors.Internal("finishing from %s: %v", p.state, err))
		}
		p.state = next
	}

	p.restoreDependency(ctx)
	if p.result == "" {
		p.result = ResultPublished
	}

	p.logger.Info("run finished",
		zap.String("result", p.result),
		zap.Duration("took", time.Since(p.started)))

	outcome := &Outcome{
		RunID:       p.runID,
		State:       p.state,
		Result:      p.result,
		DistPatch:   p.dist,
		Fingerprint: p.match,
	}
	p.record(outcome)
	return outcome
}

// fail stamps the failing state on err, compensates when side effects
// exist, and produces the terminal outcome.
func (p *Pipeline) fail(ctx context.Context, err error) *Outcome {
	err = errors.WithState(err, string(p.state))
	p.logger.Error("state failed",
		zap.String("state", string(p.state)),
		zap.Error(err))

	failState, terr := Transition(p.state, EventFail)
	if terr != nil {
		failState = StateFailed
	}

	if failState == StateRolledBack {
		p.rollback(ctx)
		p.result = ResultRolledBack
	} else {
		p.result = ResultFailed
	}
	p.restoreDependency(ctx)
	p.state = failState

	outcome := &Outcome{
		RunID:  p.runID,
		State:  p.state,
		Result: p.result,
		Err:    err,
	}
	p.record(outcome)
	return outcome
}

func (p *Pipeline) record(outcome *Outcome) {
	if p.opts.Runs == nil {
		return
	}
	rec := &runlog.Record{
		ID:       p.runID,
		Tag:      p.run.Tag,
		Patch:    p.patchName,
		State:    string(outcome.State),
		Result:   outcome.Result,
		Started:  p.started,
		Finished: time.Now(),
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	if err := p.opts.Runs.Record(rec); err != nil {
		p.logger.Warn("recording run", zap.Error(err))
	}
}

// --- states ---

func (p *Pipeline) validateWorkspaces(ctx context.Context) (bool, error) {
	dep, art := p.opts.Dep, p.opts.Art

	if p.run.FreshClone {
		p.logger.Info("restoring dependency workspace to pristine state")
		if err := dep.ResetHard(ctx, "HEAD"); err != nil {
			return false, err
		}
		if err := dep.Clean(ctx); err != nil {
			return false, err
		}
	}

	for _, repo := range []vcs.Repo{dep, art} {
		clean, err := repo.IsClean(ctx)
		if err != nil {
			return false, err
		}
		if !clean {
			return false, errors.DirtyWorkspace(repo.Root())
		}
	}

	if exists, err := dep.RefExists(ctx, p.run.Tag); err != nil {
		return false, err
	} else if !exists {
		return false, errors.Internal("upstream tag %s not found in dependency workspace", p.run.Tag)
	}

	// A pre-existing artifact tag that the manifest does not account for
	// means someone else published this version; refusing here protects it
	// from a silent overwrite. The tag from our own previous publish is
	// fine: the idempotency gate decides whether anything may change.
	_, known, err := p.opts.Registry.Get(p.patchName)
	if err != nil {
		return false, err
	}
	if !known {
		if exists, err := art.RefExists(ctx, p.artifactTagName()); err != nil {
			return false, err
		} else if exists {
			return false, errors.ArtifactExists(p.artifactTagName())
		}
	}

	p.identity = utils.BuildIdentity(p.run.Tag, buildCommandOf(p.opts.Builder))
	return false, nil
}

func (p *Pipeline) composePatch(ctx context.Context) (bool, error) {
	composer := compose.NewComposer(p.opts.Dep, p.logger)
	source, err := composer.Compose(ctx, p.run.ChangeSet, p.workBranchName())
	if err != nil {
		return false, err
	}
	p.source = source
	p.effects.workBranch = p.workBranchName()
	return false, nil
}

func (p *Pipeline) buildBaseline(ctx context.Context) (bool, error) {
	if err := p.opts.Dep.Checkout(ctx, p.run.Tag); err != nil {
		return false, err
	}
	out, err := p.opts.Builder.Build(ctx, p.opts.Dep.Root(), p.run.ForceRebuild)
	if err != nil {
		return false, err
	}
	p.baselineOut = out
	return false, nil
}

func (p *Pipeline) snapshotBefore(ctx context.Context) (bool, error) {
	snap, err := p.opts.Snapshots.Capture(p.baselineOut, p.identity)
	if err != nil {
		return false, err
	}
	p.before = snap
	return false, nil
}

func (p *Pipeline) applyPatch(ctx context.Context) (bool, error) {
	return false, p.opts.Dep.Checkout(ctx, p.workBranchName())
}

func (p *Pipeline) buildPatched(ctx context.Context) (bool, error) {
	out, err := p.opts.Builder.Build(ctx, p.opts.Dep.Root(), p.run.ForceRebuild)
	if err != nil {
		return false, err
	}
	p.patchedOut = out
	return false, nil
}

func (p *Pipeline) snapshotAfter(ctx context.Context) (bool, error) {
	snap, err := p.opts.Snapshots.Capture(p.patchedOut, p.identity)
	if err != nil {
		return false, err
	}
	p.after = snap
	return false, nil
}

func (p *Pipeline) verifyFingerprint(ctx context.Context) (bool, error) {
	if p.opts.Fingerprint == "" {
		p.logger.Info("no fingerprint configured, skipping verification")
		return false, nil
	}
	match, err := p.opts.Verifier.Verify(p.after, p.opts.Fingerprint)
	if err != nil {
		return false, err
	}
	p.match = match
	return false, nil
}

func (p *Pipeline) generateDistPatch(ctx context.Context) (bool, error) {
	dist, err := p.opts.Snapshots.Diff(p.patchName, p.run.Tag, p.before, p.after)
	if err != nil {
		return false, err
	}
	if dist == nil {
		p.logger.Info("build outputs are identical, nothing to publish")
		p.result = ResultNoChanges
		return true, nil
	}
	p.dist = dist
	return false, nil
}

func (p *Pipeline) compareIdempotency(ctx context.Context) (bool, error) {
	result, storedHash, err := p.opts.Comparator.Compare(p.dist)
	if err != nil {
		return false, err
	}

	switch result {
	case manifest.ResultNew:
		return false, nil
	case manifest.ResultIdentical:
		p.logger.Info("artifact already published with identical content")
		p.result = ResultNoOp
		return true, nil
	case manifest.ResultDrift:
		drift := errors.PatchDrift(p.dist.Name, storedHash, p.dist.Hash)
		if !p.confirmOverwrite(drift.Message) {
			p.logger.Warn("overwrite declined, aborting without error",
				zap.String("patch", p.dist.Name))
			p.result = ResultSkipped
			return true, nil
		}
		p.logger.Warn("overwrite confirmed", zap.String("patch", p.dist.Name))
		p.overwrite = true
		return false, nil
	}
	return false, errors.Internal("unexpected comparison result %d", result)
}

func (p *Pipeline) confirmOverwrite(prompt string) bool {
	if p.opts.Confirm != nil {
		return p.opts.Confirm(prompt)
	}
	return p.run.OnDrift == config.DriftOverwrite
}

func (p *Pipeline) commitArtifacts(ctx context.Context) (bool, error) {
	if p.run.DryRun {
		p.logger.Info("dry-run: skipping commit, tag, and publish",
			zap.String("patch", p.dist.Name),
			zap.String("hash", utils.ShortHash(p.dist.Hash)))
		p.result = ResultDryRun
		return true, nil
	}

	art := p.opts.Art

	prevBranch, err := art.CurrentBranch(ctx)
	if err != nil {
		return false, err
	}
	prevHead, err := art.Head(ctx)
	if err != nil {
		return false, err
	}
	p.effects.prevArtifactBranch = prevBranch
	p.effects.prevArtifactHead = prevHead

	// Artifacts are committed on the checked-out branch: the manifest and
	// patch files must be in the working tree for the next run's
	// validation and idempotency comparison to see them.
	//
	// An authorized overwrite replaces the previous run's tag; the new
	// commit supersedes the old files on the same branch.
	if p.overwrite {
		if exists, err := art.RefExists(ctx, p.artifactTagName()); err != nil {
			return false, err
		} else if exists {
			if err := art.DeleteTag(ctx, p.artifactTagName()); err != nil {
				return false, err
			}
		}
	}

	patchDir := filepath.Join(art.Root(), p.opts.PatchDir)
	if err := os.MkdirAll(patchDir, 0755); err != nil {
		return false, fmt.Errorf("creating patch directory: %w", err)
	}

	distRel := filepath.Join(p.opts.PatchDir, p.dist.FileName())
	if err := os.WriteFile(filepath.Join(art.Root(), distRel), p.dist.Content, 0644); err != nil {
		return false, fmt.Errorf("writing dist patch: %w", err)
	}

	sourceRel := filepath.Join(p.opts.PatchDir, p.source.Name+".source.patch")
	if err := os.WriteFile(filepath.Join(art.Root(), sourceRel), p.source.Content, 0644); err != nil {
		return false, fmt.Errorf("writing source patch: %w", err)
	}

	entry := manifest.Entry{
		Upstream:    p.run.Tag,
		SourcePatch: p.source.Name,
		ChangeRefs:  p.run.ChangeSet.RefIDs(),
		Created:     time.Now().UTC(),
	}
	if err := p.opts.Registry.Put(p.dist.Name, entry, p.overwrite); err != nil {
		return false, err
	}

	if err := art.Add(ctx, distRel, sourceRel, p.opts.ManifestRel); err != nil {
		return false, err
	}
	commit, err := art.Commit(ctx, fmt.Sprintf("dist patch %s (%d changes on %s)",
		p.dist.Name, p.source.Applied, p.run.Tag))
	if err != nil {
		return false, err
	}
	p.effects.artifactCommit = commit

	if err := art.Tag(ctx, p.artifactTagName(), fmt.Sprintf("dist patch for %s", p.run.Tag)); err != nil {
		return false, err
	}
	p.effects.artifactTag = p.artifactTagName()

	return false, nil
}

func (p *Pipeline) publish(ctx context.Context) (bool, error) {
	art := p.opts.Art

	if p.opts.Remote != "" {
		if p.overwrite {
			// The remote still carries the superseded tag and would
			// reject the replacement.
			if err := art.DeleteRemote(ctx, p.opts.Remote, p.effects.artifactTag); err != nil {
				return false, errors.PublishFailure(err)
			}
		}

		// Marked before the attempt: a failed push may still have
		// updated some refs, and rollback tolerates absent ones.
		p.effects.pushed = true
		if err := art.Push(ctx, p.opts.Remote, p.effects.prevArtifactBranch, p.effects.artifactTag); err != nil {
			return false, errors.PublishFailure(err)
		}
	}

	if err := p.opts.Publisher.Publish(ctx, p.dist.Name, art.Root()); err != nil {
		return false, err
	}
	return false, nil
}

// --- compensation ---

// rollback undoes every side effect performed at or after
// CommittingArtifacts. It is idempotent: each undo checks whether its
// effect still exists before acting, or tolerates its absence.
func (p *Pipeline) rollback(ctx context.Context) {
	p.logger.Warn("rolling back")
	art := p.opts.Art

	if p.effects.artifactTag != "" {
		if exists, err := art.RefExists(ctx, p.effects.artifactTag); err == nil && exists {
			if err := art.DeleteTag(ctx, p.effects.artifactTag); err != nil {
				p.logger.Error("deleting artifact tag", zap.Error(err))
			}
		}
	}

	// Discards the artifact commit and any staged or written patch files.
	if p.effects.prevArtifactHead != "" {
		if err := art.ResetHard(ctx, p.effects.prevArtifactHead); err != nil {
			p.logger.Error("resetting artifact repository", zap.Error(err))
		}
	}
	if err := art.Clean(ctx); err != nil {
		p.logger.Error("cleaning artifact repository", zap.Error(err))
	}

	// Refs that already reached the remote: drop the tag and move the
	// branch back to its pre-run head.
	if p.effects.pushed {
		if err := art.DeleteRemote(ctx, p.opts.Remote, p.effects.artifactTag); err != nil {
			p.logger.Error("deleting remote artifact tag", zap.Error(err))
		}
		if err := art.ForcePush(ctx, p.opts.Remote, p.effects.prevArtifactBranch); err != nil {
			p.logger.Error("restoring remote branch", zap.Error(err))
		}
	}
}

// restoreDependency returns the dependency workspace to the pristine
// upstream state it had before the run and drops the work branch. Safe to
// call on every terminal path.
func (p *Pipeline) restoreDependency(ctx context.Context) {
	if p.effects.workBranch == "" {
		return
	}
	dep := p.opts.Dep

	if err := dep.Checkout(ctx, p.run.Tag); err != nil {
		p.logger.Warn("restoring dependency workspace", zap.Error(err))
		return
	}
	if exists, err := dep.RefExists(ctx, p.effects.workBranch); err == nil && exists {
		if err := dep.DeleteBranch(ctx, p.effects.workBranch); err != nil {
			p.logger.Warn("deleting work branch", zap.Error(err))
		}
	}
	p.effects.workBranch = ""
}

// buildCommandOf recovers the configured command for identity hashing.
// Test builders fall back to their type name, which is stable too.
func buildCommandOf(b buildtool.Builder) []string {
	type commander interface{ Command() []string }
	if c, ok := b.(commander); ok {
		return c.Command()
	}
	return []string{fmt.Sprintf("%T", b)}
}

// internal/buildtool/build.go
package buildtool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"distpatch/internal/errors"

	"go.uber.org/zap"
)

// Builder produces a build-output tree from a workspace. Build failures
// surface as BuildFailure and no snapshot is ever taken from them.
type Builder interface {
	Build(ctx context.Context, workspace string, clean bool) (string, error)
}

// CommandBuilder shells out to the dependency's own build tool.
type CommandBuilder struct {
	command []string
	output  string // output dir, relative to the workspace
	logger  *zap.Logger
}

func NewCommandBuilder(command []string, output string, logger *zap.Logger) (*CommandBuilder, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("build command is required")
	}
	return &CommandBuilder{command: command, output: output, logger: logger}, nil
}

// Command exposes the configured command line. The pipeline folds it into
// the build identity that gates snapshot comparability.
func (b *CommandBuilder) Command() []string {
	return b.command
}

// Build runs the configured command in workspace and returns the absolute
// output path. With clean set, the build cache is bypassed by removing the
// output tree first; the command itself is expected to recreate it.
func (b *CommandBuilder) Build(ctx context.Context, workspace string, clean bool) (string, error) {
	outDir := filepath.Join(workspace, b.output)

	args := b.command[1:]
	if clean {
		args = append(append([]string(nil), args...), "--force")
	}

	cmd := exec.CommandContext(ctx, b.command[0], args...)
	cmd.Dir = workspace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	b.logger.Info("building",
		zap.String("workspace", workspace),
		zap.String("command", strings.Join(b.command, " ")),
		zap.Bool("clean", clean))

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return "", errors.BuildFailure(fmt.Errorf("%s: %w: %s",
			b.command[0], err, strings.TrimSpace(stderr.String())))
	}

	b.logger.Info("build finished",
		zap.String("output", outDir),
		zap.Duration("took", time.Since(start)))

	return outDir, nil
}

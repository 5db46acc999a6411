// internal/registry/registry.go
package registry

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"distpatch/internal/errors"

	"go.uber.org/zap"
)

// Publisher pushes a finished artifact to the package registry. Publishing
// is non-idempotent and side-effecting; a failure after a partial publish
// is assumed possible, so any error here triggers full rollback upstream.
type Publisher interface {
	Publish(ctx context.Context, name, dir string) error
}

// CommandPublisher shells out to the registry's own client tool.
type CommandPublisher struct {
	command []string
	logger  *zap.Logger
}

func NewCommandPublisher(command []string, logger *zap.Logger) *CommandPublisher {
	return &CommandPublisher{command: command, logger: logger}
}

func (p *CommandPublisher) Publish(ctx context.Context, name, dir string) error {
	if len(p.command) == 0 {
		p.logger.Info("no publish command configured, skipping registry publish",
			zap.String("artifact", name))
		return nil
	}

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Info("publishing artifact",
		zap.String("artifact", name),
		zap.String("command", strings.Join(p.command, " ")))

	if err := cmd.Run(); err != nil {
		return errors.PublishFailure(fmt.Errorf("%s: %w: %s",
			p.command[0], err, strings.TrimSpace(stderr.String())))
	}
	return nil
}

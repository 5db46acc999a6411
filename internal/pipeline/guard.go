// internal/pipeline/guard.go
package pipeline

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Guard watches the run's configuration inputs (changeset file, run
// config) for the duration of a run. The changeset is read-only once a run
// starts; a mutation mid-run cannot be honored and breaks
// reproducibility, so the guard makes it loudly visible. Advisory only:
// it never stops the run.
type Guard struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	done    chan struct{}
}

func NewGuard(paths []string, logger *zap.Logger) (*Guard, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("nothing to guard")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
	}

	return &Guard{
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

func (g *Guard) Start() {
	go func() {
		for {
			select {
			case event, ok := <-g.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					g.logger.Warn("run configuration modified during run; this run's inputs are already fixed",
						zap.String("path", event.Name),
						zap.String("op", event.Op.String()))
				}
			case err, ok := <-g.watcher.Errors:
				if !ok {
					return
				}
				g.logger.Debug("configuration guard", zap.Error(err))
			case <-g.done:
				return
			}
		}
	}()
}

func (g *Guard) Close() {
	close(g.done)
	g.watcher.Close()
}

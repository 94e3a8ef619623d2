package stage

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// progressWatcher tails a stage's output directory while the engine runs and
// logs each result file as it appears. It is strictly an observer: watcher
// failures never fail the stage.
type progressWatcher struct {
	dir    string
	suffix string
	log    *zap.Logger

	watcher *fsnotify.Watcher
	seen    map[string]bool
}

func newProgressWatcher(dir, suffix string, log *zap.Logger) (*progressWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return &progressWatcher{
		dir:     dir,
		suffix:  suffix,
		log:     log,
		watcher: watcher,
		seen:    map[string]bool{},
	}, nil
}

// run consumes events until the context is cancelled. It returns the number
// of distinct result files observed.
func (w *progressWatcher) run(ctx context.Context) int {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return len(w.seen)
		case event, ok := <-w.watcher.Events:
			if !ok {
				return len(w.seen)
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, w.suffix) || w.seen[event.Name] {
				continue
			}
			w.seen[event.Name] = true
			w.log.Info("result file written",
				zap.String("file", event.Name),
				zap.Int("count", len(w.seen)),
			)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return len(w.seen)
			}
			w.log.Warn("progress watcher error", zap.Error(err))
		}
	}
}

package glopsupervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/glop/glop/pkg/logger"
)

// glopExt is the source file extension watch.go reacts to; any other
// file in the watched directory is ignored.
const glopExt = ".glop"

// Watcher reloads an agent whenever its backing .glop file changes on
// disk, giving the Add/Remove control-socket surface an edit-and-see
// workflow. A file's base name, minus extension, is its agent name.
type Watcher struct {
	sup   *Supervisor
	fsw   *fsnotify.Watcher
	delay time.Duration
}

// NewWatcher opens an fsnotify watch on dir and wires it to sup: every
// debounced write to, or creation of, a *.glop file re-parses that file
// and calls sup.Add with its base name. Non-.glop files and events other
// than write and create are ignored.
func NewWatcher(sup *Supervisor, dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{sup: sup, fsw: fsw, delay: 300 * time.Millisecond}, nil
}

// Close stops the underlying fsnotify watch.
func (w *Watcher) Close() error { return w.fsw.Close() }

// Run drives the watch loop until ctx is cancelled or the underlying
// fsnotify channels close. Rapid successive writes to the same file
// (editors that write in multiple syscalls) are coalesced with a
// per-file debounce timer.
func (w *Watcher) Run(ctx context.Context) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Ext(event.Name) != glopExt {
				continue
			}

			path := event.Name
			if t, pending := timers[path]; pending {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.delay, func() {
				w.reload(ctx, path)
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("glopsupervisor: watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("glopsupervisor: reload read failed",
			logger.FieldComponent, "watch",
			logger.FieldError, err,
		)
		return
	}

	name := strings.TrimSuffix(filepath.Base(path), glopExt)
	if err := w.sup.Add(ctx, name, string(src)); err != nil {
		logger.Warn("glopsupervisor: reload failed",
			logger.FieldAgentName, name,
			logger.FieldError, err,
		)
		return
	}
	logger.Info("glopsupervisor: agent reloaded from disk", logger.FieldAgentName, name)
}

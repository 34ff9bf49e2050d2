package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"marcus/internal/logging"
)

// Watcher reloads configuration when the file changes. Only the logging
// level is applied live; everything else requires a restart, so the
// reloaded config is handed to the callback for inspection.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	onChange func(*Config)
	done     chan struct{}
}

// Watch starts watching path. onChange may be nil.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files rather than writing in place.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, fsw: fsw, onChange: onChange, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logging.Get(logging.CategoryBoot).Warnf("config reload failed: %v", err)
				continue
			}
			logging.Boot("config reloaded from %s", w.path)
			logging.SetLevelText(cfg.Logging.Level)
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Warnf("config watcher error: %v", err)
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

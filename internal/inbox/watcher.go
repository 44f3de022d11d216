// Package inbox watches a drop directory and emits paths of documents to
// process. New subdirectories are picked up as they appear, and rapid write
// bursts for the same file are coalesced before emitting.
package inbox

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Extensions the pipeline can handle, lowercase with the dot.
var defaultExts = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".tiff": true, ".bmp": true,
}

type WatchConfig struct {
	Root        string
	AllowedExts map[string]bool
	InitialScan bool          // emit files already sitting in the inbox
	Debounce    time.Duration // settle time after the last write event
}

// Watch streams document paths from the inbox until ctx is cancelled.
func Watch(ctx context.Context, cfg WatchConfig, log *zap.Logger) (<-chan string, error) {
	if cfg.Root == "" {
		return nil, errors.New("no inbox directory provided")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = defaultExts
	}
	if log == nil {
		log = zap.NewNop()
	}

	events := make(chan string, 256)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	var initial []string
	err = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if cfg.InitialScan && allowed(path, cfg.AllowedExts) {
			initial = append(initial, path)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	go func() {
		defer close(events)
		defer w.Close()

		for _, path := range initial {
			select {
			case events <- path:
			case <-ctx.Done():
				return
			}
		}

		var mu sync.Mutex
		pending := map[string]*time.Timer{}

		emit := func(path string) {
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			select {
			case events <- path:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op.Has(fsnotify.Create) {
					// New directories join the watch; Add on a file fails
					// harmlessly.
					_ = w.Add(e.Name)
				}
				if !allowed(e.Name, cfg.AllowedExts) {
					continue
				}
				if !e.Op.Has(fsnotify.Create) && !e.Op.Has(fsnotify.Write) && !e.Op.Has(fsnotify.Rename) {
					continue
				}
				if cfg.Debounce <= 0 {
					emit(e.Name)
					continue
				}
				path := e.Name
				mu.Lock()
				if timer, exists := pending[path]; exists {
					timer.Reset(cfg.Debounce)
				} else {
					pending[path] = time.AfterFunc(cfg.Debounce, func() { emit(path) })
				}
				mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("inbox watcher error", zap.Error(err))
			}
		}
	}()

	return events, nil
}

func allowed(path string, exts map[string]bool) bool {
	return exts[strings.ToLower(filepath.Ext(path))]
}

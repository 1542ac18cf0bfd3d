package activity

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSource signals activity whenever the configured touch-file is
// written. The watch is placed on the parent directory so the file may
// not exist yet when the agent starts.
type FileSource struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Start(ctx context.Context, touch func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	f.watcher = watcher
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})

	go f.run(ctx, watcher, touch)
	return nil
}

func (f *FileSource) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	cancel := f.cancel
	watcher := f.watcher
	done := f.done
	f.watcher = nil
	f.mu.Unlock()

	cancel()
	watcher.Close()
	<-done
}

func (f *FileSource) run(ctx context.Context, watcher *fsnotify.Watcher, touch func()) {
	defer close(f.done)

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) != 0 {
				touch()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[activity] watch error: %v", err)
		}
	}
}

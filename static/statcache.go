package static

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"go-php-runner/logging"
)

// StatCache remembers file metadata between requests. Only successful
// lookups are cached; a missing file is looked up again every time.
type StatCache struct {
	mu      sync.RWMutex
	entries map[string]os.FileInfo
}

func NewStatCache() *StatCache {
	return &StatCache{entries: make(map[string]os.FileInfo)}
}

// Stat returns the cached metadata for name, or stats it.
func (c *StatCache) Stat(name string) (os.FileInfo, error) {
	c.mu.RLock()
	info, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[name] = info
	c.mu.Unlock()
	return info, nil
}

// Clear drops every cached entry.
func (c *StatCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]os.FileInfo)
	c.mu.Unlock()
}

// Forget drops the entry for name.
func (c *StatCache) Forget(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// Len is the number of cached entries.
func (c *StatCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Watch invalidates entries under root as files change on disk, until ctx
// is done. Directories created later are watched too.
func (c *StatCache) Watch(ctx context.Context, root string, logger *slog.Logger) error {
	logger = logging.OrNop(logger).With("component", "statcache")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.Forget(ev.Name)
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := watcher.Add(ev.Name); err != nil {
							logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
						}
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watch error", "error", err)
			}
		}
	}()

	logger.Debug("watching document root", "root", root)
	return nil
}

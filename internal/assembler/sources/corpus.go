// Package sources provides the context sources used by the assembler:
// conversation history from the session projection, workspace files, and
// semantic search over workspace chunks.
package sources

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/nexuscore/internal/config"
)

const defaultMaxFileBytes = 256 << 10

// Document is one workspace file.
type Document struct {
	Path    string
	Content string
}

// Corpus is a lazily scanned, cached view of the workspace files. The cache
// is dropped whenever the watcher reports a change.
type Corpus struct {
	root     string
	include  []string
	maxBytes int64
	logger   *slog.Logger

	mu      sync.RWMutex
	docs    []Document
	loaded  bool
	version uint64

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewCorpus returns a corpus over cfg.Root. Include patterns are matched
// against the slash-separated relative path and the base name; an empty
// list includes every text file.
func NewCorpus(cfg config.WorkspaceConfig, logger *slog.Logger) *Corpus {
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	return &Corpus{
		root:     root,
		include:  append([]string(nil), cfg.Include...),
		maxBytes: maxBytes,
		logger:   logger.With("component", "workspace-corpus"),
	}
}

// Documents returns the current documents and the cache version they
// belong to. The version changes each time the corpus is rescanned.
func (c *Corpus) Documents(ctx context.Context) ([]Document, uint64, error) {
	c.mu.RLock()
	if c.loaded {
		docs, version := c.docs, c.version
		c.mu.RUnlock()
		return docs, version, nil
	}
	c.mu.RUnlock()

	docs, err := c.scan(ctx)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = docs
	c.loaded = true
	c.version++
	return c.docs, c.version, nil
}

// Invalidate forces a rescan on the next read.
func (c *Corpus) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

func (c *Corpus) scan(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != c.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !c.matches(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() > c.maxBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Debug("skipping unreadable file", "path", rel, "error", err)
			return nil
		}
		if !utf8.Valid(data) {
			return nil
		}
		docs = append(docs, Document{Path: rel, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *Corpus) matches(rel string) bool {
	if len(c.include) == 0 {
		return true
	}
	base := filepath.Base(rel)
	for _, pattern := range c.include {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Watch starts an fsnotify watcher that invalidates the cache on any file
// change under the root. Calling Watch twice is a no-op.
func (c *Corpus) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != c.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			c.logger.Debug("failed to watch workspace path", "path", path, "error", addErr)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.watcher = watcher
	c.watchCancel = cancel
	c.watchWg.Add(1)
	go c.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if any.
func (c *Corpus) Close() error {
	c.watchMu.Lock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	watcher := c.watcher
	c.watcher = nil
	c.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	c.watchWg.Wait()
	return err
}

func (c *Corpus) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer c.watchWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			c.logger.Debug("workspace changed", "path", event.Name, "op", event.Op.String())
			c.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("workspace watch error", "error", err)
		}
	}
}

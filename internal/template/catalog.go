package template

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/planpath/planpath/internal/task"
)

// Template is a canonical success-factor definition. Every project gets one
// clone per template at seeding time; the clones share the template ID as
// their sourceId.
type Template struct {
	ID       string     `yaml:"id"`
	Text     string     `yaml:"text"`
	Stage    task.Stage `yaml:"stage"`
	Priority string     `yaml:"priority,omitempty"`
}

// Catalog holds the template definitions loaded from a local directory of
// YAML files. Watch keeps it current when the files change on disk.
type Catalog struct {
	dir string

	mu        sync.RWMutex
	templates []Template
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Load reads every *.yaml file in the catalog directory. A missing directory
// yields an empty catalog, not an error.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.templates = nil
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read template directory %s: %w", c.dir, err)
	}

	var loaded []Template
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", entry.Name(), err)
		}
		var templates []Template
		if err := yaml.Unmarshal(data, &templates); err != nil {
			return fmt.Errorf("failed to parse template file %s: %w", entry.Name(), err)
		}
		for _, tpl := range templates {
			if tpl.ID == "" || tpl.Text == "" {
				slog.Warn("skipping template without id or text", "file", entry.Name())
				continue
			}
			if tpl.Stage == "" {
				tpl.Stage = task.StageIdentification
			}
			loaded = append(loaded, tpl)
		}
	}

	c.mu.Lock()
	c.templates = loaded
	c.mu.Unlock()
	return nil
}

// Templates returns the current template set.
func (c *Catalog) Templates() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// Watch reloads the catalog whenever the directory changes. It blocks until
// ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch template directory %s: %w", c.dir, err)
	}

	slog.Info("template catalog watcher started", "dir", c.dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if err := c.Load(); err != nil {
				slog.Error("failed to reload template catalog", "error", err)
				continue
			}
			slog.Info("template catalog reloaded", "trigger", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("template watcher error", "error", err)
		}
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/chunkflow/chunkflow/pkg/models"
)

// registryFile is the on-disk shape of a worker registry.
type registryFile struct {
	Workers []*models.Worker `yaml:"workers"`
}

// LoadWorkers parses a worker registry YAML file.
func LoadWorkers(path string) ([]*models.Worker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse worker registry: %w", err)
	}
	if len(file.Workers) == 0 {
		return nil, fmt.Errorf("worker registry %s defines no workers", path)
	}

	for _, w := range file.Workers {
		if w.ID == "" {
			return nil, fmt.Errorf("worker registry %s contains a worker without an id", path)
		}
		if w.Capacity <= 0 {
			w.Capacity = 1
		}
		w.Health = models.WorkerHealthy
	}
	return file.Workers, nil
}

// Registry keeps a pool synchronized with a worker registry file,
// reloading it when the file changes on disk.
type Registry struct {
	path    string
	pool    *Pool
	watcher *fsnotify.Watcher
	// invokerFor builds the invoker for a (re)loaded worker descriptor.
	invokerFor func(*models.Worker) Invoker
	done       chan struct{}
}

// NewRegistry loads the registry file into the pool and returns a Registry
// ready to watch for changes.
func NewRegistry(path string, pool *Pool, invokerFor func(*models.Worker) Invoker) (*Registry, error) {
	workers, err := LoadWorkers(path)
	if err != nil {
		return nil, err
	}
	if err := pool.Sync(workers, invokerFor); err != nil {
		return nil, fmt.Errorf("sync worker pool: %w", err)
	}

	return &Registry{
		path:       path,
		pool:       pool,
		invokerFor: invokerFor,
		done:       make(chan struct{}),
	}, nil
}

// Watch reloads the registry whenever the file is written. It returns
// after the watcher is installed; reloads happen on a background goroutine
// until Close is called.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors commonly replace the file on save,
	// which drops a watch installed on the file itself.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				r.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[registry] watch error: %v", err)
			}
		}
	}()
	return nil
}

// reload re-reads the registry file and reconciles the pool.
// A malformed file leaves the current pool untouched.
func (r *Registry) reload() {
	workers, err := LoadWorkers(r.path)
	if err != nil {
		log.Printf("[registry] reload skipped: %v", err)
		return
	}
	if err := r.pool.Sync(workers, r.invokerFor); err != nil {
		log.Printf("[registry] reload failed: %v", err)
		return
	}
	log.Printf("[registry] reloaded %d workers from %s", len(workers), r.path)
}

// Close stops watching the registry file.
func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// CommandInvokerFactory returns the standard invoker factory: workers with
// a command get a subprocess invoker, others a rejecting placeholder.
func CommandInvokerFactory(w *models.Worker) Invoker {
	if w.Command != "" {
		return NewCommandInvoker(w.ID, w.Command, nil)
	}
	return InvokerFunc(func(ctx context.Context, chunk *models.Chunk) (*models.ChunkResult, error) {
		return nil, fmt.Errorf("worker %s has no invoker configured", w.ID)
	})
}

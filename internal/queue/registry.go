package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Definition declares a named queue and how its jobs are processed
type Definition struct {
	Name        string
	Concurrency int
	Processor   Processor
}

// Factory opens the backend for a queue name
type Factory func(name string) (Queue, error)

// MemoryFactory opens in-memory queues
func MemoryFactory() Factory {
	return func(name string) (Queue, error) {
		return NewMemoryQueue(name), nil
	}
}

// RedisFactory opens queues on a shared Redis client
func RedisFactory(client redis.UniversalClient, config *Config) Factory {
	return func(name string) (Queue, error) {
		return NewRedisQueue(client, name, config)
	}
}

// Summary describes one queue for listings
type Summary struct {
	Name   string `json:"name"`
	Counts Counts `json:"counts"`
	Paused bool   `json:"isPaused"`
}

// Registry is the fixed set of named queues of the application
type Registry struct {
	config  *Config
	defs    []Definition
	queues  map[string]Queue
	mu      sync.Mutex
	workers []*Worker
}

// NewRegistry opens one queue per definition. Names must be unique.
func NewRegistry(factory Factory, config *Config, defs ...Definition) (*Registry, error) {
	if config == nil {
		config = DefaultConfig()
	}
	r := &Registry{
		config: config,
		defs:   defs,
		queues: make(map[string]Queue, len(defs)),
	}
	for _, def := range defs {
		if def.Name == "" {
			r.Close()
			return nil, fmt.Errorf("queue name is required")
		}
		if _, dup := r.queues[def.Name]; dup {
			r.Close()
			return nil, fmt.Errorf("duplicate queue %q", def.Name)
		}
		q, err := factory(def.Name)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to open queue %q: %w", def.Name, err)
		}
		r.queues[def.Name] = q
	}
	return r, nil
}

// Get returns a queue by name
func (r *Registry) Get(name string) (Queue, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrQueueNotFound, name)
	}
	return q, nil
}

// All returns the queues in declaration order
func (r *Registry) All() []Queue {
	all := make([]Queue, 0, len(r.defs))
	for _, def := range r.defs {
		all = append(all, r.queues[def.Name])
	}
	return all
}

// Summaries returns counts for every queue, fetched concurrently
func (r *Registry) Summaries(ctx context.Context) ([]Summary, error) {
	queues := r.All()
	summaries := make([]Summary, len(queues))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queues {
		g.Go(func() error {
			counts, err := q.Counts(gctx)
			if err != nil {
				return fmt.Errorf("queue %s: %w", q.Name(), err)
			}
			paused, err := q.IsPaused(gctx)
			if err != nil {
				return fmt.Errorf("queue %s: %w", q.Name(), err)
			}
			summaries[i] = Summary{Name: q.Name(), Counts: counts, Paused: paused}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// StartWorkers starts one worker per definition that has a processor
func (r *Registry) StartWorkers(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.workers) > 0 {
		return
	}
	for _, def := range r.defs {
		if def.Processor == nil {
			continue
		}
		w := NewWorker(r.queues[def.Name], def.Processor, def.Concurrency, r.config)
		w.Start(ctx)
		r.workers = append(r.workers, w)
	}
}

// Workers returns the running workers
func (r *Registry) Workers() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Worker(nil), r.workers...)
}

// StopWorkers stops all workers, waiting for in-flight jobs until ctx expires
func (r *Registry) StopWorkers(ctx context.Context) error {
	r.mu.Lock()
	workers := r.workers
	r.workers = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = w.Stop(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes every queue. Workers should be stopped first.
func (r *Registry) Close() error {
	var errs []error
	for _, q := range r.queues {
		if err := q.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Package taskgroup runs independent units of work concurrently and reports
// every failure instead of aborting on the first one. It exists because
// fail-fast groups let one broken task mask the outcome of its siblings,
// which is exactly wrong at the batch-upload boundary.
package taskgroup

import (
	"fmt"
	"sync"
)

// Group collects tasks via Go and runs them all on Wait.
type Group struct {
	mu    sync.Mutex
	tasks []func() error
}

func New() *Group {
	return &Group{}
}

// Go queues a unit of work. Safe for concurrent use.
func (g *Group) Go(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks = append(g.tasks, fn)
}

// Wait runs every queued task concurrently and returns the full list of
// failures, possibly empty. All tasks run to completion regardless of how
// many fail.
func (g *Group) Wait() []error {
	results := g.run()

	var errs []error
	for _, err := range results {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// WaitWithResults runs every queued task and returns failures keyed by the
// position the task was queued at, preserving correspondence for batch
// operations.
func (g *Group) WaitWithResults() map[int]error {
	results := g.run()

	failed := make(map[int]error)
	for i, err := range results {
		if err != nil {
			failed[i] = err
		}
	}
	return failed
}

func (g *Group) run() []error {
	g.mu.Lock()
	tasks := g.tasks
	g.tasks = nil
	g.mu.Unlock()

	results := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			results[i] = runTask(fn)
		}(i, task)
	}
	wg.Wait()
	return results
}

// runTask contains a panicking task to its own slot. The group owns the
// goroutine the task runs on, so an escaped panic here would take down the
// whole process rather than just the batch entry that caused it.
func runTask(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}

package borrow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/taskrecorder"
)

// ErrAlreadyRunning is returned by Borrow when a run for the same book is
// already in flight.
var ErrAlreadyRunning = errors.New("a borrow for this book is already running")

// Coordinator tracks in-flight borrow tasks so that at most one run exists
// per book id, and so that runs can be cancelled from outside (e.g. by an
// HTTP handler).
type Coordinator struct {
	requirements Requirements

	mu      sync.Mutex
	running map[entities.BookID]*BorrowTask
}

// NewCoordinator creates a coordinator sharing one set of requirements
// across all runs.
func NewCoordinator(requirements Requirements) *Coordinator {
	return &Coordinator{
		requirements: requirements.withDefaults(),
		running:      make(map[entities.BookID]*BorrowTask),
	}
}

// Borrow runs a borrow synchronously on the calling goroutine and returns
// the task record. A second borrow for the same book while one is running is
// rejected; two concurrent runs would race on the same book record.
func (c *Coordinator) Borrow(request Request) (taskrecorder.Result, error) {
	task := NewBorrowTask(c.requirements, request)
	id := task.BookID()

	c.mu.Lock()
	if _, exists := c.running[id]; exists {
		c.mu.Unlock()
		return taskrecorder.Result{}, fmt.Errorf("book %s: %w", id.Brief(), ErrAlreadyRunning)
	}
	c.running[id] = task
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.running, id)
		c.mu.Unlock()
	}()

	return task.Execute(), nil
}

// Cancel sets the cancellation latch of the running task for the book, if
// any. It reports whether a task was found.
func (c *Coordinator) Cancel(id entities.BookID) bool {
	c.mu.Lock()
	task, ok := c.running[id]
	c.mu.Unlock()
	if ok {
		task.Cancel()
	}
	return ok
}

// IsRunning reports whether a borrow for the book is currently in flight.
func (c *Coordinator) IsRunning(id entities.BookID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[id]
	return ok
}

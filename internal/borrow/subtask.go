package borrow

import (
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/profiles"
)

// Subtask executes exactly one acquisition path element. Implementations
// report failure by returning ErrSubtaskFailed (after recording details in
// the task log), and non-error stops by returning ErrHaltedEarly,
// ErrCancelled, or ErrReachedLoanLimit.
type Subtask interface {
	Execute(ctx *Context) error
}

// SubtaskFactory produces subtasks and decides which path elements it can
// handle. Factories must be stateless; a fresh Subtask is created per step.
type SubtaskFactory interface {
	// Name is a short human-readable name used in task steps and logs.
	Name() string

	// CreateSubtask creates a subtask instance for one execution.
	CreateSubtask() Subtask

	// IsApplicableFor reports whether the factory can handle a path element
	// producing the given content type. Some factories also inspect the
	// target link, the account (e.g. its authentication scheme), or the
	// content types of the remaining elements, since a subtask may need to
	// know whether it is the terminal step.
	IsApplicableFor(contentType string, target *opds.Link, account *profiles.Account, remaining []string) bool
}

// SubtaskDirectory is the registry of available subtasks. Lookup evaluates
// factories in registration order and returns the first that claims the
// step, or nil when no factory does.
type SubtaskDirectory struct {
	factories []SubtaskFactory
}

// NewSubtaskDirectory creates a directory with the given factories in
// evaluation order.
func NewSubtaskDirectory(factories ...SubtaskFactory) *SubtaskDirectory {
	return &SubtaskDirectory{factories: factories}
}

// Register appends factories to the evaluation order.
func (d *SubtaskDirectory) Register(factories ...SubtaskFactory) {
	d.factories = append(d.factories, factories...)
}

// FindSubtaskFor returns the first applicable factory, or nil if none
// claims the step. The orchestrator treats nil as fatal for the run.
func (d *SubtaskDirectory) FindSubtaskFor(contentType string, target *opds.Link, account *profiles.Account, remaining []string) SubtaskFactory {
	for _, factory := range d.factories {
		if factory.IsApplicableFor(contentType, target, account, remaining) {
			return factory
		}
	}
	return nil
}

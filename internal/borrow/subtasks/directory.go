package subtasks

import "github.com/openshelf/lending/internal/borrow"

// DefaultDirectory returns the subtask directory with every built-in subtask
// registered, in priority order.
func DefaultDirectory() *borrow.SubtaskDirectory {
	directory := borrow.NewSubtaskDirectory()
	directory.Register(LoanCreateFactory())
	directory.Register(DirectDownloadFactory())
	return directory
}

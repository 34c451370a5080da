// Package borrow implements the borrowing engine: the subsystem that turns a
// catalog entry into a fully downloaded local book by walking a chain of
// content-type transformations advertised by the library server.
//
// A borrow run is driven by a BorrowTask, which resolves the profile and
// account, creates the local book record, plans an acquisition path, and then
// executes one subtask per path element against a shared Context. Subtasks
// are located through a SubtaskDirectory and communicate non-error outcomes
// (halted early, cancelled, loan limit reached) through sentinel errors.
package borrow

package borrow

import "errors"

// Stable error codes surfaced in task steps. These are support-facing
// identifiers, not exception names, and must not change between releases.
const (
	CodeProfileNotFound             = "profileNotFound"
	CodeAccountsDatabaseException   = "accountsDatabaseException"
	CodeBookDatabaseFailed          = "bookDatabaseFailed"
	CodeNoSupportedAcquisitions     = "noSupportedAcquisitions"
	CodeNoSubtaskAvailable          = "noSubtaskAvailable"
	CodeSubtaskFailed               = "subtaskFailed"
	CodeUnexpectedException         = "unexpectedException"
	CodeRequiredURIMissing          = "requiredURIMissing"
	CodeHTTPRequestFailed           = "httpRequestFailed"
	CodeHTTPConnectionFailed        = "httpConnectionFailed"
	CodeHTTPContentTypeIncompatible = "httpContentTypeIncompatible"
	CodeFeedEntryParseError         = "opdsFeedEntryParseError"
	CodeFeedEntryHoldable           = "opdsFeedEntryHoldable"
	CodeFeedEntryLoanable           = "opdsFeedEntryLoanable"
)

// Sentinel errors used as subtask control flow. A subtask returns one of
// these (possibly wrapped) and the orchestrator matches on it with errors.Is.
var (
	// ErrSubtaskFailed indicates the subtask failed after already recording
	// the details of the failure in the task log.
	ErrSubtaskFailed = errors.New("borrow subtask failed")

	// ErrHaltedEarly indicates a non-error stop: a later asynchronous stage
	// (external authentication, hold becoming available) will resume the
	// book, so the run ends without failure.
	ErrHaltedEarly = errors.New("borrow subtask halted early")

	// ErrCancelled indicates the run was cancelled cooperatively.
	ErrCancelled = errors.New("borrow subtask cancelled")

	// ErrReachedLoanLimit indicates the server refused the loan because the
	// patron is at their loan limit.
	ErrReachedLoanLimit = errors.New("loan limit reached")

	// errFailedHandled marks a failure that has already been recorded in the
	// task log and published to the book registry. It unwinds the run
	// without any further reporting.
	errFailedHandled = errors.New("borrow failure already handled")
)

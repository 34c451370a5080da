package borrow

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/openshelf/lending/internal/database/books"
	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/profiles"
	"github.com/openshelf/lending/internal/registry"
	"github.com/openshelf/lending/internal/taskrecorder"
)

// BorrowTask drives one borrow run from start to a terminal result. A task
// instance executes exactly one request; the caller is expected to submit it
// to a worker pool and wait for Execute to return.
type BorrowTask struct {
	requirements Requirements
	request      Request

	bookID      entities.BookID
	bookIDBrief string

	cancelled     atomic.Bool
	recorder      *taskrecorder.Recorder
	account       *profiles.Account
	databaseEntry *books.Entry
}

// NewBorrowTask creates a task for the given request.
func NewBorrowTask(requirements Requirements, request Request) *BorrowTask {
	bookID := request.BookID()
	return &BorrowTask{
		requirements: requirements.withDefaults(),
		request:      request,
		bookID:       bookID,
		bookIDBrief:  bookID.Brief(),
	}
}

// BookID returns the identity of the book this task is borrowing.
func (t *BorrowTask) BookID() entities.BookID {
	return t.bookID
}

// Cancel sets the cancellation latch. The latch is one-way: once set it
// cannot be cleared, and it is observed cooperatively by subtasks and by the
// orchestrator between subtask invocations. Cancelling a completed run is a
// no-op.
func (t *BorrowTask) Cancel() {
	t.cancelled.Store(true)
}

func (t *BorrowTask) debug(format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{t.bookIDBrief}, args...)...)
}

func (t *BorrowTask) warn(format string, args ...any) {
	log.Printf("[%s] WARNING: "+format, append([]any{t.bookIDBrief}, args...)...)
}

func (t *BorrowTask) errorf(format string, args ...any) {
	log.Printf("[%s] ERROR: "+format, append([]any{t.bookIDBrief}, args...)...)
}

// Execute runs the borrow to completion and returns the task record. All
// fatal conditions are converted into a failed result plus a terminal book
// status publication; nothing escapes as a raw error or panic.
func (t *BorrowTask) Execute() (result taskrecorder.Result) {
	t.recorder = taskrecorder.NewRecorder()
	t.debug("starting")

	defer func() {
		if r := recover(); r != nil {
			t.errorf("unhandled panic during borrowing: %v", r)
			t.recorder.CurrentStepFailedAppending(
				fmt.Sprintf("%v", r), CodeUnexpectedException, nil)
			t.publishBookFailure(t.bookInitial())
			result = t.recorder.FinishFailure()
		}
	}()

	res, err := t.executeStart()
	switch {
	case err == nil:
		return res
	case errors.Is(err, errFailedHandled):
		t.warn("handled: %v", err)
		return t.recorder.FinishFailure()
	default:
		t.errorf("unhandled error during borrowing: %v", err)
		t.recorder.CurrentStepFailedAppending(err.Error(), CodeUnexpectedException, err)
		t.publishBookFailure(t.bookInitial())
		return t.recorder.FinishFailure()
	}
}

// bookInitial synthesizes a book value from the request alone. It is used
// when a failure happens before the book database entry could be opened, so
// that a failure status can still be published for the book.
func (t *BorrowTask) bookInitial() entities.Book {
	return entities.Book{
		ID:        string(t.bookID),
		AccountID: t.request.AccountID,
		Title:     t.request.Entry.Title,
		Authors:   t.request.Entry.AuthorsCommaSeparated(),
	}
}

func (t *BorrowTask) executeStart() (taskrecorder.Result, error) {
	entry := t.request.Entry
	t.recorder.AddAttribute("Book", entry.Title)
	t.recorder.AddAttribute("Author", entry.AuthorsCommaSeparated())
	t.recorder.AddAttribute("Profile ID", t.request.ProfileID)

	t.publishRequestingDownload()

	bookInitial := t.bookInitial()

	profile, err := t.findProfile(bookInitial)
	if err != nil {
		return taskrecorder.Result{}, err
	}
	t.account, err = t.findAccount(profile, bookInitial)
	if err != nil {
		return taskrecorder.Result{}, err
	}
	book, err := t.createBookDatabaseEntry(bookInitial, entry)
	if err != nil {
		return taskrecorder.Result{}, err
	}
	path, err := t.pickAcquisitionPath(book, entry)
	if err != nil {
		return taskrecorder.Result{}, err
	}
	if err := t.executeSubtasksForPath(book, *path); err != nil {
		return taskrecorder.Result{}, err
	}
	return t.recorder.FinishSuccess(), nil
}

// publishRequestingDownload marks the book as requested, but only when the
// registry already knows about it: a brand new book has no observable state
// to transition from.
func (t *BorrowTask) publishRequestingDownload() {
	if existing := t.requirements.Registry.Book(t.bookID); existing != nil {
		t.requirements.Registry.Update(registry.BookWithStatus{
			Book: existing.Book,
			Status: registry.BookStatus{
				Kind:   registry.StatusRequestingDownload,
				BookID: t.bookID,
			},
		})
	}
}

// findProfile locates the profile named by the request.
func (t *BorrowTask) findProfile(book entities.Book) (*profiles.Profile, error) {
	t.recorder.BeginNewStep(fmt.Sprintf("Locating profile %s...", t.request.ProfileID))

	profile := t.requirements.Profiles.Profile(t.request.ProfileID)
	if profile == nil {
		t.errorf("failed to find profile %s", t.request.ProfileID)
		t.recorder.CurrentStepFailed("Failed to find profile.", CodeProfileNotFound, nil)
		t.publishBookFailure(book)
		return nil, errFailedHandled
	}
	t.recorder.CurrentStepSucceeded("Located profile.")
	return profile, nil
}

// findAccount locates the account inside the profile.
func (t *BorrowTask) findAccount(profile *profiles.Profile, book entities.Book) (*profiles.Account, error) {
	t.recorder.BeginNewStep(fmt.Sprintf("Locating account %s in the profile...", t.request.AccountID))
	t.recorder.AddAttribute("Account ID", t.request.AccountID)

	account, err := profile.Account(t.request.AccountID)
	if err != nil {
		t.errorf("failed to find account: %v", err)
		t.recorder.CurrentStepFailedAppending(
			"An unexpected exception was raised.", CodeAccountsDatabaseException, err)
		t.publishBookFailure(book)
		return nil, fmt.Errorf("%w: %w", errFailedHandled, err)
	}

	t.recorder.AddAttribute("Account", account.ProviderName)
	t.recorder.CurrentStepSucceeded("Located account.")
	return account, nil
}

// createBookDatabaseEntry creates or updates the local book record. From
// this point on, failure statuses are derived from the persistent record.
func (t *BorrowTask) createBookDatabaseEntry(book entities.Book, entry opds.FeedEntry) (entities.Book, error) {
	t.recorder.BeginNewStep("Setting up a book database entry...")

	dbEntry, err := t.account.BookDatabase.CreateOrUpdate(t.bookID, entry)
	if err != nil {
		t.errorf("failed to set up book database: %v", err)
		t.recorder.CurrentStepFailed(
			"Could not set up the book database entry.", CodeBookDatabaseFailed, err)
		t.publishBookFailure(book)
		return entities.Book{}, fmt.Errorf("%w: %w", errFailedHandled, err)
	}
	t.databaseEntry = dbEntry
	t.recorder.CurrentStepSucceeded("Book database updated.")
	return dbEntry.Book(), nil
}

// pickAcquisitionPath plans the borrow operation.
func (t *BorrowTask) pickAcquisitionPath(book entities.Book, entry opds.FeedEntry) (*opds.AcquisitionPath, error) {
	t.recorder.BeginNewStep("Planning the borrow operation...")

	path := PickBestAcquisitionPath(t.requirements.FormatSupport, entry)
	if path == nil {
		t.recorder.CurrentStepFailed("No supported acquisitions.", CodeNoSupportedAcquisitions, nil)
		t.publishBookFailure(book)
		return nil, errFailedHandled
	}
	t.recorder.CurrentStepSucceeded("Selected an acquisition path.")
	return path, nil
}

// executeSubtasksForPath builds the run's context and iterates the path,
// executing one subtask per element.
func (t *BorrowTask) executeSubtasksForPath(book entities.Book, path opds.AcquisitionPath) error {
	ctx := &Context{
		Account:             t.account,
		Recorder:            t.recorder,
		HTTPClient:          t.requirements.HTTPClient,
		Clock:               t.requirements.Clock,
		DatabaseEntry:       t.databaseEntry,
		SAMLDownloadContext: t.request.SAMLDownloadContext,
		SubtaskTimeout:      t.requirements.SubtaskTimeout,
		task:                t,
		bookRegistry:        t.requirements.Registry,
		temporaryDirectory:  t.requirements.TemporaryDirectory,
		cancelled:           &t.cancelled,
		bookIDBrief:         t.bookIDBrief,
		path:                path,
	}

	for len(ctx.path.Elements) > 0 {
		// The latch is also observed here, so a cancellation during one
		// subtask stops the run even if the next subtask never checks it.
		if t.cancelled.Load() {
			t.debug("cancelled between subtasks")
			t.recorder.CurrentStepSucceeded("Task was cancelled.")
			return nil
		}

		element := ctx.path.Elements[0]
		rest := ctx.path.Elements[1:]
		ctx.currentElement = element
		ctx.path = opds.AcquisitionPath{Source: ctx.path.Source, Elements: rest}
		ctx.remaining = rest

		factory, err := t.subtaskFindForPathElement(ctx, element, book, contentTypesOf(rest))
		if err != nil {
			return err
		}
		if err := t.subtaskExecute(factory, ctx, book); err != nil {
			switch {
			case errors.Is(err, ErrHaltedEarly):
				t.debug("subtask halted early: %v", err)
				return nil
			case errors.Is(err, ErrCancelled):
				t.debug("subtask cancelled: %v", err)
				return nil
			default:
				return err
			}
		}
	}
	return nil
}

func contentTypesOf(elements []opds.PathElement) []string {
	types := make([]string, len(elements))
	for i, element := range elements {
		types[i] = element.ContentType
	}
	return types
}

// subtaskFindForPathElement resolves a subtask for the element through the
// directory. Absence of a handler is fatal for the run.
func (t *BorrowTask) subtaskFindForPathElement(ctx *Context, element opds.PathElement, book entities.Book, remaining []string) (SubtaskFactory, error) {
	t.recorder.BeginNewStep(fmt.Sprintf(
		"Finding subtask for acquisition path element %s...", element.ContentType))

	factory := t.requirements.Subtasks.FindSubtaskFor(
		element.ContentType, ctx.CurrentLink(), t.account, remaining)
	if factory == nil {
		t.recorder.CurrentStepFailed(
			"We don't know how to handle this kind of acquisition.", CodeNoSubtaskAvailable, nil)
		t.publishBookFailure(book)
		return nil, errFailedHandled
	}
	t.recorder.CurrentStepSucceeded(fmt.Sprintf("Found subtask '%s'", factory.Name()))
	return factory, nil
}

// subtaskExecute creates and executes one subtask, recording the outcome on
// the step opened for it.
func (t *BorrowTask) subtaskExecute(factory SubtaskFactory, ctx *Context, book entities.Book) error {
	name := factory.Name()
	step := t.recorder.BeginNewStep(fmt.Sprintf("Executing subtask '%s'...", name))

	err := factory.CreateSubtask().Execute(ctx)
	switch {
	case err == nil:
		if !step.Failed {
			step.Resolution = fmt.Sprintf("Executed subtask '%s' successfully.", name)
		}
		return nil

	case errors.Is(err, ErrHaltedEarly), errors.Is(err, ErrCancelled):
		return err

	case errors.Is(err, ErrReachedLoanLimit):
		failStep(step, fmt.Sprintf("Subtask '%s' reported that the loan limit was reached.", name),
			CodeSubtaskFailed, err)
		ctx.BookReachedLoanLimit()
		return fmt.Errorf("%w: %w", errFailedHandled, err)

	default:
		failStep(step, fmt.Sprintf("Subtask '%s' raised an unexpected exception", name),
			CodeSubtaskFailed, err)
		t.publishBookFailure(book)
		return fmt.Errorf("%w: %w", errFailedHandled, err)
	}
}

// failStep resolves a specific step as failed, without touching it if it
// already failed.
func failStep(step *taskrecorder.Step, message, code string, err error) {
	if step.Failed {
		return
	}
	step.Failed = true
	step.Resolution = message
	step.ErrorCode = code
	step.Exception = err
}

// publishBookFailure publishes the terminal failure status for the book,
// choosing failed-download over failed-loan when the record shows an active
// loan.
func (t *BorrowTask) publishBookFailure(book entities.Book) {
	if t.databaseEntry != nil {
		book = t.databaseEntry.Book()
	}
	result := t.recorder.FinishFailure()
	kind := registry.StatusFailedLoan
	if book.IsLoaned() {
		kind = registry.StatusFailedDownload
	}
	t.requirements.Registry.Update(registry.BookWithStatus{
		Book: book,
		Status: registry.BookStatus{
			Kind:   kind,
			BookID: book.BookIDTyped(),
			Result: &result,
		},
	})
}

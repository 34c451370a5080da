package borrow

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/lending/internal/database"
	"github.com/openshelf/lending/internal/database/books"
	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/profiles"
	"github.com/openshelf/lending/internal/registry"
)

// fakeSubtask runs a test-provided function for every applicable step.
type fakeSubtask struct {
	name       string
	applicable func(contentType string) bool
	execute    func(ctx *Context) error
}

func (f *fakeSubtask) Name() string { return f.name }

func (f *fakeSubtask) CreateSubtask() Subtask { return f }
func (f *fakeSubtask) Execute(ctx *Context) error {
	return f.execute(ctx)
}
func (f *fakeSubtask) IsApplicableFor(contentType string, _ *opds.Link, _ *profiles.Account, _ []string) bool {
	if f.applicable == nil {
		return true
	}
	return f.applicable(contentType)
}

type testHarness struct {
	requirements Requirements
	registry     *registry.BookRegistry
	bookDatabase *books.Database
}

func newTestHarness(t *testing.T, factories ...SubtaskFactory) *testHarness {
	t.Helper()
	dir := t.TempDir()
	db, err := database.NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bookDatabase := books.NewDatabase(db.DB, filepath.Join(dir, "books"), "account-1")

	account := &profiles.Account{
		ID:           "account-1",
		ProviderName: "Test Library",
		BookDatabase: bookDatabase,
	}
	profile := profiles.NewProfile("profile-1", "Reader")
	profile.AddAccount(account)
	profileDB := profiles.NewDatabase()
	profileDB.Add(profile)

	bookRegistry := registry.NewBookRegistry()

	return &testHarness{
		requirements: Requirements{
			Profiles:      profileDB,
			Registry:      bookRegistry,
			FormatSupport: formats.Support{SupportsEPUB: true, SupportsPDF: true},
			Subtasks:      NewSubtaskDirectory(factories...),

			TemporaryDirectory: filepath.Join(dir, "tmp"),
		},
		registry:     bookRegistry,
		bookDatabase: bookDatabase,
	}
}

func epubEntry(id string) opds.FeedEntry {
	return opds.FeedEntry{
		ID:      id,
		Title:   "Test Book",
		Authors: []string{"Test Author"},
		Acquisitions: []opds.Acquisition{
			{
				Relation: opds.RelationOpenAccess,
				Target:   opds.Link{Href: "https://example.com/book.epub"},
				Type:     formats.GenericEPUB,
			},
		},
	}
}

func testRequest(id string) Request {
	return Request{
		Entry:     epubEntry(id),
		ProfileID: "profile-1",
		AccountID: "account-1",
	}
}

func lastStatus(t *testing.T, h *testHarness, request Request) registry.BookStatus {
	t.Helper()
	entry := h.registry.Book(request.BookID())
	require.NotNil(t, entry, "expected a status publication for the book")
	return entry.Status
}

func TestExecuteSuccess(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Fake Download",
		execute: func(ctx *Context) error {
			ctx.Recorder.CurrentStepSucceeded("fetched")
			return nil
		},
	})

	result := NewBorrowTask(h.requirements, testRequest("urn:book:ok")).Execute()

	assert.True(t, result.Succeeded)
	assert.Equal(t, "Test Book", result.Attributes["Book"])
	assert.Equal(t, "Test Author", result.Attributes["Author"])
	assert.Equal(t, "profile-1", result.Attributes["Profile ID"])
	assert.Equal(t, "Test Library", result.Attributes["Account"])
	for _, step := range result.Steps {
		assert.False(t, step.Failed, "step %d should not have failed: %s", step.Index, step.Description)
	}

	// The run set up a database record for the book.
	_, err := h.bookDatabase.Entry(testRequest("urn:book:ok").BookID())
	assert.NoError(t, err)
}

func TestExecuteProfileNotFound(t *testing.T) {
	h := newTestHarness(t)
	request := testRequest("urn:book:no-profile")
	request.ProfileID = "missing"

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	last := result.LastStep()
	assert.True(t, last.Failed)
	assert.Equal(t, CodeProfileNotFound, last.ErrorCode)

	status := lastStatus(t, h, request)
	assert.Equal(t, registry.StatusFailedLoan, status.Kind)
	require.NotNil(t, status.Result)
	assert.False(t, status.Result.Succeeded)
}

func TestExecuteAccountNotFound(t *testing.T) {
	h := newTestHarness(t)
	request := testRequest("urn:book:no-account")
	request.AccountID = "missing"

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	assert.Equal(t, CodeAccountsDatabaseException, result.LastStep().ErrorCode)
	assert.Equal(t, registry.StatusFailedLoan, lastStatus(t, h, request).Kind)
}

func TestExecuteNoSupportedAcquisitions(t *testing.T) {
	h := newTestHarness(t)
	request := testRequest("urn:book:unsupported")
	request.Entry.Acquisitions = []opds.Acquisition{
		{
			Relation: opds.RelationBorrow,
			Target:   opds.Link{Href: "https://example.com/borrow"},
			Type:     formats.OPDSAcquisitionFeedEntry,
			Indirects: []opds.IndirectAcquisition{
				{Type: formats.AdobeACSMFile, Indirects: []opds.IndirectAcquisition{{Type: formats.GenericEPUB}}},
			},
		},
	}

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	assert.Equal(t, CodeNoSupportedAcquisitions, result.LastStep().ErrorCode)
	assert.Equal(t, registry.StatusFailedLoan, lastStatus(t, h, request).Kind)
}

func TestExecuteNoSubtaskAvailable(t *testing.T) {
	h := newTestHarness(t) // empty directory
	request := testRequest("urn:book:no-subtask")

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	assert.Equal(t, CodeNoSubtaskAvailable, result.LastStep().ErrorCode)
	assert.Equal(t, registry.StatusFailedLoan, lastStatus(t, h, request).Kind)
}

func TestExecuteSubtaskFailure(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Failing Subtask",
		execute: func(ctx *Context) error {
			ctx.Recorder.CurrentStepFailed("server exploded", CodeHTTPRequestFailed, nil)
			return ErrSubtaskFailed
		},
	})
	request := testRequest("urn:book:fail")

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	last := result.LastStep()
	assert.True(t, last.Failed)
	assert.Equal(t, CodeSubtaskFailed, last.ErrorCode)
	assert.Equal(t, registry.StatusFailedLoan, lastStatus(t, h, request).Kind)
}

func TestExecuteFailureAfterExpiredLoanIsFailedLoan(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Failing Subtask",
		execute: func(ctx *Context) error {
			ctx.Recorder.CurrentStepFailed("server exploded", CodeHTTPRequestFailed, nil)
			return ErrSubtaskFailed
		},
	})
	request := testRequest("urn:book:expired-reborrow")

	// An earlier run left the record loaned.
	expired := epubEntry("urn:book:expired-reborrow")
	expired.Availability = opds.Availability{Kind: opds.AvailabilityLoaned}
	_, err := h.bookDatabase.CreateOrUpdate(request.BookID(), expired)
	require.NoError(t, err)

	// The loan has since expired server-side and the catalog advertises the
	// book as loanable. Failing before a new loan exists is a loan failure,
	// not a download failure.
	request.Entry.Availability = opds.Availability{Kind: opds.AvailabilityLoanable}
	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	assert.Equal(t, registry.StatusFailedLoan, lastStatus(t, h, request).Kind)
}

func TestExecuteSubtaskFailureAfterLoanIsFailedDownload(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Loan Then Fail",
		execute: func(ctx *Context) error {
			loaned := epubEntry("urn:book:loaned-fail")
			loaned.Availability = opds.Availability{Kind: opds.AvailabilityLoaned}
			require.NoError(t, ctx.DatabaseEntry.WriteEntry(loaned))
			return ErrSubtaskFailed
		},
	})
	request := testRequest("urn:book:loaned-fail")

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	assert.Equal(t, registry.StatusFailedDownload, lastStatus(t, h, request).Kind)
}

func TestExecuteHaltedEarlyIsNotAFailure(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Halting Subtask",
		execute: func(ctx *Context) error {
			ctx.BookDownloadIsWaitingForExternalAuthentication()
			return ErrHaltedEarly
		},
	})
	request := testRequest("urn:book:halt")

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.True(t, result.Succeeded)
	assert.Equal(t, registry.StatusDownloadWaitingForExternalAuth, lastStatus(t, h, request).Kind)
}

func TestExecuteCancelledEndsWithoutFailure(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Cancellable Subtask",
		execute: func(ctx *Context) error {
			if err := ctx.CheckCancelled(); err != nil {
				return err
			}
			t.Fatal("subtask should have observed the cancellation")
			return nil
		},
	})
	request := testRequest("urn:book:cancel")

	task := NewBorrowTask(h.requirements, request)
	task.Cancel()
	result := task.Execute()

	assert.True(t, result.Succeeded)
	assert.Equal(t, "Task was cancelled.", result.LastStep().Resolution)
}

func TestExecuteStopsBetweenSubtasksWhenCancelled(t *testing.T) {
	var task *BorrowTask
	var executions int
	h := newTestHarness(t, &fakeSubtask{
		name: "Cancelling Subtask",
		execute: func(ctx *Context) error {
			executions++
			ctx.Recorder.CurrentStepSucceeded("done")
			task.Cancel()
			return nil
		},
	})

	// Two path elements: the loan step cancels, so the download step must
	// never run even though the subtask itself returned normally.
	request := testRequest("urn:book:cancel-between")
	request.Entry.Acquisitions = []opds.Acquisition{
		{
			Relation:  opds.RelationBorrow,
			Target:    opds.Link{Href: "https://example.com/borrow"},
			Type:      formats.OPDSAcquisitionFeedEntry,
			Indirects: []opds.IndirectAcquisition{{Type: formats.GenericEPUB}},
		},
	}

	task = NewBorrowTask(h.requirements, request)
	result := task.Execute()

	assert.True(t, result.Succeeded)
	assert.Equal(t, 1, executions, "no subtask may run after cancellation")
	assert.Equal(t, "Task was cancelled.", result.LastStep().Resolution)
}

func TestExecuteReachedLoanLimit(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Loan Limit Subtask",
		execute: func(ctx *Context) error {
			return ErrReachedLoanLimit
		},
	})
	request := testRequest("urn:book:limit")

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	last := result.LastStep()
	assert.True(t, last.Failed)
	assert.Equal(t, CodeSubtaskFailed, last.ErrorCode)
	assert.Contains(t, last.Resolution, "loan limit")
	assert.Equal(t, registry.StatusReachedLoanLimit, lastStatus(t, h, request).Kind)
}

func TestExecutePanicBecomesUnexpectedException(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Panicking Subtask",
		execute: func(ctx *Context) error {
			panic("boom")
		},
	})
	request := testRequest("urn:book:panic")

	result := NewBorrowTask(h.requirements, request).Execute()

	assert.False(t, result.Succeeded)
	last := result.LastStep()
	assert.True(t, last.Failed)
	assert.Equal(t, CodeUnexpectedException, last.ErrorCode)

	// Even a panic must settle the book into a terminal failure status.
	status := lastStatus(t, h, request)
	assert.Equal(t, registry.StatusFailedLoan, status.Kind)
}

func TestExecuteRequestingDownloadOnlyForKnownBooks(t *testing.T) {
	h := newTestHarness(t, &fakeSubtask{
		name: "Observing Subtask",
		execute: func(ctx *Context) error {
			return nil
		},
	})
	request := testRequest("urn:book:known")

	var kinds []registry.StatusKind
	h.registry.Subscribe(func(entry registry.BookWithStatus) {
		kinds = append(kinds, entry.Status.Kind)
	})

	// First run: the registry has never seen the book, so no
	// requesting-download status is published.
	NewBorrowTask(h.requirements, request).Execute()
	assert.Empty(t, kinds)

	// Seed the registry and run again: now the transition is observable.
	h.registry.Update(registry.BookWithStatus{
		Book:   entitiesBookFor(request),
		Status: registry.BookStatus{Kind: registry.StatusLoanable, BookID: request.BookID()},
	})
	kinds = nil
	NewBorrowTask(h.requirements, request).Execute()
	require.NotEmpty(t, kinds)
	assert.Equal(t, registry.StatusRequestingDownload, kinds[0])
}

func TestCoordinatorRejectsDuplicateRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newTestHarness(t, &fakeSubtask{
		name: "Blocking Subtask",
		execute: func(ctx *Context) error {
			close(started)
			<-release
			return nil
		},
	})
	coordinator := NewCoordinator(h.requirements)
	request := testRequest("urn:book:dup")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := coordinator.Borrow(request)
		assert.NoError(t, err)
	}()

	<-started
	assert.True(t, coordinator.IsRunning(request.BookID()))

	_, err := coordinator.Borrow(request)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	<-done
	assert.False(t, coordinator.IsRunning(request.BookID()))
}

func TestCoordinatorCancel(t *testing.T) {
	h := newTestHarness(t)
	coordinator := NewCoordinator(h.requirements)

	// Nothing running: cancel reports false.
	assert.False(t, coordinator.Cancel(testRequest("urn:book:none").BookID()))
}

func entitiesBookFor(request Request) entities.Book {
	return entities.Book{
		ID:    string(request.BookID()),
		Title: request.Entry.Title,
	}
}

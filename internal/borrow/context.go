package borrow

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/lending/internal/database/books"
	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/profiles"
	"github.com/openshelf/lending/internal/registry"
	"github.com/openshelf/lending/internal/taskrecorder"
)

// Context is the mutable state of one borrow run, owned exclusively by that
// run and threaded through every subtask. Subtasks mutate it only through
// its methods: installing a new target URI, replacing the acquisition path,
// and publishing book statuses.
type Context struct {
	Account             *profiles.Account
	Recorder            *taskrecorder.Recorder
	HTTPClient          *http.Client
	Clock               func() time.Time
	DatabaseEntry       *books.Entry
	SAMLDownloadContext *SAMLDownloadContext

	// SubtaskTimeout is advisory; see Requirements.SubtaskTimeout.
	SubtaskTimeout time.Duration

	task               *BorrowTask
	bookRegistry       *registry.BookRegistry
	temporaryDirectory string
	cancelled          *atomic.Bool
	bookIDBrief        string

	path           opds.AcquisitionPath
	currentElement opds.PathElement
	remaining      []opds.PathElement
	currentLink    *opds.Link
}

// CurrentAcquisitionPathElement returns the path element currently being
// executed. It is updated once per subtask.
func (c *Context) CurrentAcquisitionPathElement() opds.PathElement {
	return c.currentElement
}

// RemainingPathElements returns the read-only queue of elements that will be
// processed after the current subtask completes.
func (c *Context) RemainingPathElements() []opds.PathElement {
	return c.remaining
}

// CurrentLink returns the override link installed by a previous subtask, or
// the active path element's target when no override is present. May be nil.
func (c *Context) CurrentLink() *opds.Link {
	if c.currentLink != nil {
		return c.currentLink
	}
	return c.currentElement.Target
}

// CurrentLinkRequired returns the current link, failing the current step
// with requiredURIMissing when there is none.
func (c *Context) CurrentLinkRequired() (opds.Link, error) {
	link := c.CurrentLink()
	if link == nil || link.IsZero() {
		c.LogError("no current URI")
		c.Recorder.CurrentStepFailed("A required URI is missing.", CodeRequiredURIMissing, nil)
		return opds.Link{}, ErrSubtaskFailed
	}
	return *link, nil
}

// CurrentURIRequired performs the checks of CurrentLinkRequired and
// additionally requires the link to resolve to an absolute URI.
func (c *Context) CurrentURIRequired() (*url.URL, error) {
	link, err := c.CurrentLinkRequired()
	if err != nil {
		return nil, err
	}
	target, err := link.URL()
	if err != nil {
		c.LogError("no current URI: %v", err)
		c.Recorder.CurrentStepFailed("A required URI is missing.", CodeRequiredURIMissing, err)
		return nil, ErrSubtaskFailed
	}
	return target, nil
}

// ReceivedNewURI installs an override link to be consumed by the next step.
// It is cleared only by being overwritten.
func (c *Context) ReceivedNewURI(link opds.Link) {
	c.LogDebug("received new URI: %s", link.Href)
	c.currentLink = &link
}

// ChooseNewAcquisitionPath re-plans against a freshly received entry and
// atomically replaces the context's path and remaining queue. Servers
// commonly return an updated entry after a loan call whose acquisitions
// differ from what was originally advertised.
func (c *Context) ChooseNewAcquisitionPath(entry opds.FeedEntry) (opds.Link, error) {
	path := PickBestAcquisitionPath(c.task.requirements.FormatSupport, entry)
	if path == nil {
		c.Recorder.CurrentStepFailed("No supported acquisitions.", CodeNoSupportedAcquisitions, nil)
		return opds.Link{}, ErrSubtaskFailed
	}
	if len(path.Elements) == 0 {
		c.Recorder.CurrentStepFailed("Selected acquisition path cannot be empty.", CodeNoSupportedAcquisitions, nil)
		return opds.Link{}, ErrSubtaskFailed
	}

	c.LogDebug("selected a new acquisition path")
	first := path.Elements[0]
	c.LogDebug("path now starts with %v (type %s)", first.Target, first.ContentType)

	c.path = *path
	c.remaining = path.Elements

	if first.Target == nil || first.Target.IsZero() {
		c.Recorder.CurrentStepFailed("Chosen path must start with a usable URI.", CodeRequiredURIMissing, nil)
		return opds.Link{}, ErrSubtaskFailed
	}
	return *first.Target, nil
}

// IsCancelled reports whether the run's cancellation latch is set.
func (c *Context) IsCancelled() bool {
	return c.cancelled.Load()
}

// CheckCancelled is the cooperative cancellation point. Subtasks performing
// long I/O must call it periodically; it returns ErrCancelled once the latch
// is set, unwinding the run without marking it as an error.
func (c *Context) CheckCancelled() error {
	if c.IsCancelled() {
		c.Recorder.CurrentStepSucceeded("Task was cancelled.")
		return ErrCancelled
	}
	return nil
}

// BookCurrent returns the book record's current state.
func (c *Context) BookCurrent() entities.Book {
	return c.DatabaseEntry.Book()
}

// BookPublishStatus publishes a status for the current book.
func (c *Context) BookPublishStatus(status registry.BookStatus) {
	c.bookRegistry.Update(registry.BookWithStatus{
		Book:   c.BookCurrent(),
		Status: status,
	})
}

// BookDownloadIsRunning publishes download progress. Byte counters are
// optional; servers do not always provide a length.
func (c *Context) BookDownloadIsRunning(message string, receivedBytes, expectedBytes, bytesPerSecond *int64) {
	c.LogDebug("downloading: %v %v %v", expectedBytes, receivedBytes, bytesPerSecond)
	c.BookPublishStatus(registry.BookStatus{
		Kind:           registry.StatusDownloading,
		BookID:         c.BookCurrent().BookIDTyped(),
		Detail:         message,
		CurrentBytes:   receivedBytes,
		ExpectedBytes:  expectedBytes,
		BytesPerSecond: bytesPerSecond,
	})
}

// BookDownloadIsWaitingForExternalAuthentication publishes that the download
// stopped pending an external (browser) login, carrying the URI the user
// must visit.
func (c *Context) BookDownloadIsWaitingForExternalAuthentication() {
	var downloadURI string
	if link := c.CurrentLink(); link != nil {
		downloadURI = link.Href
	}
	c.BookPublishStatus(registry.BookStatus{
		Kind:        registry.StatusDownloadWaitingForExternalAuth,
		BookID:      c.BookCurrent().BookIDTyped(),
		DownloadURI: downloadURI,
	})
}

// BookDownloadSucceeded publishes the settled status derived from the book
// record.
func (c *Context) BookDownloadSucceeded() {
	c.BookPublishStatus(registry.StatusFromBook(c.BookCurrent()))
}

// BookDownloadFailed publishes a failed-download status carrying the failed
// task record.
func (c *Context) BookDownloadFailed() {
	result := c.Recorder.FinishFailure()
	c.BookPublishStatus(registry.BookStatus{
		Kind:   registry.StatusFailedDownload,
		BookID: c.BookCurrent().BookIDTyped(),
		Result: &result,
	})
}

// BookLoanIsRequesting publishes that a loan request is in flight.
func (c *Context) BookLoanIsRequesting(message string) {
	c.BookPublishStatus(registry.BookStatus{
		Kind:   registry.StatusRequestingLoan,
		BookID: c.BookCurrent().BookIDTyped(),
		Detail: message,
	})
}

// BookLoanFailed publishes a failed-loan status carrying the failed task
// record.
func (c *Context) BookLoanFailed() {
	result := c.Recorder.FinishFailure()
	c.BookPublishStatus(registry.BookStatus{
		Kind:   registry.StatusFailedLoan,
		BookID: c.BookCurrent().BookIDTyped(),
		Result: &result,
	})
}

// BookReachedLoanLimit publishes that the patron is at their loan limit.
func (c *Context) BookReachedLoanLimit() {
	result := c.Recorder.FinishFailure()
	c.BookPublishStatus(registry.BookStatus{
		Kind:   registry.StatusReachedLoanLimit,
		BookID: c.BookCurrent().BookIDTyped(),
		Result: &result,
	})
}

// TemporaryFile creates a uniquely named temporary file under the run's
// temporary directory. The extension is appended when non-empty.
func (c *Context) TemporaryFile(extension string) (string, error) {
	suffix := ""
	if extension != "" {
		suffix = "." + extension
	}
	if err := os.MkdirAll(c.temporaryDirectory, 0o755); err != nil {
		return "", fmt.Errorf("create temporary directory: %w", err)
	}
	for i := 0; i <= 100; i++ {
		candidate := filepath.Join(c.temporaryDirectory, uuid.NewString()+suffix)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not create a temporary file within 100 attempts")
}

// LogDebug logs at debug level, tagged with the book id.
func (c *Context) LogDebug(format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{c.bookIDBrief}, args...)...)
}

// LogWarn logs at warning level, tagged with the book id.
func (c *Context) LogWarn(format string, args ...any) {
	log.Printf("[%s] WARNING: "+format, append([]any{c.bookIDBrief}, args...)...)
}

// LogError logs at error level, tagged with the book id.
func (c *Context) LogError(format string, args ...any) {
	log.Printf("[%s] ERROR: "+format, append([]any{c.bookIDBrief}, args...)...)
}

package subtasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/profiles"
	"github.com/openshelf/lending/internal/registry"
)

// LoanCreate creates an OPDS loan by hitting an acquisition URI. The server
// responds with an updated feed entry whose availability and acquisitions
// reflect the new loan; the subtask persists that entry and hands the next
// download URI to the following step, re-planning the path when the server
// changed its mind about available formats.
type LoanCreate struct{}

type loanCreateFactory struct{}

// LoanCreateFactory returns the factory for LoanCreate subtasks.
func LoanCreateFactory() borrow.SubtaskFactory {
	return loanCreateFactory{}
}

func (loanCreateFactory) Name() string {
	return "Create OPDS Loan"
}

func (loanCreateFactory) CreateSubtask() borrow.Subtask {
	return LoanCreate{}
}

func (loanCreateFactory) IsApplicableFor(contentType string, _ *opds.Link, _ *profiles.Account, _ []string) bool {
	return opds.ContentTypesEqual(contentType, formats.OPDSAcquisitionFeedEntry) ||
		opds.ContentTypesEqual(contentType, formats.OPDSCatalogFeed)
}

func (s LoanCreate) Execute(ctx *borrow.Context) error {
	ctx.Recorder.BeginNewStep("Creating an OPDS loan...")

	err := s.execute(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, borrow.ErrReachedLoanLimit):
		ctx.BookReachedLoanLimit()
		return err
	case errors.Is(err, borrow.ErrSubtaskFailed):
		ctx.BookLoanFailed()
		return err
	default:
		return err
	}
}

func (s LoanCreate) execute(ctx *borrow.Context) error {
	ctx.BookLoanIsRequesting("Requesting a loan...")

	loanURI, err := ctx.CurrentURIRequired()
	if err != nil {
		return err
	}
	ctx.Recorder.BeginNewStep(fmt.Sprintf("Using %s to create a loan...", loanURI))
	ctx.Recorder.AddAttribute("Loan URI", loanURI.String())
	if err := ctx.CheckCancelled(); err != nil {
		return err
	}

	request, err := http.NewRequest(http.MethodPut, loanURI.String(), bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("build loan request: %w", err)
	}
	request.Header.Set("Content-Type", "application/octet-stream")
	applyCredentials(request, ctx.Account)

	response, err := ctx.HTTPClient.Do(request)
	if err != nil {
		ctx.Recorder.CurrentStepFailed(err.Error(), borrow.CodeHTTPConnectionFailed, err)
		return borrow.ErrSubtaskFailed
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		return s.handleHTTPError(ctx, response)
	}
	return s.handleOKRequest(ctx, response)
}

func (s LoanCreate) handleHTTPError(ctx *borrow.Context, response *http.Response) error {
	problem := parseProblemDocument(response)
	if problem != nil {
		ctx.Recorder.AddAttributes(problem.attributes())

		if problem.Type == problemTypeLoanAlreadyExists {
			ctx.Recorder.CurrentStepSucceeded("It turns out we already had a loan for this book.")
			ctx.BookPublishStatus(registry.BookStatus{
				Kind:   registry.StatusLoanedNotDownloaded,
				BookID: ctx.BookCurrent().BookIDTyped(),
			})
			return nil
		}
	}

	ctx.Recorder.CurrentStepFailed(
		"HTTP request failed: "+response.Status,
		borrow.CodeHTTPRequestFailed, nil)

	if problem != nil && problem.Type == problemTypeLoanLimitReached {
		return borrow.ErrReachedLoanLimit
	}
	return borrow.ErrSubtaskFailed
}

func (s LoanCreate) handleOKRequest(ctx *borrow.Context, response *http.Response) error {
	receivedType := response.Header.Get("Content-Type")
	expectedType := ctx.CurrentAcquisitionPathElement().ContentType
	if !opds.ContentTypeAcceptable(expectedType, receivedType) {
		ctx.Recorder.CurrentStepFailed(
			fmt.Sprintf("The server returned an incompatible content type: we wanted something compatible with %s but received %s.",
				expectedType, receivedType),
			borrow.CodeHTTPContentTypeIncompatible, nil)
		return borrow.ErrSubtaskFailed
	}

	entry, err := s.parseFeedEntry(ctx, response.Body)
	if err != nil {
		return err
	}
	if err := ctx.DatabaseEntry.WriteEntry(*entry); err != nil {
		return fmt.Errorf("write feed entry: %w", err)
	}

	if err := s.checkAvailability(ctx, *entry); err != nil {
		return err
	}
	nextLink, err := s.findNextLink(ctx, *entry)
	if err != nil {
		return err
	}
	ctx.ReceivedNewURI(nextLink)
	return nil
}

func (s LoanCreate) parseFeedEntry(ctx *borrow.Context, body io.Reader) (*opds.FeedEntry, error) {
	ctx.Recorder.BeginNewStep("Parsing the feed entry...")

	var entry opds.FeedEntry
	if err := json.NewDecoder(body).Decode(&entry); err != nil {
		ctx.LogError("feed entry parse error: %v", err)
		ctx.Recorder.CurrentStepFailed(
			fmt.Sprintf("Failed to parse the feed entry (%v).", err),
			borrow.CodeFeedEntryParseError, err)
		return nil, borrow.ErrSubtaskFailed
	}
	return &entry, nil
}

// checkAvailability inspects the availability of the freshly received entry.
// Held books halt the run early: the hold becoming available will resume the
// borrow later.
func (s LoanCreate) checkAvailability(ctx *borrow.Context, entry opds.FeedEntry) error {
	ctx.Recorder.BeginNewStep("Checking availability...")

	switch entry.Availability.Kind {
	case opds.AvailabilityHeldReady:
		ctx.Recorder.CurrentStepSucceeded("Book is held and ready.")
		ctx.BookPublishStatus(registry.StatusFromBook(ctx.BookCurrent()))
		return borrow.ErrHaltedEarly

	case opds.AvailabilityHeld:
		ctx.Recorder.CurrentStepSucceeded("Book is held.")
		ctx.BookPublishStatus(registry.StatusFromBook(ctx.BookCurrent()))
		return borrow.ErrHaltedEarly

	case opds.AvailabilityHoldable:
		ctx.Recorder.CurrentStepFailed(
			"Book is unexpectedly holdable.", borrow.CodeFeedEntryHoldable, nil)
		return borrow.ErrSubtaskFailed

	case opds.AvailabilityLoanable:
		ctx.Recorder.CurrentStepFailed(
			"Book is unexpectedly loanable.", borrow.CodeFeedEntryLoanable, nil)
		return borrow.ErrSubtaskFailed

	case opds.AvailabilityLoaned, opds.AvailabilityOpenAccess:
		ctx.Recorder.CurrentStepSucceeded("Book is loaned.")
		ctx.BookPublishStatus(registry.StatusFromBook(ctx.BookCurrent()))
		return nil

	default:
		return fmt.Errorf("server returned an impossible availability %q", entry.Availability.Kind)
	}
}

// findNextLink finds the URI the next subtask should use. If the entry still
// advertises a path matching the remaining elements, its first target is
// used; otherwise the server changed the available formats after the loan
// was created, and the whole path is re-planned against the new entry.
func (s LoanCreate) findNextLink(ctx *borrow.Context, entry opds.FeedEntry) (opds.Link, error) {
	ctx.Recorder.BeginNewStep("Finding the next URI in the feed entry...")

	remaining := ctx.RemainingPathElements()
	for _, nextPath := range opds.LinearizeEntry(entry) {
		elements := nextPath.Elements
		if len(elements) != len(remaining) {
			continue
		}
		compatible := true
		for i := range elements {
			if !opds.ContentTypesEqual(elements[i].ContentType, remaining[i].ContentType) {
				compatible = false
				break
			}
		}
		if compatible && elements[0].Target != nil && !elements[0].Target.IsZero() {
			ctx.Recorder.CurrentStepSucceeded(
				fmt.Sprintf("Found a usable URI (%s).", elements[0].Target.Href))
			return *elements[0].Target, nil
		}
	}

	// Some books advertise one series of acquisitions at the start of
	// borrowing but change their mind once the loan exists. Check whether
	// the new entry offers a path straight to the final acquisition and
	// follow that instead.
	return ctx.ChooseNewAcquisitionPath(entry)
}

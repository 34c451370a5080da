package registry

import (
	"time"

	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/taskrecorder"
)

// StatusKind is the tag of a BookStatus variant.
type StatusKind string

const (
	StatusRequestingDownload             StatusKind = "requesting-download"
	StatusDownloading                    StatusKind = "downloading"
	StatusDownloadWaitingForExternalAuth StatusKind = "download-waiting-for-external-authentication"
	StatusRequestingLoan                 StatusKind = "requesting-loan"
	StatusFailedLoan                     StatusKind = "failed-loan"
	StatusFailedDownload                 StatusKind = "failed-download"
	StatusReachedLoanLimit               StatusKind = "reached-loan-limit"
	StatusLoanedNotDownloaded            StatusKind = "loaned-not-downloaded"
	StatusLoanedDownloaded               StatusKind = "loaned-downloaded"
	StatusHeld                           StatusKind = "held"
	StatusHeldReady                      StatusKind = "held-ready"
	StatusHoldable                       StatusKind = "holdable"
	StatusLoanable                       StatusKind = "loanable"
)

// BookStatus is the externally observable state of a book's acquisition.
// Exactly one status is current for a book at any time; transitions are
// published through the BookRegistry, never computed by readers.
type BookStatus struct {
	Kind   StatusKind      `json:"kind"`
	BookID entities.BookID `json:"book_id"`
	Detail string          `json:"detail,omitempty"`

	// Download progress, present only for StatusDownloading.
	CurrentBytes   *int64 `json:"current_bytes,omitempty"`
	ExpectedBytes  *int64 `json:"expected_bytes,omitempty"`
	BytesPerSecond *int64 `json:"bytes_per_second,omitempty"`

	// DownloadURI is the URI the user must visit, present only for
	// StatusDownloadWaitingForExternalAuth.
	DownloadURI string `json:"download_uri,omitempty"`

	// Result carries the failed task record for the failure variants.
	Result *taskrecorder.Result `json:"result,omitempty"`

	LoanExpiresAt *time.Time `json:"loan_expires_at,omitempty"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	Returnable    bool       `json:"returnable,omitempty"`
	OpenAccess    bool       `json:"open_access,omitempty"`
}

// IsTerminal reports whether the status is one of the settled or failed
// variants. Progress statuses are transient.
func (s BookStatus) IsTerminal() bool {
	switch s.Kind {
	case StatusRequestingDownload, StatusDownloading,
		StatusDownloadWaitingForExternalAuth, StatusRequestingLoan:
		return false
	default:
		return true
	}
}

// StatusFromBook derives the settled status of a book from its database
// record alone. Recomputing this after a crash must agree with the last
// terminal status that was published for the book.
func StatusFromBook(book entities.Book) BookStatus {
	id := book.BookIDTyped()
	switch book.AvailabilityKind {
	case "held":
		return BookStatus{
			Kind:          StatusHeld,
			BookID:        id,
			QueuePosition: book.QueuePosition,
			LoanExpiresAt: book.LoanExpiresAt,
			Returnable:    book.Returnable,
		}
	case "held-ready":
		return BookStatus{
			Kind:          StatusHeldReady,
			BookID:        id,
			LoanExpiresAt: book.LoanExpiresAt,
			Returnable:    book.Returnable,
		}
	case "holdable":
		return BookStatus{Kind: StatusHoldable, BookID: id}
	case "loaned", "open-access":
		kind := StatusLoanedNotDownloaded
		if book.IsDownloaded() {
			kind = StatusLoanedDownloaded
		}
		return BookStatus{
			Kind:          kind,
			BookID:        id,
			LoanExpiresAt: book.LoanExpiresAt,
			Returnable:    book.Returnable,
			OpenAccess:    book.AvailabilityKind == "open-access",
		}
	default:
		return BookStatus{Kind: StatusLoanable, BookID: id}
	}
}

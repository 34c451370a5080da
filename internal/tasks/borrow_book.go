package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/opds"
)

// BorrowBookTask runs one borrow for a book on a queue worker. The payload is
// the full borrow request: the feed entry as advertised by the catalog plus
// the profile and account the loan belongs to.
type BorrowBookTask struct {
	ProfileID string         `json:"profile_id"`
	AccountID string         `json:"account_id"`
	Entry     opds.FeedEntry `json:"entry"`

	// SAML carries the continuation state when this run resumes a borrow
	// that paused for external authentication.
	SAML *borrow.SAMLDownloadContext `json:"saml,omitempty"`
}

// Config returns the queue configuration for borrow tasks. Borrows are never
// retried automatically: a failed run has already published a failure status
// with the full task log attached, and the user decides whether to retry.
func (t BorrowBookTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "borrow_book",
		MaxAttempts: 1,
		Backoff:     30 * time.Second,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// BorrowBookProcessor creates a processor function for BorrowBookTask.
func BorrowBookProcessor(coordinator *borrow.Coordinator) backlite.QueueProcessor[BorrowBookTask] {
	return func(ctx context.Context, task BorrowBookTask) error {
		if coordinator == nil {
			return fmt.Errorf("borrow coordinator not configured")
		}

		request := borrow.Request{
			Entry:               task.Entry,
			ProfileID:           task.ProfileID,
			AccountID:           task.AccountID,
			SAMLDownloadContext: task.SAML,
		}

		result, err := coordinator.Borrow(request)
		if errors.Is(err, borrow.ErrAlreadyRunning) {
			// Another worker picked up a duplicate enqueue; nothing to do.
			log.Printf("[TASK] Borrow for book %s already in flight, skipping", request.BookID().Brief())
			return nil
		}
		if err != nil {
			return fmt.Errorf("borrow book %s: %w", request.BookID().Brief(), err)
		}

		if result.Succeeded {
			log.Printf("[TASK] Borrowed book %s (%q) in %d steps",
				request.BookID().Brief(), task.Entry.Title, len(result.Steps))
		} else {
			log.Printf("[TASK] Borrow for book %s (%q) failed: %s",
				request.BookID().Brief(), task.Entry.Title, result.Describe())
		}
		return nil
	}
}

// NewBorrowBookQueue creates a backlite queue for borrow tasks.
func NewBorrowBookQueue(coordinator *borrow.Coordinator) backlite.Queue {
	return backlite.NewQueue(BorrowBookProcessor(coordinator))
}

// Package scheduler runs periodic maintenance jobs over the book database.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openshelf/lending/internal/database"
	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/registry"
)

// LoanExpiryScheduler periodically settles loans whose end date has passed:
// the record reverts to loanable, the downloaded file is removed, and the
// new settled status is published to the registry.
type LoanExpiryScheduler struct {
	db           *database.Database
	bookRegistry *registry.BookRegistry
	schedule     string

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	isSweeping bool
	cancelFunc context.CancelFunc
}

// NewLoanExpiryScheduler creates a new scheduler instance. The schedule is a
// standard five-field cron expression.
func NewLoanExpiryScheduler(db *database.Database, bookRegistry *registry.BookRegistry, schedule string) *LoanExpiryScheduler {
	return &LoanExpiryScheduler{
		db:           db,
		bookRegistry: bookRegistry,
		schedule:     schedule,
		cron:         cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start begins the scheduler.
func (s *LoanExpiryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule loan expiry job: %w", err)
	}
	s.entryID = entryID

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	log.Printf("Loan expiry scheduler: started with schedule '%s'", s.schedule)

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop gracefully stops the scheduler.
func (s *LoanExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Loan expiry scheduler: stopped")
}

// RunNow triggers an immediate sweep.
func (s *LoanExpiryScheduler) RunNow() {
	go s.runSweep()
}

// IsRunning returns whether the scheduler is active.
func (s *LoanExpiryScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns when the next sweep will occur.
func (s *LoanExpiryScheduler) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}

	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

// runSweep performs the actual expiry pass.
func (s *LoanExpiryScheduler) runSweep() {
	s.mu.Lock()
	if s.isSweeping {
		s.mu.Unlock()
		log.Printf("Loan expiry: skipped (already sweeping)")
		return
	}
	s.isSweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSweeping = false
		s.mu.Unlock()
	}()

	now := time.Now()
	var expired []entities.Book
	err := s.db.DB.
		Where("availability_kind = ? AND loan_expires_at IS NOT NULL AND loan_expires_at < ?",
			string(opds.AvailabilityLoaned), now).
		Find(&expired).Error
	if err != nil {
		log.Printf("Loan expiry: failed to query expired loans: %v", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	log.Printf("Loan expiry: settling %d expired loan(s)", len(expired))
	var settled int
	for _, book := range expired {
		if err := s.expireLoan(&book); err != nil {
			log.Printf("Loan expiry: warning - failed to expire loan for book %s: %v",
				book.BookIDTyped().Brief(), err)
			continue
		}
		s.bookRegistry.Update(registry.BookWithStatus{
			Book:   book,
			Status: registry.StatusFromBook(book),
		})
		settled++
	}
	log.Printf("Loan expiry: settled %d expired loan(s) in %v", settled, time.Since(now).Round(time.Millisecond))
}

// expireLoan reverts a single record to loanable and removes the downloaded
// file, mutating the passed record in place.
func (s *LoanExpiryScheduler) expireLoan(book *entities.Book) error {
	if book.DownloadedFile != "" {
		if err := os.Remove(book.DownloadedFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove book file: %w", err)
		}
	}

	book.AvailabilityKind = string(opds.AvailabilityLoanable)
	book.LoanStartsAt = nil
	book.LoanExpiresAt = nil
	book.DownloadedFile = ""
	book.DownloadedType = ""

	if err := s.db.DB.Save(book).Error; err != nil {
		return fmt.Errorf("save book record: %w", err)
	}
	return nil
}

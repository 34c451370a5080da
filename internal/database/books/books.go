// Package books implements the per-account book database: persistent book
// records plus the on-disk files of downloaded books. Entries returned by
// CreateOrUpdate are the handles borrow subtasks use to mutate book state.
package books

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/opds"
)

// Database is the book database for a single account.
type Database struct {
	db        *gorm.DB
	booksDir  string
	accountID string
}

// NewDatabase creates a book database for the given account, storing book
// files under booksDir.
func NewDatabase(db *gorm.DB, booksDir string, accountID string) *Database {
	return &Database{
		db:        db,
		booksDir:  booksDir,
		accountID: accountID,
	}
}

// AccountID returns the owning account's identifier.
func (d *Database) AccountID() string {
	return d.accountID
}

// CreateOrUpdate creates the record for a book, or replaces its stored entry
// and availability if the record already exists, and returns a handle for the
// run's lifetime. The record always reflects the most recently received feed
// entry; only the download fields survive across calls.
func (d *Database) CreateOrUpdate(id entities.BookID, entry opds.FeedEntry) (*Entry, error) {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode feed entry: %w", err)
	}

	var record entities.Book
	creating := false
	err = d.db.Where("id = ?", string(id)).First(&record).Error
	switch {
	case err == nil:
	case err == gorm.ErrRecordNotFound:
		creating = true
		record = entities.Book{ID: string(id), AccountID: d.accountID}
	default:
		return nil, fmt.Errorf("look up book record: %w", err)
	}

	record.Title = entry.Title
	record.Authors = entry.AuthorsCommaSeparated()
	record.EntryJSON = string(entryJSON)
	record.AvailabilityKind = string(entry.Availability.Kind)
	record.LoanStartsAt = entry.Availability.StartDate
	record.LoanExpiresAt = entry.Availability.EndDate
	record.QueuePosition = entry.Availability.QueuePosition
	record.Returnable = entry.Availability.Revocable
	record.OpenAccess = entry.Availability.Kind == opds.AvailabilityOpenAccess

	if creating {
		if err := d.db.Create(&record).Error; err != nil {
			return nil, fmt.Errorf("create book record: %w", err)
		}
	} else if err := d.db.Save(&record).Error; err != nil {
		return nil, fmt.Errorf("update book record: %w", err)
	}

	return &Entry{database: d, record: record}, nil
}

// Entry looks up an existing book record and returns a handle for it.
func (d *Database) Entry(id entities.BookID) (*Entry, error) {
	var record entities.Book
	if err := d.db.Where("id = ?", string(id)).First(&record).Error; err != nil {
		return nil, fmt.Errorf("look up book record: %w", err)
	}
	return &Entry{database: d, record: record}, nil
}

// Books returns all book records belonging to this account.
func (d *Database) Books() ([]entities.Book, error) {
	var records []entities.Book
	err := d.db.Where("account_id = ?", d.accountID).Order("updated_at DESC").Find(&records).Error
	return records, err
}

// Entry is a handle to one book record, valid for the lifetime of a borrow
// run. All engine-side mutations of book state go through it.
type Entry struct {
	database *Database
	record   entities.Book
}

// Book returns a snapshot of the current record.
func (e *Entry) Book() entities.Book {
	return e.record
}

// WriteEntry persists a freshly received feed entry into the record,
// including the availability state it advertises.
func (e *Entry) WriteEntry(entry opds.FeedEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode feed entry: %w", err)
	}
	e.record.Title = entry.Title
	e.record.Authors = entry.AuthorsCommaSeparated()
	e.record.EntryJSON = string(entryJSON)
	e.record.AvailabilityKind = string(entry.Availability.Kind)
	e.record.LoanStartsAt = entry.Availability.StartDate
	e.record.LoanExpiresAt = entry.Availability.EndDate
	e.record.QueuePosition = entry.Availability.QueuePosition
	e.record.Returnable = entry.Availability.Revocable
	e.record.OpenAccess = entry.Availability.Kind == opds.AvailabilityOpenAccess

	if err := e.database.db.Save(&e.record).Error; err != nil {
		return fmt.Errorf("save book record: %w", err)
	}
	return nil
}

// CopyInBook moves a downloaded file into the books directory and records it
// on the book. The source file is consumed.
func (e *Entry) CopyInBook(sourcePath string, contentType string) error {
	if err := os.MkdirAll(e.database.booksDir, 0o755); err != nil {
		return fmt.Errorf("create books directory: %w", err)
	}

	destination := filepath.Join(e.database.booksDir, e.record.ID+extensionForContentType(contentType))
	if err := os.Rename(sourcePath, destination); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		data, readErr := os.ReadFile(sourcePath)
		if readErr != nil {
			return fmt.Errorf("read downloaded file: %w", readErr)
		}
		if writeErr := os.WriteFile(destination, data, 0o644); writeErr != nil {
			return fmt.Errorf("save book file: %w", writeErr)
		}
		os.Remove(sourcePath)
	}

	e.record.DownloadedFile = destination
	e.record.DownloadedType = contentType
	if err := e.database.db.Save(&e.record).Error; err != nil {
		return fmt.Errorf("save book record: %w", err)
	}
	return nil
}

// DeleteBookFile removes the downloaded file, if any, and clears the record.
func (e *Entry) DeleteBookFile() error {
	if e.record.DownloadedFile == "" {
		return nil
	}
	if err := os.Remove(e.record.DownloadedFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove book file: %w", err)
	}
	e.record.DownloadedFile = ""
	e.record.DownloadedType = ""
	return e.database.db.Save(&e.record).Error
}

func extensionForContentType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "application/epub+zip":
		return ".epub"
	case "application/pdf":
		return ".pdf"
	case "application/audiobook+json":
		return ".audiobook-manifest.json"
	default:
		return ".bin"
	}
}

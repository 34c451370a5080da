package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// BookID uniquely identifies a book. It is derived from the feed entry ID so
// that the same catalog entry always maps to the same local record.
type BookID string

// NewBookID derives a book ID from a feed entry ID.
func NewBookID(entryID string) BookID {
	sum := sha256.Sum256([]byte(entryID))
	return BookID(hex.EncodeToString(sum[:]))
}

// Brief returns a shortened form of the ID used to tag log lines.
func (b BookID) Brief() string {
	if len(b) <= 8 {
		return string(b)
	}
	return string(b[:8])
}

// Book is the persistent record for one book in an account's book database.
// The availability and download fields are the on-disk state from which the
// book's settled status is derived.
type Book struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index;not null"`
	Title     string
	Authors   string

	// EntryJSON holds the most recently received parsed feed entry.
	EntryJSON string

	AvailabilityKind string
	LoanStartsAt     *time.Time
	LoanExpiresAt    *time.Time
	QueuePosition    *int
	Returnable       bool
	OpenAccess       bool

	DownloadedFile string
	DownloadedType string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookIDTyped returns the record's primary key as a BookID.
func (b Book) BookIDTyped() BookID {
	return BookID(b.ID)
}

// IsLoaned reports whether the record shows an active loan (or open access).
func (b Book) IsLoaned() bool {
	return b.AvailabilityKind == "loaned" || b.AvailabilityKind == "open-access"
}

// IsDownloaded reports whether a book file has been saved locally.
func (b Book) IsDownloaded() bool {
	return b.DownloadedFile != ""
}

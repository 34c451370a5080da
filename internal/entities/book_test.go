package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBookIDIsStable(t *testing.T) {
	first := NewBookID("urn:book:1")
	second := NewBookID("urn:book:1")
	other := NewBookID("urn:book:2")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Len(t, string(first), 64)
}

func TestBookIDBrief(t *testing.T) {
	assert.Len(t, NewBookID("urn:book:1").Brief(), 8)
	assert.Equal(t, "short", BookID("short").Brief())
}

func TestBookLoanAndDownloadState(t *testing.T) {
	var book Book
	assert.False(t, book.IsLoaned())
	assert.False(t, book.IsDownloaded())

	book.AvailabilityKind = "loaned"
	assert.True(t, book.IsLoaned())

	book.AvailabilityKind = "open-access"
	assert.True(t, book.IsLoaned())

	book.DownloadedFile = "/books/abc.epub"
	assert.True(t, book.IsDownloaded())
}

package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/borrow/subtasks"
	"github.com/openshelf/lending/internal/database"
	"github.com/openshelf/lending/internal/database/books"
	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/profiles"
	"github.com/openshelf/lending/internal/registry"
)

func setupRouter(t *testing.T) (*gin.Engine, *registry.BookRegistry, *database.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := database.NewDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bookDatabase := books.NewDatabase(db.DB, filepath.Join(dir, "books"), "account-1")
	account := &profiles.Account{ID: "account-1", ProviderName: "Test Library", BookDatabase: bookDatabase}
	profile := profiles.NewProfile("profile-1", "Reader")
	profile.AddAccount(account)
	profileDB := profiles.NewDatabase()
	profileDB.Add(profile)

	bookRegistry := registry.NewBookRegistry()
	coordinator := borrow.NewCoordinator(borrow.Requirements{
		Profiles:           profileDB,
		Registry:           bookRegistry,
		FormatSupport:      formats.Support{SupportsEPUB: true},
		Subtasks:           subtasks.DefaultDirectory(),
		TemporaryDirectory: filepath.Join(dir, "tmp"),
	})

	router := NewRouter(RouterConfig{
		Database:     db,
		BookRegistry: bookRegistry,
		Coordinator:  coordinator,
		ProfileID:    "profile-1",
		AccountID:    "account-1",
		Version:      "test",
	})
	return router, bookRegistry, db
}

func openAccessEntry(id, href string) opds.FeedEntry {
	return opds.FeedEntry{
		ID:    id,
		Title: "API Book",
		Acquisitions: []opds.Acquisition{
			{
				Relation: opds.RelationOpenAccess,
				Target:   opds.Link{Href: href},
				Type:     formats.GenericEPUB,
			},
		},
		Availability: opds.Availability{Kind: opds.AvailabilityOpenAccess},
	}
}

func TestBorrowBookSynchronous(t *testing.T) {
	fileServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", formats.GenericEPUB)
		w.Write([]byte("epub"))
	}))
	defer fileServer.Close()

	router, bookRegistry, _ := setupRouter(t)

	entry := openAccessEntry("urn:book:api-1", fileServer.URL+"/book.epub")
	bookID := entities.NewBookID(entry.ID)

	body, err := json.Marshal(BorrowRequest{Entry: entry})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/books/"+string(bookID)+"/borrow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response struct {
		BookID    string `json:"book_id"`
		Succeeded bool   `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, string(bookID), response.BookID)
	assert.True(t, response.Succeeded)

	registered := bookRegistry.Book(bookID)
	require.NotNil(t, registered)
	assert.Equal(t, registry.StatusLoanedDownloaded, registered.Status.Kind)
}

func TestBorrowBookRejectsMismatchedID(t *testing.T) {
	router, _, _ := setupRouter(t)

	body, err := json.Marshal(BorrowRequest{Entry: openAccessEntry("urn:book:api-2", "https://example.com/x.epub")})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/books/not-the-right-id/borrow", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "expected_id")
}

func TestBorrowBookRejectsInvalidBody(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/books/abc/borrow", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookStatus(t *testing.T) {
	router, bookRegistry, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/books/unknown/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	book := entities.Book{
		ID:               string(entities.NewBookID("urn:book:api-3")),
		Title:            "API Book",
		AvailabilityKind: "loaned",
	}
	bookRegistry.Update(registry.BookWithStatus{
		Book:   book,
		Status: registry.StatusFromBook(book),
	})

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/books/"+book.ID+"/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Title   string              `json:"title"`
		Running bool                `json:"running"`
		Status  registry.BookStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "API Book", response.Title)
	assert.False(t, response.Running)
	assert.Equal(t, registry.StatusLoanedNotDownloaded, response.Status.Kind)
}

func TestCancelWithoutRunningBorrow(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/books/unknown/cancel", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBooks(t *testing.T) {
	router, bookRegistry, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/books", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count": 0`)

	book := entities.Book{ID: string(entities.NewBookID("urn:book:api-4")), Title: "Listed Book"}
	bookRegistry.Update(registry.BookWithStatus{
		Book:   book,
		Status: registry.StatusFromBook(book),
	})

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/books", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Count int `json:"count"`
		Books []struct {
			Title  string `json:"title"`
			Status registry.BookStatus
		} `json:"books"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Count)
	require.Len(t, response.Books, 1)
	assert.Equal(t, "Listed Book", response.Books[0].Title)
}

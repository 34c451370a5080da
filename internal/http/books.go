package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/opds"
	"github.com/openshelf/lending/internal/registry"
	"github.com/openshelf/lending/internal/tasks"
)

type BooksController struct {
	bookRegistry *registry.BookRegistry
	coordinator  *borrow.Coordinator
	taskClient   *tasks.Client
	profileID    string
	accountID    string
}

func NewBooksController(cfg RouterConfig) *BooksController {
	return &BooksController{
		bookRegistry: cfg.BookRegistry,
		coordinator:  cfg.Coordinator,
		taskClient:   cfg.TaskClient,
		profileID:    cfg.ProfileID,
		accountID:    cfg.AccountID,
	}
}

// BorrowRequest is the body of a borrow call: the feed entry as advertised by
// the catalog, plus the optional SAML continuation state.
type BorrowRequest struct {
	Entry opds.FeedEntry              `json:"entry"`
	SAML  *borrow.SAMLDownloadContext `json:"saml,omitempty"`
}

// BorrowBook starts a borrow for the book identified in the URL. The body
// carries the catalog feed entry; the URL id must match the id derived from
// the entry so that clients cannot borrow under a mismatched identity.
func (controller *BooksController) BorrowBook(c *gin.Context) {
	var request BorrowRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if request.Entry.ID == "" {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"error": "entry id is required"})
		return
	}

	bookID := entities.NewBookID(request.Entry.ID)
	if c.Param("id") != string(bookID) {
		c.IndentedJSON(http.StatusBadRequest, gin.H{
			"error":       "book id does not match the entry in the request body",
			"expected_id": string(bookID),
		})
		return
	}

	if controller.coordinator.IsRunning(bookID) {
		c.IndentedJSON(http.StatusConflict, gin.H{"error": "a borrow for this book is already running"})
		return
	}

	if controller.taskClient != nil {
		task := tasks.BorrowBookTask{
			ProfileID: controller.profileID,
			AccountID: controller.accountID,
			Entry:     request.Entry,
			SAML:      request.SAML,
		}
		ids, err := controller.taskClient.Add(task).Save()
		if err != nil {
			c.IndentedJSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue borrow: " + err.Error()})
			return
		}
		c.IndentedJSON(http.StatusAccepted, gin.H{
			"message": "borrow enqueued",
			"book_id": string(bookID),
			"task_id": firstOrEmpty(ids),
		})
		return
	}

	// No task queue configured: run the borrow on the request goroutine.
	result, err := controller.coordinator.Borrow(borrow.Request{
		Entry:               request.Entry,
		ProfileID:           controller.profileID,
		AccountID:           controller.accountID,
		SAMLDownloadContext: request.SAML,
	})
	if err != nil {
		c.IndentedJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"book_id":   string(bookID),
		"succeeded": result.Succeeded,
		"result":    result,
	})
}

// BookStatus returns the last published status of a book, together with the
// record's metadata.
func (controller *BooksController) BookStatus(c *gin.Context) {
	id := entities.BookID(c.Param("id"))
	entry := controller.bookRegistry.Book(id)
	if entry == nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"error": "book not found"})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"book_id": entry.Book.ID,
		"title":   entry.Book.Title,
		"authors": entry.Book.Authors,
		"status":  entry.Status,
		"running": controller.coordinator.IsRunning(id),
	})
}

// CancelBorrow requests cooperative cancellation of a running borrow.
func (controller *BooksController) CancelBorrow(c *gin.Context) {
	id := entities.BookID(c.Param("id"))
	if !controller.coordinator.Cancel(id) {
		c.IndentedJSON(http.StatusNotFound, gin.H{"error": "no borrow is running for this book"})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"message": "cancellation requested", "book_id": string(id)})
}

// ListBooks returns every book the registry knows about with its current
// status.
func (controller *BooksController) ListBooks(c *gin.Context) {
	books := controller.bookRegistry.Books()

	type listedBook struct {
		BookID  string              `json:"book_id"`
		Title   string              `json:"title"`
		Authors string              `json:"authors"`
		Status  registry.BookStatus `json:"status"`
	}
	listed := make([]listedBook, 0, len(books))
	for _, entry := range books {
		listed = append(listed, listedBook{
			BookID:  entry.Book.ID,
			Title:   entry.Book.Title,
			Authors: entry.Book.Authors,
			Status:  entry.Status,
		})
	}

	c.IndentedJSON(http.StatusOK, gin.H{"books": listed, "count": len(listed)})
}

func firstOrEmpty(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Package http exposes the lending engine over a small JSON API: borrow a
// book, observe its status, cancel a running borrow.
package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	health := NewHealthController(cfg.Database, cfg.Version)
	booksController := NewBooksController(cfg)

	// Health endpoints
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// Books API endpoints
	router.GET("/api/books", booksController.ListBooks)
	router.POST("/api/books/:id/borrow", booksController.BorrowBook)
	router.GET("/api/books/:id/status", booksController.BookStatus)
	router.POST("/api/books/:id/cancel", booksController.CancelBorrow)

	return router
}

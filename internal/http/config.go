package http

import (
	"github.com/openshelf/lending/internal/borrow"
	"github.com/openshelf/lending/internal/database"
	"github.com/openshelf/lending/internal/registry"
	"github.com/openshelf/lending/internal/tasks"
)

// RouterConfig contains all dependencies and configuration needed to create
// the HTTP router.
type RouterConfig struct {
	// Core dependencies
	Database     *database.Database
	BookRegistry *registry.BookRegistry
	Coordinator  *borrow.Coordinator

	// TaskClient enqueues borrows onto the background queue. When nil,
	// borrows run synchronously on the request goroutine.
	TaskClient *tasks.Client

	// ProfileID and AccountID identify the local profile borrows run under.
	ProfileID string
	AccountID string

	// Application info
	Version string
}

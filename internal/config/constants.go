package config

// Default paths for local storage
const (
	// DefaultDatabasePath is the default path for the book record database
	DefaultDatabasePath = "./lending.db"

	// DefaultBooksDir is the default directory for downloaded book files
	DefaultBooksDir = "./books"
)

// Package registry provides the process-wide book registry: a concurrent
// key-value store holding the current status of every known book, plus a
// subscription mechanism for status observers (UI, analytics).
package registry

import (
	"sync"

	"github.com/openshelf/lending/internal/entities"
)

// BookWithStatus pairs a book record snapshot with its current status.
type BookWithStatus struct {
	Book   entities.Book
	Status BookStatus
}

// Observer receives every status publication for every book. Delivery is
// serialized per registry, in publication order.
type Observer func(BookWithStatus)

// BookRegistry is safe for concurrent publication and lookup.
type BookRegistry struct {
	mu        sync.RWMutex
	books     map[entities.BookID]BookWithStatus
	observers []Observer
}

// NewBookRegistry creates an empty registry.
func NewBookRegistry() *BookRegistry {
	return &BookRegistry{
		books: make(map[entities.BookID]BookWithStatus),
	}
}

// Update publishes a new status for a book, replacing any previous one, and
// notifies all observers. Observers are invoked under the registry lock so
// that they see publications in order; they must not call back into the
// registry.
func (r *BookRegistry) Update(entry BookWithStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[entry.Book.BookIDTyped()] = entry
	for _, observe := range r.observers {
		observe(entry)
	}
}

// Book returns the current entry for a book id, or nil if none is known.
func (r *BookRegistry) Book(id entities.BookID) *BookWithStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.books[id]; ok {
		return &entry
	}
	return nil
}

// Books returns a snapshot of every known entry.
func (r *BookRegistry) Books() []BookWithStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]BookWithStatus, 0, len(r.books))
	for _, entry := range r.books {
		entries = append(entries, entry)
	}
	return entries
}

// Remove drops a book from the registry.
func (r *BookRegistry) Remove(id entities.BookID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, id)
}

// Subscribe registers an observer for all future publications.
func (r *BookRegistry) Subscribe(observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, observer)
}

// Package opds holds the parsed feed-entry model consumed by the borrowing
// engine. Wire-level parsing happens upstream; this package only defines the
// in-process shapes (entries, links, acquisitions, availability) and the
// linearization of acquisition options into content-type transformation paths.
package opds

import "strings"

// Acquisition relations recognized by the borrowing engine. Any other
// relation is ignored during planning.
const (
	RelationBorrow     = "http://opds-spec.org/acquisition/borrow"
	RelationOpenAccess = "http://opds-spec.org/acquisition/open-access"
	RelationGeneric    = "http://opds-spec.org/acquisition"
)

// IndirectAcquisition is a nested content-type hint: the server promises that
// fetching the parent will eventually yield content of this type.
type IndirectAcquisition struct {
	Type       string                `json:"type"`
	Properties map[string]string     `json:"properties,omitempty"`
	Indirects  []IndirectAcquisition `json:"indirects,omitempty"`
}

// Acquisition is one acquisition option advertised by a feed entry.
type Acquisition struct {
	Relation   string                `json:"relation"`
	Target     Link                  `json:"target"`
	Type       string                `json:"type"`
	Properties map[string]string     `json:"properties,omitempty"`
	Indirects  []IndirectAcquisition `json:"indirects,omitempty"`
}

// HasUsableRelation reports whether the acquisition can start a borrow.
func (a Acquisition) HasUsableRelation() bool {
	switch a.Relation {
	case RelationBorrow, RelationOpenAccess, RelationGeneric:
		return true
	default:
		return false
	}
}

// FeedEntry is a parsed catalog entry for a single publication.
type FeedEntry struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Authors      []string      `json:"authors,omitempty"`
	Acquisitions []Acquisition `json:"acquisitions,omitempty"`
	Availability Availability  `json:"availability"`
}

// AuthorsCommaSeparated renders the author list for diagnostics.
func (e FeedEntry) AuthorsCommaSeparated() string {
	return strings.Join(e.Authors, ", ")
}

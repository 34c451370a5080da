package borrow

import (
	"github.com/openshelf/lending/internal/entities"
	"github.com/openshelf/lending/internal/opds"
)

// SAMLDownloadContext carries the continuation state of an external (SAML)
// authentication flow. It is present when a previous borrow attempt paused
// waiting for the user to log in through a browser.
type SAMLDownloadContext struct {
	// IsAuthComplete is true once the user finished the external login.
	IsAuthComplete bool `json:"is_auth_complete"`

	// DownloadURI is the URI whose download triggered the authentication.
	DownloadURI string `json:"download_uri"`

	// AuthCompleteDownloadURI is the URI to download from after
	// authentication completed, when the login flow redirected.
	AuthCompleteDownloadURI string `json:"auth_complete_download_uri,omitempty"`
}

// Request is the initiating command for one borrow run. It is immutable and
// created once per user-initiated borrow action.
type Request struct {
	Entry     opds.FeedEntry
	ProfileID string
	AccountID string

	// SAMLDownloadContext is non-nil when resuming after external
	// authentication.
	SAMLDownloadContext *SAMLDownloadContext
}

// BookID returns the identity of the book this request refers to.
func (r Request) BookID() entities.BookID {
	return entities.NewBookID(r.Entry.ID)
}

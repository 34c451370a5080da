package opds

import (
	"fmt"
	"net/url"
	"strings"
)

// Link is a hypermedia link taken from a parsed feed entry. A link may be
// templated (URI template), in which case it cannot be resolved directly.
type Link struct {
	Href      string `json:"href"`
	Type      string `json:"type,omitempty"`
	Templated bool   `json:"templated,omitempty"`
}

// IsZero reports whether the link carries no target at all.
func (l Link) IsZero() bool {
	return l.Href == ""
}

// URL resolves the link to an absolute URL. Templated links and relative
// references cannot be resolved and return an error.
func (l Link) URL() (*url.URL, error) {
	if l.Templated {
		return nil, fmt.Errorf("link %q is templated and cannot be resolved directly", l.Href)
	}
	u, err := url.Parse(strings.TrimSpace(l.Href))
	if err != nil {
		return nil, fmt.Errorf("parse link %q: %w", l.Href, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("link %q is not an absolute URI", l.Href)
	}
	return u, nil
}

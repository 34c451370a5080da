// Package formats declares which book formats and DRM schemes this client is
// able to handle. The path planner filters acquisition paths against these
// declarations.
package formats

import "strings"

// Standard content types used across the borrowing engine.
const (
	OPDSAcquisitionFeedEntry = "application/atom+xml;type=entry;profile=opds-catalog"
	OPDSCatalogFeed          = "application/atom+xml;profile=opds-catalog"
	AdobeACSMFile            = "application/vnd.adobe.adept+xml"
	LCPLicenseFile           = "application/vnd.readium.lcp.license.v1.0+json"
	BoundlessLicenseFile     = "application/vnd.thepalaceproject.baker-taylor.kdrm+json"
	BearerToken              = "application/vnd.librarysimplified.bearer-token+json"
	GenericEPUB              = "application/epub+zip"
	GenericPDF               = "application/pdf"
	GenericAudioBook         = "application/audiobook+json"
	OverdriveAudioBook       = "application/vnd.overdrive.circulation.api+json;profile=audiobook"
)

// Support declares the formats and DRM schemes the client can fulfil.
type Support struct {
	SupportsEPUB       bool
	SupportsPDF        bool
	SupportsAudioBooks bool

	SupportsAdobeACS  bool
	SupportsLCP       bool
	SupportsBoundless bool
}

func normalize(contentType string) string {
	return strings.ToLower(strings.ReplaceAll(contentType, " ", ""))
}

// IsIntermediateType reports whether the content type is a step the engine
// knows how to pass through on the way to a final book format.
func IsIntermediateType(contentType string) bool {
	switch normalize(contentType) {
	case normalize(OPDSAcquisitionFeedEntry),
		normalize(OPDSCatalogFeed),
		normalize(AdobeACSMFile),
		normalize(LCPLicenseFile),
		normalize(BoundlessLicenseFile),
		normalize(BearerToken):
		return true
	default:
		return false
	}
}

// IsSupportedFinalContentType reports whether the client can open a book of
// the given type once downloaded.
func (s Support) IsSupportedFinalContentType(contentType string) bool {
	switch normalize(contentType) {
	case normalize(GenericEPUB):
		return s.SupportsEPUB
	case normalize(GenericPDF):
		return s.SupportsPDF
	case normalize(GenericAudioBook), normalize(OverdriveAudioBook):
		return s.SupportsAudioBooks
	default:
		return false
	}
}

// IsSupportedPath checks a full chain of content types: every intermediate
// type must be one the engine can pass through, any DRM license type must
// have a matching DRM engine, and the final type must be openable.
func (s Support) IsSupportedPath(contentTypes []string) bool {
	if len(contentTypes) == 0 {
		return false
	}
	for i, contentType := range contentTypes {
		last := i == len(contentTypes)-1
		switch normalize(contentType) {
		case normalize(AdobeACSMFile):
			if !s.SupportsAdobeACS || last {
				return false
			}
		case normalize(LCPLicenseFile):
			if !s.SupportsLCP || last {
				return false
			}
		case normalize(BoundlessLicenseFile):
			if !s.SupportsBoundless || last {
				return false
			}
		default:
			if last {
				if !s.IsSupportedFinalContentType(contentType) {
					return false
				}
			} else if !IsIntermediateType(contentType) {
				return false
			}
		}
	}
	return true
}

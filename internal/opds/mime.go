package opds

import "strings"

// baseContentType strips MIME parameters and normalizes case, so that
// "application/epub+zip; charset=utf-8" compares equal to
// "APPLICATION/EPUB+ZIP".
func baseContentType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// ContentTypesEqual compares two content types strictly, ignoring parameters.
func ContentTypesEqual(a, b string) bool {
	return baseContentType(a) == baseContentType(b)
}

// ContentTypeAcceptable reports whether a received content type satisfies an
// expected one. The comparison is lax: octet-stream is treated as compatible
// with anything, since many servers serve book files with a generic type.
func ContentTypeAcceptable(expected, received string) bool {
	const octetStream = "application/octet-stream"
	e := baseContentType(expected)
	r := baseContentType(received)
	if e == r {
		return true
	}
	return e == octetStream || r == octetStream
}

package borrow

import (
	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/opds"
)

// PickBestAcquisitionPath selects the single best acquisition path the client
// can execute for the given entry, or nil when no advertised option is
// usable.
//
// Selection is deterministic: paths are filtered against the client's format
// and DRM support, the path with the fewest indirection steps wins, and ties
// are broken by the server's listing order.
func PickBestAcquisitionPath(support formats.Support, entry opds.FeedEntry) *opds.AcquisitionPath {
	paths := opds.LinearizeEntry(entry)

	var best *opds.AcquisitionPath
	for i := range paths {
		if !support.IsSupportedPath(paths[i].ContentTypes()) {
			continue
		}
		if best == nil || len(paths[i].Elements) < len(best.Elements) {
			best = &paths[i]
		}
	}
	return best
}

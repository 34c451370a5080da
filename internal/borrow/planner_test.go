package borrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/lending/internal/formats"
	"github.com/openshelf/lending/internal/opds"
)

func borrowAcquisition(href string, indirectTypes ...string) opds.Acquisition {
	acquisition := opds.Acquisition{
		Relation: opds.RelationBorrow,
		Target:   opds.Link{Href: href},
		Type:     formats.OPDSAcquisitionFeedEntry,
	}
	// Build a single nested chain from the list of types.
	var chain *opds.IndirectAcquisition
	for i := len(indirectTypes) - 1; i >= 0; i-- {
		indirect := opds.IndirectAcquisition{Type: indirectTypes[i]}
		if chain != nil {
			indirect.Indirects = []opds.IndirectAcquisition{*chain}
		}
		chain = &indirect
	}
	if chain != nil {
		acquisition.Indirects = []opds.IndirectAcquisition{*chain}
	}
	return acquisition
}

func TestPickBestAcquisitionPathFiltersUnsupported(t *testing.T) {
	entry := opds.FeedEntry{
		ID: "urn:book:1",
		Acquisitions: []opds.Acquisition{
			borrowAcquisition("https://example.com/borrow-pdf", formats.GenericPDF),
			borrowAcquisition("https://example.com/borrow-epub", formats.GenericEPUB),
		},
	}

	path := PickBestAcquisitionPath(formats.Support{SupportsEPUB: true}, entry)
	require.NotNil(t, path)
	assert.Equal(t, "https://example.com/borrow-epub", path.Elements[0].Target.Href)
}

func TestPickBestAcquisitionPathPrefersFewestElements(t *testing.T) {
	entry := opds.FeedEntry{
		ID: "urn:book:2",
		Acquisitions: []opds.Acquisition{
			borrowAcquisition("https://example.com/indirect", formats.GenericEPUB),
			{
				Relation: opds.RelationOpenAccess,
				Target:   opds.Link{Href: "https://example.com/direct.epub"},
				Type:     formats.GenericEPUB,
			},
		},
	}

	path := PickBestAcquisitionPath(formats.Support{SupportsEPUB: true}, entry)
	require.NotNil(t, path)
	require.Len(t, path.Elements, 1)
	assert.Equal(t, "https://example.com/direct.epub", path.Elements[0].Target.Href)
}

func TestPickBestAcquisitionPathBreaksTiesByListingOrder(t *testing.T) {
	entry := opds.FeedEntry{
		ID: "urn:book:3",
		Acquisitions: []opds.Acquisition{
			borrowAcquisition("https://example.com/first", formats.GenericEPUB),
			borrowAcquisition("https://example.com/second", formats.GenericPDF),
		},
	}

	path := PickBestAcquisitionPath(formats.Support{SupportsEPUB: true, SupportsPDF: true}, entry)
	require.NotNil(t, path)
	assert.Equal(t, "https://example.com/first", path.Elements[0].Target.Href)
}

func TestPickBestAcquisitionPathNoneUsable(t *testing.T) {
	entry := opds.FeedEntry{
		ID: "urn:book:4",
		Acquisitions: []opds.Acquisition{
			borrowAcquisition("https://example.com/borrow", formats.AdobeACSMFile, formats.GenericEPUB),
		},
	}

	// No Adobe DRM engine, so the only advertised path is unusable.
	assert.Nil(t, PickBestAcquisitionPath(formats.Support{SupportsEPUB: true}, entry))
}

func TestPickBestAcquisitionPathEmptyEntry(t *testing.T) {
	assert.Nil(t, PickBestAcquisitionPath(formats.Support{SupportsEPUB: true}, opds.FeedEntry{ID: "urn:book:5"}))
}

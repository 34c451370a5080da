package opds

// PathElement is one step of an acquisition path. It produces content of the
// given type. Only the first element of a path carries a target link; the
// targets of later elements are discovered while executing earlier steps.
type PathElement struct {
	ContentType string            `json:"content_type"`
	Target      *Link             `json:"target,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// AcquisitionPath is an ordered sequence of content-type transformations
// leading from a catalog entry to a usable local file. Paths are immutable
// values: re-planning swaps in a whole new path, never edits one in place.
type AcquisitionPath struct {
	Source   Acquisition   `json:"source"`
	Elements []PathElement `json:"elements"`
}

// ContentTypes returns the content type of each element in order.
func (p AcquisitionPath) ContentTypes() []string {
	types := make([]string, len(p.Elements))
	for i, e := range p.Elements {
		types[i] = e.ContentType
	}
	return types
}

// LinearizeEntry flattens every usable acquisition option of the entry into
// the set of paths it implies. Branching indirect acquisitions produce one
// path per leaf chain. The returned order follows the server's listing order,
// which the planner relies on for deterministic tie-breaking.
func LinearizeEntry(entry FeedEntry) []AcquisitionPath {
	var paths []AcquisitionPath
	for _, acquisition := range entry.Acquisitions {
		if !acquisition.HasUsableRelation() {
			continue
		}
		paths = append(paths, LinearizeAcquisition(acquisition)...)
	}
	return paths
}

// LinearizeAcquisition flattens a single acquisition option into paths.
func LinearizeAcquisition(acquisition Acquisition) []AcquisitionPath {
	target := acquisition.Target
	first := PathElement{
		ContentType: acquisition.Type,
		Target:      &target,
		Properties:  acquisition.Properties,
	}
	if len(acquisition.Indirects) == 0 {
		return []AcquisitionPath{{Source: acquisition, Elements: []PathElement{first}}}
	}

	var paths []AcquisitionPath
	for _, indirect := range acquisition.Indirects {
		for _, tail := range linearizeIndirect(indirect) {
			elements := append([]PathElement{first}, tail...)
			paths = append(paths, AcquisitionPath{Source: acquisition, Elements: elements})
		}
	}
	return paths
}

func linearizeIndirect(indirect IndirectAcquisition) [][]PathElement {
	element := PathElement{
		ContentType: indirect.Type,
		Properties:  indirect.Properties,
	}
	if len(indirect.Indirects) == 0 {
		return [][]PathElement{{element}}
	}
	var chains [][]PathElement
	for _, child := range indirect.Indirects {
		for _, tail := range linearizeIndirect(child) {
			chains = append(chains, append([]PathElement{element}, tail...))
		}
	}
	return chains
}

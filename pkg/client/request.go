package client

import "fmt"

// PageSize is the fixed number of items requested per page.
const PageSize = 30

// SearchOptions are the optional filters of a catalogue search.
type SearchOptions struct {
	OnlyAvailable bool
	ShowServices  bool
	ShowFacets    bool
}

// DefaultSearchOptions returns available-only products without services or facets.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{OnlyAvailable: true}
}

// SearchRequest is the JSON body of a search call.
type SearchRequest struct {
	FamilyID     string `json:"familyId"`
	LimitCount   int    `json:"limitCount"`
	LimitFrom    int    `json:"limitFrom"`
	RegionsID    int    `json:"regionsId"`
	Availability bool   `json:"availability"`
	ShowProducts bool   `json:"showProducts"`
	ShowFacets   bool   `json:"showFacets"`
	ShowServices bool   `json:"showServices"`
	SitePath     string `json:"sitePath"`
}

// NewSearchRequest builds the request template for a catalogue category.
func NewSearchRequest(category string, regionID int, opts SearchOptions) SearchRequest {
	return SearchRequest{
		FamilyID:     "",
		LimitCount:   PageSize,
		LimitFrom:    0,
		RegionsID:    regionID,
		Availability: opts.OnlyAvailable,
		ShowProducts: true,
		ShowFacets:   opts.ShowFacets,
		ShowServices: opts.ShowServices,
		SitePath:     fmt.Sprintf("/catalogue/%s/", category),
	}
}

// WithOffset returns a copy of the template positioned at offset.
func (r SearchRequest) WithOffset(offset int) SearchRequest {
	r.LimitFrom = offset
	return r
}

// Offset returns the zero-based item offset of a 1-based page number.
func Offset(page int) int {
	return (page - 1) * PageSize
}

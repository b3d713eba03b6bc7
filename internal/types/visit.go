package types

// DetailPageVisit records one exploratory click-through from a list page to a
// detail page. Immutable once recorded; read-only input to pattern extraction.
type DetailPageVisit struct {
	// ListPageURL is the list page the click originated from.
	ListPageURL string `json:"list_page_url"`

	// DetailPageURL is the resolved URL the click landed on.
	DetailPageURL string `json:"detail_page_url"`

	// ClickedTag is the HTML tag of the clicked element (usually "a").
	ClickedTag string `json:"clicked_element_tag"`

	// ClickedHref is the raw href attribute of the clicked element.
	ClickedHref string `json:"clicked_element_href"`

	// LocatorCandidates are locator expressions for the clicked element,
	// ordered by stability (id-based > test-id > label > text > structural).
	LocatorCandidates []string `json:"locator_candidates"`
}

// Element is one labeled interactive element reported by a perception scan.
type Element struct {
	// ID is the perception-assigned mark for this element.
	ID int `json:"id"`

	// Tag is the lowercase HTML tag name.
	Tag string `json:"tag"`

	// Text is the visible text label, trimmed.
	Text string `json:"text"`

	// Href is the raw href attribute for links, empty otherwise.
	Href string `json:"href,omitempty"`

	// LocatorCandidates are locator expressions ordered by stability.
	LocatorCandidates []string `json:"locator_candidates"`
}

package types

import "regexp"

// HighConfidence is the threshold above which a pattern is trusted for
// bulk matching without further exploratory visits.
const HighConfidence = 0.8

// CommonPattern is a distilled locator/URL pattern derived from a small set
// of exploratory visits. Derived once, read-only afterward.
type CommonPattern struct {
	// TagPattern is the tag shared by all sampled elements ("" = any).
	TagPattern string `json:"tag_pattern"`

	// HrefRegex matches hrefs of detail-page links.
	HrefRegex string `json:"href_regex"`

	// LocatorTemplate is a locator expression shared by the sampled
	// elements, empty when no stable template emerged.
	LocatorTemplate string `json:"locator_template"`

	// Confidence is a heuristic score in [0,1] reflecting how many
	// independent samples agree on the shape.
	Confidence float64 `json:"confidence"`

	compiled *regexp.Regexp
}

// Compile parses HrefRegex once; subsequent calls are no-ops.
func (p *CommonPattern) Compile() error {
	if p.compiled != nil {
		return nil
	}
	re, err := regexp.Compile(p.HrefRegex)
	if err != nil {
		return err
	}
	p.compiled = re
	return nil
}

// MatchHref reports whether href matches the derived href pattern.
// An uncompiled or empty pattern matches nothing.
func (p *CommonPattern) MatchHref(href string) bool {
	if p.compiled == nil {
		if p.Compile() != nil {
			return false
		}
	}
	return p.compiled.MatchString(href)
}

// Trusted reports whether the pattern clears the high-confidence bar.
func (p *CommonPattern) Trusted() bool {
	return p.Confidence >= HighConfidence
}

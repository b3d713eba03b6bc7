package collector

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/linkwalk/linkwalk/internal/types"
)

var digitRun = regexp.MustCompile(`\d+`)

// Match is one pattern-matched element on a list page.
type Match struct {
	URL     string
	Locator string
}

// Extractor distills a handful of recorded exploratory visits into a
// reusable CommonPattern and matches candidate elements against it on
// subsequent pages.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a pattern extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger.With("component", "pattern_extractor")}
}

// Extract derives a CommonPattern from at least 2 visits. With exactly 2,
// confidence is capped below the high-confidence threshold so the
// orchestrator requests one additional exploratory visit before trusting
// bulk mode.
func (e *Extractor) Extract(visits []types.DetailPageVisit) (*types.CommonPattern, error) {
	if len(visits) < 2 {
		return nil, types.ErrInsufficientData
	}

	hrefs := make([]string, len(visits))
	for i, v := range visits {
		hrefs[i] = v.ClickedHref
	}

	pattern := &types.CommonPattern{
		TagPattern:      commonTag(visits),
		LocatorTemplate: commonLocatorTemplate(visits),
	}

	hrefRegex, confidence := deriveHrefPattern(hrefs)
	pattern.HrefRegex = hrefRegex
	if pattern.LocatorTemplate != "" {
		confidence += 0.05
	}
	if len(visits) == 2 && confidence >= types.HighConfidence {
		confidence = types.HighConfidence - 0.05
	}
	pattern.Confidence = min(confidence, 1.0)

	if err := pattern.Compile(); err != nil {
		return nil, err
	}

	e.logger.Info("pattern derived",
		"tag", pattern.TagPattern,
		"href_regex", pattern.HrefRegex,
		"locator_template", pattern.LocatorTemplate,
		"confidence", pattern.Confidence,
		"visits", len(visits),
	)
	return pattern, nil
}

// MatchElements applies the tag filter, then the href-pattern filter, then
// the optional locator-template filter, in that order. URLs are resolved
// against base; relative references are joined, not treated as absolute.
func (e *Extractor) MatchElements(pattern *types.CommonPattern, elements []types.Element, base string) []Match {
	baseURL, err := url.Parse(base)
	if err != nil {
		e.logger.Warn("unparseable base url", "base", base, "error", err)
		return nil
	}

	var matches []Match
	for _, el := range elements {
		if pattern.TagPattern != "" && el.Tag != pattern.TagPattern {
			continue
		}
		if el.Href == "" || !pattern.MatchHref(el.Href) {
			continue
		}
		if pattern.LocatorTemplate != "" && !matchesTemplate(el.LocatorCandidates, pattern.LocatorTemplate) {
			continue
		}

		ref, err := url.Parse(el.Href)
		if err != nil {
			continue
		}
		locator := ""
		if len(el.LocatorCandidates) > 0 {
			locator = el.LocatorCandidates[0]
		}
		matches = append(matches, Match{
			URL:     baseURL.ResolveReference(ref).String(),
			Locator: locator,
		})
	}
	return matches
}

// deriveHrefPattern computes the longest common literal prefix across the
// hrefs. Purely numeric suffixes become a \d+ wildcard; a single varying
// path segment becomes a [^/]+ wildcard; anything else falls back to
// prefix-only matching with lower confidence.
func deriveHrefPattern(hrefs []string) (string, float64) {
	prefix := longestCommonPrefix(hrefs)

	suffixes := make([]string, len(hrefs))
	allNumeric := true
	for i, h := range hrefs {
		suffixes[i] = h[len(prefix):]
		if !isNumeric(suffixes[i]) {
			allNumeric = false
		}
	}

	if allNumeric {
		return "^" + regexp.QuoteMeta(prefix) + `\d+$`, 0.9
	}

	// Single varying path segment, possibly with a shared literal tail.
	tail := longestCommonSuffix(suffixes)
	singleSegment := true
	for _, s := range suffixes {
		middle := strings.TrimSuffix(s, tail)
		if middle == "" || strings.Contains(middle, "/") {
			singleSegment = false
			break
		}
	}
	if singleSegment {
		return "^" + regexp.QuoteMeta(prefix) + `[^/]+` + regexp.QuoteMeta(tail) + "$", 0.85
	}

	return "^" + regexp.QuoteMeta(prefix), 0.6
}

// commonTag returns the tag shared by all visits, or "" when they disagree.
func commonTag(visits []types.DetailPageVisit) string {
	tag := visits[0].ClickedTag
	for _, v := range visits[1:] {
		if v.ClickedTag != tag {
			return ""
		}
	}
	return tag
}

// commonLocatorTemplate finds a locator shape shared by every visit: the
// most stable candidate whose digit-normalized form appears in all of them.
func commonLocatorTemplate(visits []types.DetailPageVisit) string {
	if len(visits) == 0 {
		return ""
	}
	for _, candidate := range visits[0].LocatorCandidates {
		template := normalizeLocator(candidate)
		shared := true
		for _, v := range visits[1:] {
			if !matchesTemplate(v.LocatorCandidates, template) {
				shared = false
				break
			}
		}
		if shared {
			return template
		}
	}
	return ""
}

// matchesTemplate reports whether any candidate normalizes to template.
func matchesTemplate(candidates []string, template string) bool {
	for _, c := range candidates {
		if normalizeLocator(c) == template {
			return true
		}
	}
	return false
}

// normalizeLocator collapses digit runs so positional indexes compare equal.
func normalizeLocator(locator string) string {
	return digitRun.ReplaceAllString(locator, "*")
}

func longestCommonPrefix(ss []string) string {
	prefix := ss[0]
	for _, s := range ss[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

func longestCommonSuffix(ss []string) string {
	suffix := ss[0]
	for _, s := range ss[1:] {
		for !strings.HasSuffix(s, suffix) {
			suffix = suffix[1:]
			if suffix == "" {
				return ""
			}
		}
	}
	return suffix
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

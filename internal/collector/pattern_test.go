package collector

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/linkwalk/linkwalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func visit(tag, href string, locators ...string) types.DetailPageVisit {
	return types.DetailPageVisit{
		ListPageURL:       "https://example.com/list",
		DetailPageURL:     "https://example.com" + href,
		ClickedTag:        tag,
		ClickedHref:       href,
		LocatorCandidates: locators,
	}
}

func TestExtractRequiresTwoVisits(t *testing.T) {
	e := NewExtractor(testLogger)

	_, err := e.Extract([]types.DetailPageVisit{visit("a", "/detail/1")})
	if !errors.Is(err, types.ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestExtractNumericSuffix(t *testing.T) {
	e := NewExtractor(testLogger)

	p, err := e.Extract([]types.DetailPageVisit{
		visit("a", "/detail/1"),
		visit("a", "/detail/2"),
		visit("a", "/detail/3"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if !p.MatchHref("/detail/42") {
		t.Error("pattern should match /detail/42")
	}
	if p.MatchHref("/category/1") {
		t.Error("pattern should not match /category/1")
	}
	if p.MatchHref("/detail/abc") {
		t.Error("numeric pattern should not match non-numeric suffix")
	}
	if p.Confidence < types.HighConfidence {
		t.Errorf("confidence = %.2f, want >= %.2f with 3 visits", p.Confidence, types.HighConfidence)
	}
}

func TestExtractTwoVisitConfidenceCap(t *testing.T) {
	e := NewExtractor(testLogger)

	p, err := e.Extract([]types.DetailPageVisit{
		visit("a", "/detail/1"),
		visit("a", "/detail/2"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if p.Confidence >= types.HighConfidence {
		t.Errorf("confidence = %.2f with 2 visits, want < %.2f", p.Confidence, types.HighConfidence)
	}
	if p.Trusted() {
		t.Error("2-visit pattern must not be trusted")
	}
}

func TestExtractSlugSegment(t *testing.T) {
	e := NewExtractor(testLogger)

	p, err := e.Extract([]types.DetailPageVisit{
		visit("a", "/item/red-shoes/view"),
		visit("a", "/item/blue-hat/view"),
		visit("a", "/item/green-coat/view"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if !p.MatchHref("/item/yellow-scarf/view") {
		t.Error("pattern should match another slug with the shared tail")
	}
	if p.MatchHref("/item/a/b/view") {
		t.Error("single-segment wildcard should not span slashes")
	}
}

func TestExtractDisagreeingTags(t *testing.T) {
	e := NewExtractor(testLogger)

	p, err := e.Extract([]types.DetailPageVisit{
		visit("a", "/detail/1"),
		visit("button", "/detail/2"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if p.TagPattern != "" {
		t.Errorf("tag pattern = %q, want empty when tags disagree", p.TagPattern)
	}
}

func TestMatchElementsFilterOrderAndResolution(t *testing.T) {
	e := NewExtractor(testLogger)

	p, err := e.Extract([]types.DetailPageVisit{
		visit("a", "/detail/1", "/html[1]/body[1]/div[1]/a[1]"),
		visit("a", "/detail/2", "/html[1]/body[1]/div[2]/a[1]"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	elements := []types.Element{
		{ID: 0, Tag: "a", Href: "/detail/7", LocatorCandidates: []string{"/html[1]/body[1]/div[3]/a[1]"}},
		{ID: 1, Tag: "button", Href: "/detail/8", LocatorCandidates: []string{"/html[1]/body[1]/div[4]/button[1]"}},
		{ID: 2, Tag: "a", Href: "/about", LocatorCandidates: []string{"/html[1]/body[1]/nav[1]/a[1]"}},
		{ID: 3, Tag: "a", Href: ""},
	}

	matches := e.MatchElements(p, elements, "https://example.com/list?page=2")
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].URL != "https://example.com/detail/7" {
		t.Errorf("resolved URL = %q", matches[0].URL)
	}
}

func TestMatchElementsResolvesRelativeHrefs(t *testing.T) {
	e := NewExtractor(testLogger)

	p, err := e.Extract([]types.DetailPageVisit{
		visit("a", "detail/1"),
		visit("a", "detail/2"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	elements := []types.Element{
		{Tag: "a", Href: "detail/9", LocatorCandidates: []string{"//a[1]"}},
	}
	matches := e.MatchElements(p, elements, "https://example.com/catalog/")
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].URL != "https://example.com/catalog/detail/9" {
		t.Errorf("resolved URL = %q", matches[0].URL)
	}
}

func TestNormalizeLocator(t *testing.T) {
	got := normalizeLocator("/html[1]/body[1]/div[17]/a[2]")
	want := "/html[*]/body[*]/div[*]/a[*]"
	if got != want {
		t.Errorf("normalizeLocator = %q, want %q", got, want)
	}
}

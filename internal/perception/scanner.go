// Package perception scans rendered pages for interactive elements and
// generates stable locator candidates for each one.
package perception

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/linkwalk/linkwalk/internal/collector"
	"github.com/linkwalk/linkwalk/internal/types"
)

const (
	maxElements = 200
	maxTextLen  = 120
)

// interactiveSelector matches the elements a collection run can act on.
const interactiveSelector = "a[href], button, [role='button'], [onclick]"

// Scanner implements element discovery over the driver's rendered HTML.
type Scanner struct {
	logger *slog.Logger
}

// New creates a page scanner.
func New(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logger.With("component", "perception")}
}

// Scan parses the current page and returns its interactive elements with
// locator candidates ordered by stability. Elements for which no unique
// locator can be built are dropped.
func (s *Scanner) Scan(ctx context.Context, drv collector.PageDriver) ([]types.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	markup, err := drv.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	// Second parse for XPath validation of generated candidates.
	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	var elements []types.Element
	doc.Find(interactiveSelector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(elements) >= maxElements {
			return false
		}

		node := sel.Get(0)
		if node == nil {
			return true
		}

		candidates := s.candidates(sel, node, root)
		if len(candidates) == 0 {
			return true
		}

		href, _ := sel.Attr("href")
		elements = append(elements, types.Element{
			ID:                len(elements),
			Tag:               goquery.NodeName(sel),
			Text:              truncate(strings.TrimSpace(sel.Text()), maxTextLen),
			Href:              href,
			LocatorCandidates: candidates,
		})
		return true
	})

	s.logger.Debug("page scanned", "elements", len(elements))
	return elements, nil
}

// candidates generates locator expressions for one element, ordered by
// stability. Attribute-based locators are kept only when they match the
// element uniquely in the document.
func (s *Scanner) candidates(sel *goquery.Selection, node *html.Node, root *html.Node) []string {
	tag := goquery.NodeName(sel)
	var out []string

	if id, ok := sel.Attr("id"); ok && xpathSafe(id) {
		out = appendIfUnique(out, root, fmt.Sprintf(`//*[@id='%s']`, id))
	}
	if tid, ok := sel.Attr("data-testid"); ok && xpathSafe(tid) {
		out = appendIfUnique(out, root, fmt.Sprintf(`//*[@data-testid='%s']`, tid))
	}
	if label, ok := sel.Attr("aria-label"); ok && xpathSafe(label) {
		out = appendIfUnique(out, root, fmt.Sprintf(`//%s[@aria-label='%s']`, tag, label))
	}

	text := strings.TrimSpace(sel.Text())
	if text != "" && len(text) <= 60 && xpathSafe(text) {
		out = appendIfUnique(out, root, fmt.Sprintf(`//%s[normalize-space()='%s']`, tag, text))
	}

	// Structural path is unique by construction and always last.
	out = append(out, structuralPath(node))
	return out
}

// appendIfUnique keeps the expression only when it resolves to exactly one
// node in the document.
func appendIfUnique(out []string, root *html.Node, expr string) []string {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil || len(nodes) != 1 {
		return out
	}
	return append(out, expr)
}

// structuralPath builds an absolute indexed XPath from the document root to
// the node.
func structuralPath(node *html.Node) string {
	var segments []string
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		idx := 1
		for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode && sib.Data == n.Data {
				idx++
			}
		}
		segments = append([]string{fmt.Sprintf("%s[%d]", n.Data, idx)}, segments...)
	}
	return "/" + strings.Join(segments, "/")
}

// xpathSafe rejects values that would break a single-quoted XPath literal.
func xpathSafe(v string) bool {
	return v != "" && !strings.ContainsAny(v, "'\"\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

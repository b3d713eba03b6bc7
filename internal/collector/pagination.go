package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/linkwalk/linkwalk/internal/config"
	"github.com/linkwalk/linkwalk/internal/types"
)

// PageState is the pagination state machine position.
type PageState int

const (
	StateAtPage PageState = iota
	StateAdvancing
	StateExhausted
	StateStuck
)

func (s PageState) String() string {
	switch s {
	case StateAtPage:
		return "at_page"
	case StateAdvancing:
		return "advancing"
	case StateExhausted:
		return "exhausted"
	case StateStuck:
		return "stuck"
	default:
		return "unknown"
	}
}

var pathPageRe = regexp.MustCompile(`/page[s/]?/?(\d+)(?:/|$)`)

// Paginator detects the current page position and drives advancement using
// layered strategies: ranked structural locators first, then a numeric
// page-link for the computed target page, then the decision-service vision
// fallback. EXHAUSTED is terminal.
type Paginator struct {
	cfg      config.PaginationConfig
	driver   PageDriver
	decision Decision
	logger   *slog.Logger

	state   PageState
	current int
}

// NewPaginator creates a paginator positioned at page 1.
func NewPaginator(cfg config.PaginationConfig, driver PageDriver, decision Decision, logger *slog.Logger) *Paginator {
	return &Paginator{
		cfg:      cfg,
		driver:   driver,
		decision: decision,
		logger:   logger.With("component", "paginator"),
		state:    StateAtPage,
		current:  1,
	}
}

// Page returns the current page number.
func (p *Paginator) Page() int { return p.current }

// State returns the state machine position.
func (p *Paginator) State() PageState { return p.state }

// SetPage positions the paginator, used on resume.
func (p *Paginator) SetPage(n int) {
	p.current = n
	p.state = StateAtPage
}

// DetectPage reads the current page number from on-page signals (URL query
// parameters and path segments). Falls back to the tracked position.
func (p *Paginator) DetectPage() int {
	raw, err := p.driver.CurrentURL()
	if err != nil {
		return p.current
	}
	u, err := url.Parse(raw)
	if err != nil {
		return p.current
	}

	q := u.Query()
	for _, key := range []string{"page", "p", "pg", "pagenum"} {
		if v := q.Get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 1 {
				return n
			}
		}
	}
	if m := pathPageRe.FindStringSubmatch(u.Path); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 {
			return n
		}
	}
	return p.current
}

// Advance moves to the next page. Returns types.ErrPagesExhausted when no
// strategy succeeds or the page ceiling is reached, and types.ErrPageStuck
// when a successful-looking click left the page number unchanged.
func (p *Paginator) Advance(ctx context.Context) error {
	if p.state == StateExhausted {
		return types.ErrPagesExhausted
	}
	if p.current >= p.cfg.MaxPages {
		p.state = StateExhausted
		p.logger.Info("page ceiling reached", "page", p.current, "max_pages", p.cfg.MaxPages)
		return types.ErrPagesExhausted
	}

	p.state = StateAdvancing
	before := p.DetectPage()
	beforeURL, _ := p.driver.CurrentURL()

	clicked := p.tryNextLocators(ctx) ||
		p.tryNumericLink(ctx, before+1) ||
		p.tryVisionFallback(ctx)

	if !clicked {
		p.state = StateExhausted
		p.logger.Info("no advancement strategy succeeded", "page", p.current)
		return types.ErrPagesExhausted
	}

	after := p.DetectPage()
	if after == before {
		// Pages without numeric signals: any URL change counts as advance.
		afterURL, _ := p.driver.CurrentURL()
		if afterURL != beforeURL && afterURL != "" {
			after = before + 1
		} else {
			p.state = StateStuck
			p.logger.Warn("advance click did not change page", "page", before)
			return types.ErrPageStuck
		}
	}

	p.current = after
	p.state = StateAtPage
	p.logger.Debug("advanced", "page", p.current)
	return nil
}

// tryNextLocators walks the ranked structural hints for a next-page control.
func (p *Paginator) tryNextLocators(ctx context.Context) bool {
	for _, locator := range p.cfg.NextLocators {
		if err := p.driver.WaitFor(ctx, locator, 2*time.Second); err != nil {
			continue
		}
		if err := p.driver.Click(ctx, locator); err != nil {
			p.logger.Debug("next locator click failed", "locator", locator, "error", err)
			continue
		}
		return true
	}
	return false
}

// tryNumericLink clicks a page link whose text is the target page number.
func (p *Paginator) tryNumericLink(ctx context.Context, target int) bool {
	locator := fmt.Sprintf(`//a[normalize-space(text())='%d']`, target)
	if err := p.driver.WaitFor(ctx, locator, 2*time.Second); err != nil {
		return false
	}
	if err := p.driver.Click(ctx, locator); err != nil {
		p.logger.Debug("numeric link click failed", "target", target, "error", err)
		return false
	}
	return true
}

// tryVisionFallback asks the decision service to identify a next-page
// control when the structural strategies find nothing.
func (p *Paginator) tryVisionFallback(ctx context.Context) bool {
	if !p.cfg.UseVisionHint || p.decision == nil {
		return false
	}

	pageState, err := p.driver.HTML()
	if err != nil {
		return false
	}
	action, err := p.decision.Decide(ctx, pageState,
		"identify the control that advances to the next page of this listing")
	if err != nil {
		p.logger.Debug("vision fallback failed", "error", err)
		return false
	}
	if action.Kind != ActionClick || strings.TrimSpace(action.Locator) == "" {
		return false
	}
	if err := p.driver.Click(ctx, action.Locator); err != nil {
		p.logger.Debug("vision locator click failed", "locator", action.Locator, "error", err)
		return false
	}
	return true
}

// MarkExhausted forces the terminal state; the orchestrator uses this after
// a stuck retry fails.
func (p *Paginator) MarkExhausted() {
	p.state = StateExhausted
}

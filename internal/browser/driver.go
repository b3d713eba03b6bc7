// Package browser implements the page driver on top of a headless
// Chromium instance controlled through Rod.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/linkwalk/linkwalk/internal/config"
	"github.com/linkwalk/linkwalk/internal/types"
)

// Driver wraps a single Rod page. The producer and the consumer each
// own their own Driver; a Driver is not safe for concurrent use.
type Driver struct {
	browser *rod.Browser
	page    *rod.Page
	cfg     config.BrowserConfig
	logger  *slog.Logger
}

// New launches a Chromium instance and opens one page on it.
func New(cfg config.BrowserConfig, logger *slog.Logger) (*Driver, error) {
	d := &Driver{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
	}

	launchURL, err := d.launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	d.browser = browser

	if cfg.Stealth {
		d.page, err = stealth.Page(browser)
	} else {
		d.page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	d.logger.Info("browser ready",
		"headless", cfg.Headless,
		"stealth", cfg.Stealth,
	)
	return d, nil
}

// launch starts Chromium with the usual automation-hardening flags.
func (d *Driver) launch() (string, error) {
	l := launcher.New().
		Headless(d.cfg.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if d.cfg.UserDataDir != "" {
		l = l.UserDataDir(d.cfg.UserDataDir)
	}
	if d.cfg.WindowSize != "" {
		l = l.Set("window-size", d.cfg.WindowSize)
	}

	return l.Launch()
}

// Navigate loads the URL and waits for the page to settle.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return &types.NavError{Op: "navigate", URL: url, Err: err, Retryable: true}
	}
	if err := page.WaitStable(300 * time.Millisecond); err != nil {
		d.logger.Warn("page stability timeout, continuing", "url", url, "error", err)
	}
	return nil
}

// CurrentURL returns the page's URL after any redirects.
func (d *Driver) CurrentURL() (string, error) {
	info, err := d.page.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// HTML returns the rendered document markup.
func (d *Driver) HTML() (string, error) {
	return d.page.HTML()
}

// Click resolves the locator and left-clicks it. Locators starting with
// "/" or "(" are treated as XPath, everything else as a CSS selector.
func (d *Driver) Click(ctx context.Context, locator string) error {
	el, err := d.element(ctx, locator)
	if err != nil {
		return &types.NavError{Op: "click", Locator: locator, Err: types.ErrElementNotFound}
	}
	if err := el.ScrollIntoView(); err != nil {
		d.logger.Debug("scroll into view failed", "locator", locator, "error", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &types.NavError{Op: "click", Locator: locator, Err: err, Retryable: true}
	}
	if err := d.page.Context(ctx).WaitStable(300 * time.Millisecond); err != nil {
		d.logger.Debug("post-click stability timeout", "locator", locator, "error", err)
	}
	return nil
}

// Scroll scrolls the viewport vertically by deltaY pixels.
func (d *Driver) Scroll(ctx context.Context, deltaY int) error {
	_, err := d.page.Context(ctx).Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, deltaY))
	if err != nil {
		return &types.NavError{Op: "scroll", Err: err}
	}
	return nil
}

// WaitFor blocks until the locator matches an element or the timeout
// elapses.
func (d *Driver) WaitFor(ctx context.Context, locator string, timeout time.Duration) error {
	_, err := d.element(ctx, locator, timeout)
	if err != nil {
		return &types.NavError{Op: "wait", Locator: locator, Err: types.ErrTimeout}
	}
	return nil
}

// Back navigates to the previous history entry.
func (d *Driver) Back(ctx context.Context) error {
	page := d.page.Context(ctx)
	if err := page.NavigateBack(); err != nil {
		return &types.NavError{Op: "back", Err: err}
	}
	if err := page.WaitStable(300 * time.Millisecond); err != nil {
		d.logger.Debug("post-back stability timeout", "error", err)
	}
	return nil
}

// Close shuts down the browser process.
func (d *Driver) Close() error {
	return d.browser.Close()
}

func (d *Driver) element(ctx context.Context, locator string, timeout ...time.Duration) (*rod.Element, error) {
	page := d.page.Context(ctx)
	if len(timeout) > 0 {
		page = page.Timeout(timeout[0])
	}
	if isXPath(locator) {
		return page.ElementX(locator)
	}
	return page.Element(locator)
}

func isXPath(locator string) bool {
	return strings.HasPrefix(locator, "/") || strings.HasPrefix(locator, "(") || strings.HasPrefix(locator, "./")
}

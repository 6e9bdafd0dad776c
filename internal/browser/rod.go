package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodDriver implements Driver with go-rod and stealth pages.
type RodDriver struct {
	opts Options

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	root     *rod.Page
	pages    []*rod.Page
}

// NewRodDriver creates an unstarted rod driver.
func NewRodDriver(opts Options) *RodDriver {
	return &RodDriver{opts: opts}
}

// Start launches the browser and opens a stealth page.
func (d *RodDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		return nil
	}

	l := launcher.New().
		Headless(d.opts.Headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if d.opts.UserAgent != "" {
		l = l.Set("user-agent", d.opts.UserAgent)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return &DriverError{Message: "failed to launch browser", Cause: err}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return &DriverError{Message: "failed to connect to browser", Cause: err}
	}

	page, err := d.newPage(browser)
	if err != nil {
		_ = browser.Close()
		l.Cleanup()
		return err
	}

	d.launcher = l
	d.browser = browser
	d.root = page
	d.opts.logger().WithField("headless", d.opts.Headless).Debug("[BROWSER] rod browser started")
	return nil
}

func (d *RodDriver) newPage(browser *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, &DriverError{Message: "failed to create stealth page", Cause: err}
	}

	width, height := d.opts.viewport()
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		d.opts.logger().WithError(err).Warn("[BROWSER] failed to set viewport")
	}

	if d.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.opts.UserAgent}); err != nil {
			d.opts.logger().WithError(err).Warn("[BROWSER] failed to set user agent")
		}
	}
	return page, nil
}

// page returns the current page bound to ctx and timeout.
func (d *RodDriver) page(ctx context.Context, timeout time.Duration) (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.root
	if n := len(d.pages); n > 0 {
		p = d.pages[n-1]
	}
	if p == nil {
		return nil, ErrNotStarted
	}
	return p.Context(ctx).Timeout(timeout), nil
}

func (d *RodDriver) element(ctx context.Context, sel string, timeout time.Duration) (*rod.Element, error) {
	p, err := d.page(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if IsXPath(sel) {
		return p.ElementX(sel)
	}
	return p.Element(sel)
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	p, err := d.page(ctx, d.opts.actionTimeout())
	if err != nil {
		return err
	}
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (d *RodDriver) Click(ctx context.Context, sel string) error {
	el, err := d.element(ctx, sel, d.opts.actionTimeout())
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (d *RodDriver) Fill(ctx context.Context, sel, text string) error {
	el, err := d.element(ctx, sel, d.opts.actionTimeout())
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (d *RodDriver) TypeSequentially(ctx context.Context, sel, text string, delay func() time.Duration) error {
	el, err := d.element(ctx, sel, d.opts.actionTimeout())
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return err
	}

	p, err := d.page(ctx, d.opts.actionTimeout())
	if err != nil {
		return err
	}
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return err
		}
		if delay != nil {
			if err := Sleep(ctx, delay()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *RodDriver) Exists(ctx context.Context, sel string) bool {
	p, err := d.page(ctx, d.opts.actionTimeout())
	if err != nil {
		return false
	}
	var has bool
	if IsXPath(sel) {
		has, _, err = p.HasX(sel)
	} else {
		has, _, err = p.Has(sel)
	}
	return err == nil && has
}

func (d *RodDriver) Text(ctx context.Context, sel string) (string, error) {
	el, err := d.element(ctx, sel, d.opts.actionTimeout())
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (d *RodDriver) Attribute(ctx context.Context, sel, name string) (string, error) {
	el, err := d.element(ctx, sel, d.opts.actionTimeout())
	if err != nil {
		return "", err
	}
	value, err := el.Attribute(name)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", fmt.Errorf("attribute %q on %q: %w", name, sel, ErrNotFound)
	}
	return *value, nil
}

func (d *RodDriver) HTML(ctx context.Context, sel string) (string, error) {
	el, err := d.element(ctx, sel, d.opts.actionTimeout())
	if err != nil {
		return "", err
	}
	return el.HTML()
}

func (d *RodDriver) WaitForSelector(ctx context.Context, sel string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.opts.actionTimeout()
	}
	_, err := d.element(ctx, sel, timeout)
	return err
}

func (d *RodDriver) Count(ctx context.Context, sel string) (int, error) {
	p, err := d.page(ctx, d.opts.actionTimeout())
	if err != nil {
		return 0, err
	}
	var els rod.Elements
	if IsXPath(sel) {
		els, err = p.ElementsX(sel)
	} else {
		els, err = p.Elements(sel)
	}
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func (d *RodDriver) lookup(ctx context.Context, parent string, index int, child, attr string) (string, error) {
	p, err := d.page(ctx, d.opts.actionTimeout())
	if err != nil {
		return "", err
	}
	obj, err := p.Eval(childLookupJS, parent, IsXPath(parent), index, child, attr)
	if err != nil {
		return "", err
	}
	if !obj.Value.Get("found").Bool() {
		return "", fmt.Errorf("%q[%d] %q: %w", parent, index, child, ErrNotFound)
	}
	return obj.Value.Get("value").Str(), nil
}

func (d *RodDriver) ChildText(ctx context.Context, parent string, index int, child string) (string, error) {
	return d.lookup(ctx, parent, index, child, "")
}

func (d *RodDriver) ChildAttr(ctx context.Context, parent string, index int, child, attr string) (string, error) {
	return d.lookup(ctx, parent, index, child, attr)
}

func (d *RodDriver) ScrollToBottom(ctx context.Context) error {
	p, err := d.page(ctx, d.opts.actionTimeout())
	if err != nil {
		return err
	}
	_, err = p.Eval(scrollToBottomJS)
	return err
}

func (d *RodDriver) OpenPage(ctx context.Context, url string) error {
	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()
	if browser == nil {
		return ErrNotStarted
	}

	page, err := d.newPage(browser)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.pages = append(d.pages, page)
	d.mu.Unlock()

	if err := d.Navigate(ctx, url); err != nil {
		_ = d.ClosePage(ctx)
		return err
	}
	return nil
}

func (d *RodDriver) ClosePage(_ context.Context) error {
	d.mu.Lock()
	n := len(d.pages)
	if n == 0 {
		d.mu.Unlock()
		return nil
	}
	page := d.pages[n-1]
	d.pages = d.pages[:n-1]
	d.mu.Unlock()

	return page.Close()
}

// CloseContext closes every page including the first one.
func (d *RodDriver) CloseContext(ctx context.Context) error {
	for {
		d.mu.Lock()
		n := len(d.pages)
		d.mu.Unlock()
		if n == 0 {
			break
		}
		_ = d.ClosePage(ctx)
	}

	d.mu.Lock()
	root := d.root
	d.root = nil
	d.mu.Unlock()
	if root == nil {
		return nil
	}
	return root.Close()
}

// CloseBrowser closes the browser and removes the launcher's profile directory.
func (d *RodDriver) CloseBrowser(_ context.Context) error {
	d.mu.Lock()
	browser, l := d.browser, d.launcher
	d.browser, d.launcher, d.root, d.pages = nil, nil, nil, nil
	d.mu.Unlock()

	var err error
	if browser != nil {
		err = browser.Close()
	}
	if l != nil {
		l.Cleanup()
		d.opts.logger().Debug("[BROWSER] rod browser stopped")
	}
	return err
}

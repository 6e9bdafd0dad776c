package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// ChromeDriver implements Driver with chromedp.
type ChromeDriver struct {
	opts Options

	mu          sync.Mutex
	allocCancel context.CancelFunc
	root        *chromeTab
	pages       []*chromeTab
}

// NewChromeDriver creates an unstarted chromedp driver.
func NewChromeDriver(opts Options) *ChromeDriver {
	return &ChromeDriver{opts: opts}
}

// Start launches Chrome. The browser outlives ctx cancellation and is only
// torn down by CloseContext and CloseBrowser.
func (d *ChromeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.root != nil {
		return nil
	}

	width, height := d.opts.viewport()
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(width, height),
	)
	if d.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(d.opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	launchCtx, cancel := context.WithTimeout(browserCtx, d.opts.actionTimeout())
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		browserCancel()
		allocCancel()
		return &DriverError{Message: "failed to launch Chrome", Cause: err}
	}

	d.allocCancel = allocCancel
	d.root = &chromeTab{ctx: browserCtx, cancel: browserCancel}
	d.opts.logger().WithField("headless", d.opts.Headless).Debug("[BROWSER] Chrome started")
	return nil
}

func (d *ChromeDriver) current() *chromeTab {
	if n := len(d.pages); n > 0 {
		return d.pages[n-1]
	}
	return d.root
}

// run executes actions on the current page, bounded by timeout and by ctx.
func (d *ChromeDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	d.mu.Lock()
	tab := d.current()
	d.mu.Unlock()
	if tab == nil {
		return ErrNotStarted
	}

	opCtx, cancel := context.WithTimeout(tab.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func by(sel string, all bool) chromedp.QueryOption {
	switch {
	case IsXPath(sel):
		return chromedp.BySearch
	case all:
		return chromedp.ByQueryAll
	default:
		return chromedp.ByQuery
	}
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, d.opts.actionTimeout(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *ChromeDriver) Click(ctx context.Context, sel string) error {
	return d.run(ctx, d.opts.actionTimeout(), chromedp.Click(sel, by(sel, false), chromedp.NodeVisible))
}

func (d *ChromeDriver) Fill(ctx context.Context, sel, text string) error {
	return d.run(ctx, d.opts.actionTimeout(),
		chromedp.Clear(sel, by(sel, false)),
		chromedp.SendKeys(sel, text, by(sel, false)),
	)
}

func (d *ChromeDriver) TypeSequentially(ctx context.Context, sel, text string, delay func() time.Duration) error {
	if err := d.run(ctx, d.opts.actionTimeout(), chromedp.Focus(sel, by(sel, false))); err != nil {
		return err
	}
	for _, r := range text {
		if err := d.run(ctx, d.opts.actionTimeout(), input.InsertText(string(r))); err != nil {
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

func (d *ChromeDriver) Exists(ctx context.Context, sel string) bool {
	n, err := d.Count(ctx, sel)
	return err == nil && n > 0
}

func (d *ChromeDriver) Text(ctx context.Context, sel string) (string, error) {
	var text string
	err := d.run(ctx, d.opts.actionTimeout(), chromedp.Text(sel, &text, by(sel, false)))
	return text, err
}

func (d *ChromeDriver) Attribute(ctx context.Context, sel, name string) (string, error) {
	var value string
	var ok bool
	if err := d.run(ctx, d.opts.actionTimeout(), chromedp.AttributeValue(sel, name, &value, &ok, by(sel, false))); err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("attribute %q on %q: %w", name, sel, ErrNotFound)
	}
	return value, nil
}

func (d *ChromeDriver) HTML(ctx context.Context, sel string) (string, error) {
	var html string
	err := d.run(ctx, d.opts.actionTimeout(), chromedp.OuterHTML(sel, &html, by(sel, false)))
	return html, err
}

func (d *ChromeDriver) WaitForSelector(ctx context.Context, sel string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.opts.actionTimeout()
	}
	return d.run(ctx, timeout, chromedp.WaitReady(sel, by(sel, false)))
}

func (d *ChromeDriver) Count(ctx context.Context, sel string) (int, error) {
	var nodes []*cdp.Node
	if err := d.run(ctx, d.opts.actionTimeout(), chromedp.Nodes(sel, &nodes, by(sel, true), chromedp.AtLeast(0))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (d *ChromeDriver) lookup(ctx context.Context, parent string, index int, child, attr string) (string, error) {
	args, err := json.Marshal([]any{parent, IsXPath(parent), index, child, attr})
	if err != nil {
		return "", err
	}
	expr := fmt.Sprintf("(%s)(...%s)", childLookupJS, args)

	var res lookupResult
	if err := d.run(ctx, d.opts.actionTimeout(), chromedp.Evaluate(expr, &res)); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%q[%d] %q: %w", parent, index, child, ErrNotFound)
	}
	return res.Value, nil
}

func (d *ChromeDriver) ChildText(ctx context.Context, parent string, index int, child string) (string, error) {
	return d.lookup(ctx, parent, index, child, "")
}

func (d *ChromeDriver) ChildAttr(ctx context.Context, parent string, index int, child, attr string) (string, error) {
	return d.lookup(ctx, parent, index, child, attr)
}

func (d *ChromeDriver) ScrollToBottom(ctx context.Context) error {
	var ok bool
	return d.run(ctx, d.opts.actionTimeout(), chromedp.Evaluate("("+scrollToBottomJS+")()", &ok))
}

func (d *ChromeDriver) OpenPage(ctx context.Context, url string) error {
	d.mu.Lock()
	if d.root == nil {
		d.mu.Unlock()
		return ErrNotStarted
	}
	tabCtx, tabCancel := chromedp.NewContext(d.root.ctx)
	d.pages = append(d.pages, &chromeTab{ctx: tabCtx, cancel: tabCancel})
	d.mu.Unlock()

	if err := d.Navigate(ctx, url); err != nil {
		_ = d.ClosePage(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (d *ChromeDriver) ClosePage(_ context.Context) error {
	d.mu.Lock()
	n := len(d.pages)
	if n == 0 {
		d.mu.Unlock()
		return nil
	}
	tab := d.pages[n-1]
	d.pages = d.pages[:n-1]
	d.mu.Unlock()

	err := chromedp.Cancel(tab.ctx)
	tab.cancel()
	return err
}

// CloseContext closes every tab including the first one.
func (d *ChromeDriver) CloseContext(ctx context.Context) error {
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

	err := chromedp.Cancel(root.ctx)
	root.cancel()
	return err
}

// CloseBrowser stops the Chrome process.
func (d *ChromeDriver) CloseBrowser(_ context.Context) error {
	d.mu.Lock()
	allocCancel := d.allocCancel
	d.allocCancel = nil
	d.root = nil
	d.pages = nil
	d.mu.Unlock()

	if allocCancel != nil {
		allocCancel()
		d.opts.logger().Debug("[BROWSER] Chrome stopped")
	}
	return nil
}

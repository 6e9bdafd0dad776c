package browser

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// Default retry settings for the Safe* actions.
const (
	DefaultRetries   = 3
	DefaultBaseDelay = 5 * time.Second
)

// Facade is the only way orchestration code touches the browser. SafeClick,
// SafeFill and SafeType retry with linear backoff (BaseDelay * attempt);
// every other primitive is a single attempt.
type Facade struct {
	driver    Driver
	retries   int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       logrus.FieldLogger
}

// FacadeOption customizes a Facade.
type FacadeOption func(*Facade)

// WithRetries sets the attempt count for Safe* actions.
func WithRetries(n int) FacadeOption {
	return func(f *Facade) {
		if n > 0 {
			f.retries = n
		}
	}
}

// WithBaseDelay sets the backoff unit for Safe* actions.
func WithBaseDelay(d time.Duration) FacadeOption {
	return func(f *Facade) {
		if d >= 0 {
			f.baseDelay = d
		}
	}
}

// WithSleeper replaces the context-aware sleep, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) FacadeOption {
	return func(f *Facade) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(log logrus.FieldLogger) FacadeOption {
	return func(f *Facade) {
		if log != nil {
			f.log = log
		}
	}
}

// NewFacade wraps driver.
func NewFacade(driver Driver, opts ...FacadeOption) *Facade {
	f := &Facade{
		driver:    driver,
		retries:   DefaultRetries,
		baseDelay: DefaultBaseDelay,
		sleep:     Sleep,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Driver returns the wrapped driver.
func (f *Facade) Driver() Driver {
	return f.driver
}

// Start launches the browser session.
func (f *Facade) Start(ctx context.Context) error {
	return f.driver.Start(ctx)
}

// SafeClick clicks sel, retrying on failure.
func (f *Facade) SafeClick(ctx context.Context, sel string) error {
	return f.retry(ctx, "click", sel, func() error {
		return f.driver.Click(ctx, sel)
	})
}

// SafeFill replaces the value of sel with text, retrying on failure.
func (f *Facade) SafeFill(ctx context.Context, sel, text string) error {
	return f.retry(ctx, "fill", sel, func() error {
		return f.driver.Fill(ctx, sel, text)
	})
}

// SafeType types text into sel one character at a time, retrying on failure.
// A retry re-types the whole text.
func (f *Facade) SafeType(ctx context.Context, sel, text string, delay func() time.Duration) error {
	return f.retry(ctx, "type", sel, func() error {
		return f.driver.TypeSequentially(ctx, sel, text, delay)
	})
}

func (f *Facade) retry(ctx context.Context, action, sel string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= f.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &ActionError{Action: action, Selector: sel, Attempts: attempt, Cause: ctx.Err()}
		}
		if attempt == f.retries {
			break
		}

		wait := f.baseDelay * time.Duration(attempt)
		f.log.WithFields(logrus.Fields{
			"action":   action,
			"selector": sel,
			"attempt":  attempt,
			"retry_in": wait,
		}).WithError(err).Warn("browser action failed, retrying")

		if serr := f.sleep(ctx, wait); serr != nil {
			return &ActionError{Action: action, Selector: sel, Attempts: attempt, Cause: serr}
		}
	}
	return &ActionError{Action: action, Selector: sel, Attempts: f.retries, Cause: err}
}

func (f *Facade) Navigate(ctx context.Context, url string) error {
	return f.driver.Navigate(ctx, url)
}

func (f *Facade) Exists(ctx context.Context, sel string) bool {
	return f.driver.Exists(ctx, sel)
}

func (f *Facade) GetText(ctx context.Context, sel string) (string, error) {
	return f.driver.Text(ctx, sel)
}

// GetCleanText returns the normalized visible text of the first element matching sel.
func (f *Facade) GetCleanText(ctx context.Context, sel string) (string, error) {
	html, err := f.driver.HTML(ctx, sel)
	if err != nil {
		return "", err
	}
	return ExtractText(html)
}

func (f *Facade) Attribute(ctx context.Context, sel, name string) (string, error) {
	return f.driver.Attribute(ctx, sel, name)
}

func (f *Facade) WaitForSelector(ctx context.Context, sel string, timeout time.Duration) error {
	return f.driver.WaitForSelector(ctx, sel, timeout)
}

func (f *Facade) Count(ctx context.Context, sel string) (int, error) {
	return f.driver.Count(ctx, sel)
}

func (f *Facade) ChildText(ctx context.Context, parent string, index int, child string) (string, error) {
	return f.driver.ChildText(ctx, parent, index, child)
}

func (f *Facade) ChildAttr(ctx context.Context, parent string, index int, child, attr string) (string, error) {
	return f.driver.ChildAttr(ctx, parent, index, child, attr)
}

func (f *Facade) ScrollToBottom(ctx context.Context) error {
	return f.driver.ScrollToBottom(ctx)
}

func (f *Facade) OpenPage(ctx context.Context, url string) error {
	return f.driver.OpenPage(ctx, url)
}

func (f *Facade) ClosePage(ctx context.Context) error {
	return f.driver.ClosePage(ctx)
}

func (f *Facade) CloseContext(ctx context.Context) error {
	return f.driver.CloseContext(ctx)
}

func (f *Facade) CloseBrowser(ctx context.Context) error {
	return f.driver.CloseBrowser(ctx)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RandomDelay returns a function yielding durations uniformly distributed in [lo, hi].
func RandomDelay(lo, hi time.Duration) func() time.Duration {
	if hi < lo {
		lo, hi = hi, lo
	}
	return func() time.Duration {
		if hi == lo {
			return lo
		}
		return lo + rand.N(hi-lo+1)
	}
}

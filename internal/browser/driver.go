// Package browser drives a live browser session for the seekers. Orchestration
// code talks to a Facade, which wraps a Driver (chromedp or rod) and adds
// retrying variants of the primitives that tend to flake.
package browser

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Driver is the primitive capability set of a browser automation backend.
//
// Selectors starting with "/" or "(" are XPath; anything else is CSS.
// Child selectors passed to ChildText and ChildAttr are always CSS and are
// resolved inside the index-th element matched by the parent selector.
type Driver interface {
	// Start launches the browser and opens the first page.
	Start(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, sel string) error
	Fill(ctx context.Context, sel, text string) error
	// TypeSequentially types text one character at a time, sleeping delay() between characters.
	TypeSequentially(ctx context.Context, sel, text string, delay func() time.Duration) error
	Exists(ctx context.Context, sel string) bool
	Text(ctx context.Context, sel string) (string, error)
	Attribute(ctx context.Context, sel, name string) (string, error)
	// HTML returns the outer HTML of the first element matching sel.
	HTML(ctx context.Context, sel string) (string, error)
	WaitForSelector(ctx context.Context, sel string, timeout time.Duration) error
	Count(ctx context.Context, sel string) (int, error)
	ChildText(ctx context.Context, parent string, index int, child string) (string, error)
	ChildAttr(ctx context.Context, parent string, index int, child, attr string) (string, error)
	ScrollToBottom(ctx context.Context) error
	// OpenPage opens url in a new tab that becomes the current page.
	OpenPage(ctx context.Context, url string) error
	// ClosePage closes the current page; the previous one becomes current.
	ClosePage(ctx context.Context) error
	CloseContext(ctx context.Context) error
	CloseBrowser(ctx context.Context) error
}

// Kind names a Driver implementation.
type Kind string

const (
	KindChromedp Kind = "chromedp"
	KindRod      Kind = "rod"
)

// Options configures a Driver.
type Options struct {
	Headless  bool
	UserAgent string
	// ActionTimeout bounds every single primitive; zero means DefaultActionTimeout.
	ActionTimeout time.Duration
	Width         int
	Height        int
	// Logger receives lifecycle messages; nil means the standard logrus logger.
	Logger logrus.FieldLogger
}

// DefaultActionTimeout bounds primitives that would otherwise wait for an element forever.
const DefaultActionTimeout = 30 * time.Second

func (o Options) actionTimeout() time.Duration {
	if o.ActionTimeout <= 0 {
		return DefaultActionTimeout
	}
	return o.ActionTimeout
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

func (o Options) viewport() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = 1920
	}
	if h <= 0 {
		h = 1080
	}
	return w, h
}

// NewDriver returns the driver named by kind. Empty means chromedp.
func NewDriver(kind Kind, opts Options) (Driver, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case KindChromedp, "":
		return NewChromeDriver(opts), nil
	case KindRod:
		return NewRodDriver(opts), nil
	default:
		return nil, &DriverError{Message: "unknown driver " + string(kind)}
	}
}

// IsXPath reports whether sel is an XPath expression.
func IsXPath(sel string) bool {
	sel = strings.TrimSpace(sel)
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// Package browsertest provides a scriptable in-memory browser.Driver.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Fake records every call and delegates to optional per-method funcs.
// Methods whose func is nil succeed with zero values.
type Fake struct {
	mu    sync.Mutex
	calls []string

	Started bool
	// Pages is the stack of URLs opened with OpenPage.
	Pages []string
	URL   string

	StartErr        error
	ClosePageErr    error
	CloseContextErr error
	CloseBrowserErr error

	NavigateFunc  func(url string) error
	ClickFunc     func(sel string) error
	FillFunc      func(sel, text string) error
	TypeFunc      func(sel, text string) error
	ExistsFunc    func(sel string) bool
	TextFunc      func(sel string) (string, error)
	AttrFunc      func(sel, name string) (string, error)
	HTMLFunc      func(sel string) (string, error)
	WaitFunc      func(sel string, timeout time.Duration) error
	CountFunc     func(sel string) (int, error)
	ChildTextFunc func(parent string, index int, child string) (string, error)
	ChildAttrFunc func(parent string, index int, child, attr string) (string, error)
	ScrollFunc    func() error
	OpenPageFunc  func(url string) error
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// Calls returns a copy of the recorded calls in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (f *Fake) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) Start(context.Context) error {
	f.record("start")
	if f.StartErr != nil {
		return f.StartErr
	}
	f.mu.Lock()
	f.Started = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Navigate(_ context.Context, url string) error {
	f.record("navigate %s", url)
	if f.NavigateFunc != nil {
		if err := f.NavigateFunc(url); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.URL = url
	f.mu.Unlock()
	return nil
}

func (f *Fake) Click(_ context.Context, sel string) error {
	f.record("click %s", sel)
	if f.ClickFunc != nil {
		return f.ClickFunc(sel)
	}
	return nil
}

func (f *Fake) Fill(_ context.Context, sel, text string) error {
	f.record("fill %s %s", sel, text)
	if f.FillFunc != nil {
		return f.FillFunc(sel, text)
	}
	return nil
}

func (f *Fake) TypeSequentially(_ context.Context, sel, text string, delay func() time.Duration) error {
	f.record("type %s %s", sel, text)
	if delay != nil {
		delay()
	}
	if f.TypeFunc != nil {
		return f.TypeFunc(sel, text)
	}
	return nil
}

func (f *Fake) Exists(_ context.Context, sel string) bool {
	f.record("exists %s", sel)
	if f.ExistsFunc != nil {
		return f.ExistsFunc(sel)
	}
	return false
}

func (f *Fake) Text(_ context.Context, sel string) (string, error) {
	f.record("text %s", sel)
	if f.TextFunc != nil {
		return f.TextFunc(sel)
	}
	return "", nil
}

func (f *Fake) Attribute(_ context.Context, sel, name string) (string, error) {
	f.record("attr %s %s", sel, name)
	if f.AttrFunc != nil {
		return f.AttrFunc(sel, name)
	}
	return "", nil
}

func (f *Fake) HTML(_ context.Context, sel string) (string, error) {
	f.record("html %s", sel)
	if f.HTMLFunc != nil {
		return f.HTMLFunc(sel)
	}
	return "", nil
}

func (f *Fake) WaitForSelector(_ context.Context, sel string, timeout time.Duration) error {
	f.record("wait %s", sel)
	if f.WaitFunc != nil {
		return f.WaitFunc(sel, timeout)
	}
	return nil
}

func (f *Fake) Count(_ context.Context, sel string) (int, error) {
	f.record("count %s", sel)
	if f.CountFunc != nil {
		return f.CountFunc(sel)
	}
	return 0, nil
}

func (f *Fake) ChildText(_ context.Context, parent string, index int, child string) (string, error) {
	f.record("childtext %s %d %s", parent, index, child)
	if f.ChildTextFunc != nil {
		return f.ChildTextFunc(parent, index, child)
	}
	return "", nil
}

func (f *Fake) ChildAttr(_ context.Context, parent string, index int, child, attr string) (string, error) {
	f.record("childattr %s %d %s %s", parent, index, child, attr)
	if f.ChildAttrFunc != nil {
		return f.ChildAttrFunc(parent, index, child, attr)
	}
	return "", nil
}

func (f *Fake) ScrollToBottom(context.Context) error {
	f.record("scroll")
	if f.ScrollFunc != nil {
		return f.ScrollFunc()
	}
	return nil
}

func (f *Fake) OpenPage(_ context.Context, url string) error {
	f.record("openpage %s", url)
	if f.OpenPageFunc != nil {
		if err := f.OpenPageFunc(url); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.Pages = append(f.Pages, url)
	f.mu.Unlock()
	return nil
}

func (f *Fake) ClosePage(context.Context) error {
	f.record("closepage")
	f.mu.Lock()
	if n := len(f.Pages); n > 0 {
		f.Pages = f.Pages[:n-1]
	}
	f.mu.Unlock()
	return f.ClosePageErr
}

func (f *Fake) CloseContext(context.Context) error {
	f.record("closecontext")
	return f.CloseContextErr
}

func (f *Fake) CloseBrowser(context.Context) error {
	f.record("closebrowser")
	f.mu.Lock()
	f.Started = false
	f.mu.Unlock()
	return f.CloseBrowserErr
}

// OpenPages returns the number of pages opened with OpenPage and not yet closed.
func (f *Fake) OpenPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Pages)
}

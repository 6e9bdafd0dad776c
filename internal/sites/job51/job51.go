// Package job51 drives the 51job.com (前程无忧) job board.
package job51

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/types"
)

const (
	Name      = "job51"
	HomeURL   = "https://www.51job.com"
	LoginURL  = "https://login.51job.com/login.php"
	SearchURL = "https://we.51job.com/pc/search"

	DefaultDailyCap = 100
)

const (
	selUserName = "a.uname"

	selResults = "div.joblist"
	selCard    = "div.joblist-item"
	selTitle   = ".jname"
	selCompany = ".cname"
	selLink    = "a[href]"

	selDescription  = "div.bmsg.job_msg"
	selVerification = "//p[contains(@class,'waf-nc-title')][contains(text(),'安全验证')]"

	selApply              = "a#app_ck"
	selSuccessPopup       = "div.successContent"
	selSuccessPopupClose  = "div.successContent i.van-icon-cross"
	selExternalPopup      = "//div[contains(@class,'el-dialog__body')][contains(.,'需要到企业招聘平台单独申请')]"
	selExternalPopupClose = "button.el-dialog__headerbtn"
)

const loggedOutLabel = "登录"

// ErrExternalApplication means the employer only accepts applications on its own site.
var ErrExternalApplication = errors.New("employer requires applying on its own site")

// Site implements seeker.Site for 51job.com.
type Site struct {
	popupDelay  time.Duration
	descTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes a Site.
type Option func(*Site)

// WithSleeper replaces the context-aware sleep, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Site) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// New returns the 51job.com site.
func New(opts ...Option) *Site {
	s := &Site{
		popupDelay:  2 * time.Second,
		descTimeout: 15 * time.Second,
		sleep:       browser.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ seeker.Site = (*Site)(nil)

func (s *Site) Name() string     { return Name }
func (s *Site) HomeURL() string  { return HomeURL }
func (s *Site) LoginURL() string { return LoginURL }

// IsLoggedIn checks the header user link, which reads "登录" until the user logs in.
func (s *Site) IsLoggedIn(ctx context.Context, f *browser.Facade) bool {
	if !f.Exists(ctx, selUserName) {
		return false
	}
	name, err := f.GetText(ctx, selUserName)
	if err != nil {
		return false
	}
	name = strings.TrimSpace(name)
	return name != "" && name != loggedOutLabel
}

// Cities returns a single empty entry: every city goes into one query.
func (s *Site) Cities(types.SearchCriteria) []string {
	return []string{""}
}

func (s *Site) SearchURL(c types.SearchCriteria, keyword, _ string) string {
	q := SearchURL + "?keyword=" + url.QueryEscape(keyword)
	if len(c.Cities) > 0 {
		q += "&jobArea=" + strings.Join(c.Cities, ",")
	}
	return q
}

func (s *Site) ResultsSelector() string { return selResults }
func (s *Site) CardSelector() string    { return selCard }

func (s *Site) ReadListing(ctx context.Context, f *browser.Facade, index int) (types.JobListing, error) {
	title, err := f.ChildText(ctx, selCard, index, selTitle)
	if err != nil {
		return types.JobListing{}, fmt.Errorf("read title: %w", err)
	}
	company, err := f.ChildText(ctx, selCard, index, selCompany)
	if err != nil {
		return types.JobListing{}, fmt.Errorf("read company: %w", err)
	}
	href, err := f.ChildAttr(ctx, selCard, index, selLink, "href")
	if err != nil {
		return types.JobListing{}, fmt.Errorf("read detail link: %w", err)
	}
	detail, err := browser.ResolveURL(HomeURL, href)
	if err != nil {
		return types.JobListing{}, fmt.Errorf("read detail link: %w", err)
	}

	job := types.JobListing{
		Index:     index,
		Company:   strings.TrimSpace(company),
		Title:     strings.TrimSpace(title),
		DetailURL: detail,
	}
	if job.Company == "" || job.Title == "" {
		return job, fmt.Errorf("card %d has no company or title", index)
	}
	return job, nil
}

// CheckApplicable refuses while the anti-bot verification popup is up.
func (s *Site) CheckApplicable(ctx context.Context, f *browser.Facade) (bool, string) {
	if f.Exists(ctx, selVerification) {
		return false, "security verification required"
	}
	return true, ""
}

func (s *Site) ReadDescription(ctx context.Context, f *browser.Facade) (string, error) {
	if err := f.WaitForSelector(ctx, selDescription, s.descTimeout); err != nil {
		return "", err
	}
	text, err := f.GetCleanText(ctx, selDescription)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("empty job description")
	}
	return text, nil
}

// Submit clicks the apply button and clears the popups that follow. 51job
// has no chat, so the greeting is not sent.
func (s *Site) Submit(ctx context.Context, f *browser.Facade, _ types.JobListing, _ string, p seeker.Pacer) error {
	if err := f.SafeClick(ctx, selApply); err != nil {
		return fmt.Errorf("click apply: %w", err)
	}
	if err := s.sleep(ctx, s.popupDelay); err != nil {
		return err
	}

	if f.Exists(ctx, selExternalPopup) {
		// Best effort; the page is closed afterwards anyway.
		_ = f.SafeClick(ctx, selExternalPopupClose)
		return ErrExternalApplication
	}
	if f.Exists(ctx, selSuccessPopup) {
		_ = f.SafeClick(ctx, selSuccessPopupClose)
	}
	return p.Pace(ctx)
}

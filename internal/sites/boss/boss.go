// Package boss drives the zhipin.com (BOSS直聘) job board.
package boss

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/types"
)

const (
	Name     = "boss"
	HomeURL  = "https://www.zhipin.com"
	LoginURL = "https://www.zhipin.com/web/user/?ka=header-login"

	// NationwideCity is the city code used when no city is configured.
	NationwideCity = "100010000"
	// DefaultDailyCap mirrors the board's own daily chat allowance.
	DefaultDailyCap = 300
)

// Page selectors. Leading "/" marks XPath.
const (
	selLoginScanSwitch = "//*[normalize-space(text())='APP扫码登录']"
	selLoggedIn        = ".user-nav"
	selQRCode          = "img[src^='/wapi/zpweixin/qrcode/getqrcode']"

	selResults = "//div[@class='job-list-container']"
	selCard    = "li.job-card-box"
	selTitle   = "a.job-name"
	selCompany = "span.boss-name"

	selDescription = "//div[contains(@class,'job-detail-section')][.//h3[contains(text(),'职位描述')]]//*[contains(@class,'job-sec-text')]"
	selLimitBanner = "//*[contains(text(),'已达上限')]"
	selHRActive    = ".job-boss-info .boss-active-time"

	selContact   = "//a[contains(normalize-space(.),'立即沟通')]"
	selChatInput = ".input-area"
	selSend      = ".send-message"
)

const inactiveHRMarker = "日前活跃"

// facetOrder fixes the query parameter order of the optional filters.
var facetOrder = []string{"experience", "degree", "salary", "jobType", "scale", "stage"}

// Site implements seeker.Site for zhipin.com.
type Site struct {
	loginSettle time.Duration
	qrTimeout   time.Duration
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

// New returns the zhipin.com site.
func New(opts ...Option) *Site {
	s := &Site{
		loginSettle: 2 * time.Second,
		qrTimeout:   10 * time.Second,
		descTimeout: 15 * time.Second,
		sleep:       browser.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ seeker.Site          = (*Site)(nil)
	_ seeker.LoginPreparer = (*Site)(nil)
)

func (s *Site) Name() string     { return Name }
func (s *Site) HomeURL() string  { return HomeURL }
func (s *Site) LoginURL() string { return LoginURL }

func (s *Site) IsLoggedIn(ctx context.Context, f *browser.Facade) bool {
	return f.Exists(ctx, selLoggedIn)
}

// PrepareLogin switches the login form to QR mode and logs the QR image URL
// so the user can scan it from the phone app.
func (s *Site) PrepareLogin(ctx context.Context, f *browser.Facade, log logrus.FieldLogger) error {
	if err := s.sleep(ctx, s.loginSettle); err != nil {
		return err
	}
	if !f.Exists(ctx, selLoginScanSwitch) {
		return nil
	}
	if err := f.SafeClick(ctx, selLoginScanSwitch); err != nil {
		return fmt.Errorf("switch to QR login: %w", err)
	}
	log.Info("switched to app QR login, scan the code with the phone app")

	if err := f.WaitForSelector(ctx, selQRCode, s.qrTimeout); err != nil {
		return fmt.Errorf("wait for QR code: %w", err)
	}
	src, err := f.Attribute(ctx, selQRCode, "src")
	if err != nil {
		return fmt.Errorf("read QR code: %w", err)
	}
	qr, err := browser.ResolveURL(HomeURL, src)
	if err != nil {
		return fmt.Errorf("read QR code: %w", err)
	}
	log.WithField("qr_url", qr).Info("login QR code")
	return nil
}

// Cities returns the configured city codes, or the nationwide code.
func (s *Site) Cities(c types.SearchCriteria) []string {
	if len(c.Cities) == 0 {
		return []string{NationwideCity}
	}
	return append([]string(nil), c.Cities...)
}

// SearchURL builds /web/geek/job?query=..&city=.. plus every non-empty facet.
func (s *Site) SearchURL(c types.SearchCriteria, keyword, city string) string {
	params := []string{
		"query=" + url.QueryEscape(keyword),
		"city=" + url.QueryEscape(city),
	}
	facets := c.Facets()
	for _, key := range facetOrder {
		if v, ok := facets[key]; ok {
			params = append(params, key+"="+url.QueryEscape(v))
		}
	}
	return HomeURL + "/web/geek/job?" + strings.Join(params, "&")
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
	href, err := f.ChildAttr(ctx, selCard, index, selTitle, "href")
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

// CheckApplicable refuses when the daily chat limit banner is shown or the
// recruiter was last active days ago. Unreadable pages are not applicable.
func (s *Site) CheckApplicable(ctx context.Context, f *browser.Facade) (bool, string) {
	if f.Exists(ctx, selLimitBanner) {
		return false, "daily chat limit reached"
	}
	if !f.Exists(ctx, selHRActive) {
		return true, ""
	}
	active, err := f.GetText(ctx, selHRActive)
	if err != nil {
		return false, "recruiter activity unreadable: " + err.Error()
	}
	if strings.Contains(active, inactiveHRMarker) {
		return false, "recruiter inactive: " + strings.TrimSpace(active)
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

// Submit opens the chat from the detail page and sends the greeting.
func (s *Site) Submit(ctx context.Context, f *browser.Facade, _ types.JobListing, greeting string, p seeker.Pacer) error {
	if strings.TrimSpace(greeting) == "" {
		return fmt.Errorf("empty greeting")
	}
	if err := f.SafeClick(ctx, selContact); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	if err := p.Pace(ctx); err != nil {
		return err
	}
	if err := f.SafeType(ctx, selChatInput, greeting, p.TypeDelay); err != nil {
		return fmt.Errorf("type greeting: %w", err)
	}
	if err := f.SafeClick(ctx, selSend); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	return nil
}

package boss

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/browser/browsertest"
	"github.com/jonathan/job-pilot/internal/types"
)

type stubPacer struct{ paces int }

func (p *stubPacer) Pace(context.Context) error { p.paces++; return nil }
func (p *stubPacer) TypeDelay() time.Duration   { return 0 }

func noSleep(context.Context, time.Duration) error { return nil }

func newFacade(d *browsertest.Fake) *browser.Facade {
	log, _ := test.NewNullLogger()
	return browser.NewFacade(d, browser.WithSleeper(noSleep), browser.WithLogger(log), browser.WithRetries(2))
}

func TestSite_SearchURL(t *testing.T) {
	s := New()
	tests := []struct {
		name     string
		criteria types.SearchCriteria
		keyword  string
		city     string
		want     string
	}{
		{
			name:     "keyword and city only",
			criteria: types.SearchCriteria{Keywords: []string{"golang"}},
			keyword:  "golang",
			city:     "101020100",
			want:     "https://www.zhipin.com/web/geek/job?query=golang&city=101020100",
		},
		{
			name: "facets in fixed order",
			criteria: types.SearchCriteria{
				Keywords:   []string{"backend developer"},
				Stage:      "807",
				Experience: "104",
				Salary:     "405",
			},
			keyword: "backend developer",
			city:    "101010100",
			want:    "https://www.zhipin.com/web/geek/job?query=backend+developer&city=101010100&experience=104&salary=405&stage=807",
		},
		{
			name:     "blank facets omitted",
			criteria: types.SearchCriteria{Keywords: []string{"go"}, Degree: "  "},
			keyword:  "go",
			city:     "100010000",
			want:     "https://www.zhipin.com/web/geek/job?query=go&city=100010000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.SearchURL(tt.criteria, tt.keyword, tt.city))
		})
	}
}

func TestSite_Cities(t *testing.T) {
	s := New()
	assert.Equal(t, []string{NationwideCity}, s.Cities(types.SearchCriteria{}))
	assert.Equal(t, []string{"101020100", "101010100"}, s.Cities(types.SearchCriteria{Cities: []string{"101020100", "101010100"}}))
}

func TestSite_ReadListing(t *testing.T) {
	d := &browsertest.Fake{
		ChildTextFunc: func(parent string, index int, child string) (string, error) {
			assert.Equal(t, selCard, parent)
			assert.Equal(t, 3, index)
			switch child {
			case selTitle:
				return "  Go Engineer ", nil
			case selCompany:
				return "Acme", nil
			}
			return "", errors.New("unexpected child " + child)
		},
		ChildAttrFunc: func(_ string, _ int, child, attr string) (string, error) {
			assert.Equal(t, selTitle, child)
			assert.Equal(t, "href", attr)
			return "/job_detail/abc.html", nil
		},
	}

	job, err := New().ReadListing(context.Background(), newFacade(d), 3)
	require.NoError(t, err)
	assert.Equal(t, types.JobListing{
		Index:     3,
		Company:   "Acme",
		Title:     "Go Engineer",
		DetailURL: "https://www.zhipin.com/job_detail/abc.html",
	}, job)
}

func TestSite_ReadListing_MissingFields(t *testing.T) {
	d := &browsertest.Fake{
		ChildAttrFunc: func(string, int, string, string) (string, error) { return "/job_detail/x.html", nil },
	}
	_, err := New().ReadListing(context.Background(), newFacade(d), 0)
	assert.Error(t, err)

	d = &browsertest.Fake{
		ChildTextFunc: func(string, int, string) (string, error) { return "x", nil },
	}
	_, err = New().ReadListing(context.Background(), newFacade(d), 0)
	assert.Error(t, err, "missing href must fail")
}

func TestSite_CheckApplicable(t *testing.T) {
	tests := []struct {
		name       string
		limit      bool
		hrActive   string
		wantOK     bool
		wantReason string
	}{
		{name: "fresh posting", wantOK: true},
		{name: "active today", hrActive: "刚刚活跃", wantOK: true},
		{name: "limit banner", limit: true, wantReason: "daily chat limit"},
		{name: "inactive recruiter", hrActive: "3日前活跃", wantReason: "recruiter inactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &browsertest.Fake{
				ExistsFunc: func(sel string) bool {
					switch sel {
					case selLimitBanner:
						return tt.limit
					case selHRActive:
						return tt.hrActive != ""
					}
					return false
				},
				TextFunc: func(string) (string, error) { return tt.hrActive, nil },
			}
			ok, reason := New().CheckApplicable(context.Background(), newFacade(d))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantReason != "" {
				assert.Contains(t, reason, tt.wantReason)
			}
		})
	}
}

func TestSite_ReadDescription(t *testing.T) {
	d := &browsertest.Fake{
		HTMLFunc: func(sel string) (string, error) {
			assert.True(t, browser.IsXPath(sel))
			return "<div class='job-sec-text'>Build services<br>in Go</div>", nil
		},
	}
	desc, err := New().ReadDescription(context.Background(), newFacade(d))
	require.NoError(t, err)
	assert.Equal(t, "Build services\nin Go", desc)

	d = &browsertest.Fake{HTMLFunc: func(string) (string, error) { return "<div></div>", nil }}
	_, err = New().ReadDescription(context.Background(), newFacade(d))
	assert.Error(t, err)
}

func TestSite_Submit(t *testing.T) {
	d := &browsertest.Fake{}
	p := &stubPacer{}

	err := New().Submit(context.Background(), newFacade(d), types.JobListing{}, "你好", p)
	require.NoError(t, err)

	var steps []string
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, "click") || strings.HasPrefix(c, "type") {
			steps = append(steps, c)
		}
	}
	assert.Equal(t, []string{
		"click " + selContact,
		"type " + selChatInput + " 你好",
		"click " + selSend,
	}, steps)
	assert.Equal(t, 1, p.paces)
}

func TestSite_Submit_SendFailureIsReported(t *testing.T) {
	d := &browsertest.Fake{
		ClickFunc: func(sel string) error {
			if sel == selSend {
				return errors.New("detached")
			}
			return nil
		},
	}
	err := New().Submit(context.Background(), newFacade(d), types.JobListing{}, "hi", &stubPacer{})

	var ae *browser.ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, ae.Attempts)
	assert.Len(t, d.CallsWithPrefix("click "+selSend), 2)
}

func TestSite_Submit_RejectsEmptyGreeting(t *testing.T) {
	d := &browsertest.Fake{}
	err := New().Submit(context.Background(), newFacade(d), types.JobListing{}, "  ", &stubPacer{})
	assert.Error(t, err)
	assert.Empty(t, d.Calls())
}

func TestSite_PrepareLogin_LogsQRCode(t *testing.T) {
	d := &browsertest.Fake{
		ExistsFunc: func(sel string) bool { return sel == selLoginScanSwitch },
		AttrFunc: func(sel, name string) (string, error) {
			assert.Equal(t, selQRCode, sel)
			return "/wapi/zpweixin/qrcode/getqrcode?content=abc", nil
		},
	}
	log, hook := test.NewNullLogger()

	err := New(WithSleeper(noSleep)).PrepareLogin(context.Background(), newFacade(d), log)
	require.NoError(t, err)

	assert.Contains(t, d.Calls(), "click "+selLoginScanSwitch)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "https://www.zhipin.com/wapi/zpweixin/qrcode/getqrcode?content=abc", entry.Data["qr_url"])
}

func TestSite_PrepareLogin_NoSwitchIsFine(t *testing.T) {
	d := &browsertest.Fake{}
	log, hook := test.NewNullLogger()

	err := New(WithSleeper(noSleep)).PrepareLogin(context.Background(), newFacade(d), log)
	require.NoError(t, err)
	assert.Empty(t, d.CallsWithPrefix("click"))
	assert.Empty(t, hook.AllEntries())
}

func TestSite_IsLoggedIn(t *testing.T) {
	d := &browsertest.Fake{ExistsFunc: func(sel string) bool { return sel == selLoggedIn }}
	assert.True(t, New().IsLoggedIn(context.Background(), newFacade(d)))
	assert.False(t, New().IsLoggedIn(context.Background(), newFacade(&browsertest.Fake{})))
}

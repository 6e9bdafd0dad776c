package job51

import (
	"context"
	"errors"
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
	return browser.NewFacade(d, browser.WithSleeper(noSleep), browser.WithLogger(log))
}

func TestSite_SearchURL(t *testing.T) {
	s := New()

	got := s.SearchURL(types.SearchCriteria{Keywords: []string{"golang"}}, "golang", "")
	assert.Equal(t, "https://we.51job.com/pc/search?keyword=golang", got)

	got = s.SearchURL(types.SearchCriteria{Cities: []string{"020000", "010000"}}, "backend dev", "")
	assert.Equal(t, "https://we.51job.com/pc/search?keyword=backend+dev&jobArea=020000,010000", got)
}

func TestSite_CitiesIsSingleQuery(t *testing.T) {
	assert.Equal(t, []string{""}, New().Cities(types.SearchCriteria{Cities: []string{"020000", "010000"}}))
}

func TestSite_IsLoggedIn(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		text   string
		want   bool
	}{
		{"no header link", false, "", false},
		{"login label", true, " 登录 ", false},
		{"user name", true, "张三", true},
		{"blank", true, "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &browsertest.Fake{
				ExistsFunc: func(string) bool { return tt.exists },
				TextFunc:   func(string) (string, error) { return tt.text, nil },
			}
			assert.Equal(t, tt.want, New().IsLoggedIn(context.Background(), newFacade(d)))
		})
	}
}

func TestSite_ReadListing(t *testing.T) {
	d := &browsertest.Fake{
		ChildTextFunc: func(_ string, _ int, child string) (string, error) {
			if child == selTitle {
				return "Go 开发工程师", nil
			}
			return "Initech", nil
		},
		ChildAttrFunc: func(string, int, string, string) (string, error) {
			return "https://jobs.51job.com/shanghai/123.html?s=sou_sou_soulb", nil
		},
	}
	job, err := New().ReadListing(context.Background(), newFacade(d), 1)
	require.NoError(t, err)
	assert.Equal(t, "Initech", job.Company)
	assert.Equal(t, "Go 开发工程师", job.Title)
	assert.Equal(t, "https://jobs.51job.com/shanghai/123.html?s=sou_sou_soulb", job.DetailURL)
	assert.Equal(t, 1, job.Index)
}

func TestSite_CheckApplicable(t *testing.T) {
	d := &browsertest.Fake{ExistsFunc: func(sel string) bool { return sel == selVerification }}
	ok, reason := New().CheckApplicable(context.Background(), newFacade(d))
	assert.False(t, ok)
	assert.Contains(t, reason, "verification")

	ok, _ = New().CheckApplicable(context.Background(), newFacade(&browsertest.Fake{}))
	assert.True(t, ok)
}

func TestSite_Submit_ClosesSuccessPopup(t *testing.T) {
	d := &browsertest.Fake{ExistsFunc: func(sel string) bool { return sel == selSuccessPopup }}
	p := &stubPacer{}

	err := New(WithSleeper(noSleep)).Submit(context.Background(), newFacade(d), types.JobListing{}, "ignored", p)
	require.NoError(t, err)
	assert.Equal(t, []string{"click " + selApply, "click " + selSuccessPopupClose}, d.CallsWithPrefix("click"))
	assert.Empty(t, d.CallsWithPrefix("type"))
	assert.Equal(t, 1, p.paces)
}

func TestSite_Submit_ExternalApplication(t *testing.T) {
	d := &browsertest.Fake{ExistsFunc: func(sel string) bool { return sel == selExternalPopup }}

	err := New(WithSleeper(noSleep)).Submit(context.Background(), newFacade(d), types.JobListing{}, "", &stubPacer{})
	assert.ErrorIs(t, err, ErrExternalApplication)
	assert.Contains(t, d.Calls(), "click "+selExternalPopupClose)
}

func TestSite_Submit_ApplyButtonMissing(t *testing.T) {
	d := &browsertest.Fake{ClickFunc: func(string) error { return errors.New("not found") }}

	err := New(WithSleeper(noSleep)).Submit(context.Background(), newFacade(d), types.JobListing{}, "", &stubPacer{})
	var ae *browser.ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, browser.DefaultRetries, ae.Attempts)
}

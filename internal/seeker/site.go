package seeker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/types"
)

// Site is everything that differs between job boards. The orchestrator owns
// the flow; a Site only knows URLs, selectors and page-level gestures.
type Site interface {
	Name() string
	HomeURL() string
	LoginURL() string
	IsLoggedIn(ctx context.Context, f *browser.Facade) bool

	// Cities returns the outer search loop. Sites that fold every city into
	// one query return a single empty string.
	Cities(c types.SearchCriteria) []string
	SearchURL(c types.SearchCriteria, keyword, city string) string
	ResultsSelector() string
	CardSelector() string

	// ReadListing reads company, title and detail URL of the index-th card.
	ReadListing(ctx context.Context, f *browser.Facade, index int) (types.JobListing, error)
	// CheckApplicable inspects the open detail page. A false result carries the reason.
	CheckApplicable(ctx context.Context, f *browser.Facade) (bool, string)
	ReadDescription(ctx context.Context, f *browser.Facade) (string, error)
	// Submit sends greeting from the open detail page.
	Submit(ctx context.Context, f *browser.Facade, job types.JobListing, greeting string, p Pacer) error
}

// LoginPreparer is implemented by sites that need a gesture on the login
// page before the user can log in.
type LoginPreparer interface {
	PrepareLogin(ctx context.Context, f *browser.Facade, log logrus.FieldLogger) error
}

// Pacer hands a Site the run's human-like delays.
type Pacer interface {
	// Pace sleeps a random pacing delay.
	Pace(ctx context.Context) error
	// TypeDelay returns the delay between two typed characters.
	TypeDelay() time.Duration
}

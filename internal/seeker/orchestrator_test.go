package seeker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/browser/browsertest"
	"github.com/jonathan/job-pilot/internal/ledger"
	"github.com/jonathan/job-pilot/internal/match"
	"github.com/jonathan/job-pilot/internal/ratelimit"
	"github.com/jonathan/job-pilot/internal/types"
)

// --- fakes ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memStore struct {
	mu   sync.Mutex
	snap ledger.Snapshot
}

func (m *memStore) Load(context.Context) (ledger.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledger.Snapshot{
		Records:   append([]types.SubmissionRecord(nil), m.snap.Records...),
		Blacklist: append([]string(nil), m.snap.Blacklist...),
	}, nil
}

func (m *memStore) Save(_ context.Context, snap ledger.Snapshot) error {
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeSite struct {
	mu        sync.Mutex
	listings  []types.JobListing
	loggedIn  func() bool
	notApply  map[int]string
	submitErr error
	current   int
	greetings []string
	prepared  bool
}

func (s *fakeSite) Name() string     { return "fake" }
func (s *fakeSite) HomeURL() string  { return "https://jobs.example/home" }
func (s *fakeSite) LoginURL() string { return "https://jobs.example/login" }

func (s *fakeSite) IsLoggedIn(context.Context, *browser.Facade) bool {
	if s.loggedIn == nil {
		return true
	}
	return s.loggedIn()
}

func (s *fakeSite) PrepareLogin(context.Context, *browser.Facade, logrus.FieldLogger) error {
	s.prepared = true
	return nil
}

func (s *fakeSite) Cities(c types.SearchCriteria) []string {
	if len(c.Cities) == 0 {
		return []string{""}
	}
	return c.Cities
}

func (s *fakeSite) SearchURL(_ types.SearchCriteria, keyword, city string) string {
	return "https://jobs.example/search?q=" + keyword + "&city=" + city
}

func (s *fakeSite) ResultsSelector() string { return "div.results" }
func (s *fakeSite) CardSelector() string    { return "li.card" }

func (s *fakeSite) ReadListing(_ context.Context, _ *browser.Facade, index int) (types.JobListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= len(s.listings) {
		return types.JobListing{}, errors.New("no such card")
	}
	s.current = index
	return s.listings[index], nil
}

func (s *fakeSite) CheckApplicable(context.Context, *browser.Facade) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason, ok := s.notApply[s.current]; ok {
		return false, reason
	}
	return true, ""
}

func (s *fakeSite) ReadDescription(context.Context, *browser.Facade) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return "description of " + s.listings[s.current].Title, nil
}

func (s *fakeSite) Submit(ctx context.Context, f *browser.Facade, _ types.JobListing, greeting string, p Pacer) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	if err := f.SafeType(ctx, ".chat", greeting, p.TypeDelay); err != nil {
		return err
	}
	s.mu.Lock()
	s.greetings = append(s.greetings, greeting)
	s.mu.Unlock()
	return nil
}

type mockEvaluator struct {
	mu           sync.Mutex
	calls        int
	EvaluateFunc func(call int, req match.Request) (types.MatchVerdict, error)
}

func (m *mockEvaluator) Evaluate(_ context.Context, req match.Request) (types.MatchVerdict, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(call, req)
	}
	return types.MatchVerdict{Match: true, Reasoning: "fits", Greeting: "Hello!"}, nil
}

func (m *mockEvaluator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- harness ---

type harness struct {
	clock     *testClock
	driver    *browsertest.Fake
	site      *fakeSite
	store     *memStore
	ledger    *ledger.Ledger
	limiter   *ratelimit.Limiter
	evaluator *mockEvaluator
	criteria  types.SearchCriteria
	opts      Options
	states    []State
}

func newHarness(t *testing.T, listings ...types.JobListing) *harness {
	t.Helper()
	h := &harness{
		clock:     &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		driver:    &browsertest.Fake{},
		site:      &fakeSite{listings: listings},
		store:     &memStore{},
		evaluator: &mockEvaluator{},
		criteria:  types.SearchCriteria{Keywords: []string{"golang"}},
	}
	h.driver.CountFunc = func(string) (int, error) { return len(h.site.listings), nil }
	h.limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig(), ratelimit.WithClock(h.clock.Now))
	h.opts = Options{
		Sleep: func(ctx context.Context, d time.Duration) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h.clock.Advance(d)
			return nil
		},
		Random: func(lo, _ time.Duration) time.Duration { return lo },
		Now:    h.clock.Now,
		OnStateChange: func(_, to State) {
			h.states = append(h.states, to)
		},
	}
	return h
}

func (h *harness) build(t *testing.T) *Orchestrator {
	t.Helper()
	if h.ledger == nil {
		l, err := ledger.New(context.Background(), h.store, ledger.WithClock(h.clock.Now))
		require.NoError(t, err)
		h.ledger = l
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	facade := browser.NewFacade(h.driver,
		browser.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		browser.WithLogger(quiet),
	)
	o, err := New(Deps{
		Site:      h.site,
		Browser:   facade,
		Ledger:    h.ledger,
		Limiter:   h.limiter,
		Evaluator: h.evaluator,
		Criteria:  h.criteria,
		Profile:   Profile{Resume: "Go developer", RejectionRules: "no outsourcing", PreferenceRules: "remote"},
		Logger:    quiet,
	}, h.opts)
	require.NoError(t, err)
	return o
}

func job(company, title string) types.JobListing {
	return types.JobListing{Company: company, Title: title, DetailURL: "https://jobs.example/detail/" + strings.ToLower(company)}
}

func lastCalls(calls []string, n int) []string {
	if len(calls) < n {
		return calls
	}
	return calls[len(calls)-n:]
}

// --- tests ---

func TestNew_RequiresDependencies(t *testing.T) {
	h := newHarness(t)
	o := h.build(t)
	require.NotNil(t, o)
	assert.Equal(t, StateCreated, o.State())
	assert.NotEmpty(t, o.RunID())

	_, err := New(Deps{}, Options{})
	assert.Error(t, err)

	h.criteria = types.SearchCriteria{}
	_, err = New(Deps{
		Site:      h.site,
		Browser:   browser.NewFacade(h.driver),
		Ledger:    h.ledger,
		Limiter:   h.limiter,
		Evaluator: h.evaluator,
		Criteria:  h.criteria,
	}, Options{})
	assert.Error(t, err, "empty keyword list must be rejected")
}

func TestRun_HappyPathSubmitsAndRecords(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 1, res.Evaluated)
	assert.Empty(t, res.Errors)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	assert.Equal(t, []string{"Hello!"}, h.site.greetings)
	assert.False(t, h.ledger.CanProceed("acme", "backend engineer"), "submission must be recorded")
	assert.Len(t, h.store.snap.Records, 1)
	assert.Equal(t, 1, h.limiter.Snapshot().Hourly)

	assert.Contains(t, h.driver.Calls(), "openpage https://jobs.example/detail/acme")
	assert.Contains(t, h.driver.Calls(), "type .chat Hello!")
	assert.Equal(t, 0, h.driver.OpenPages(), "detail page must be closed")
	assert.Equal(t, []string{"closepage", "closecontext", "closebrowser"}, lastCalls(h.driver.Calls(), 3))

	assert.Equal(t, []State{
		StateInitializing, StateAwaitingLogin, StateSearching,
		StateEvaluating, StateApplying, StateSearching,
		StateDone, StateShutdown,
	}, h.states)
	assert.Equal(t, StateShutdown, o.State())
}

func TestRun_AlreadyLoggedInSkipsLoginPage(t *testing.T) {
	h := newHarness(t)
	o := h.build(t)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, h.driver.Calls(), "navigate https://jobs.example/home")
	assert.NotContains(t, h.driver.Calls(), "navigate https://jobs.example/login")
	assert.False(t, h.site.prepared)
}

func TestRun_WaitsForLogin(t *testing.T) {
	h := newHarness(t)
	polls := 0
	h.site.loggedIn = func() bool {
		polls++
		return polls > 3
	}
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Contains(t, h.driver.Calls(), "navigate https://jobs.example/login")
	assert.True(t, h.site.prepared)
}

func TestRun_LoginTimeout(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	h.site.loggedIn = func() bool { return false }
	h.opts.LoginTimeout = 5 * time.Second
	o := h.build(t)

	start := h.clock.Now()
	res, err := o.Run(context.Background())

	var lte *LoginTimeoutError
	require.ErrorAs(t, err, &lte)
	assert.Equal(t, 5*time.Second, lte.Timeout)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 5*time.Second, h.clock.Now().Sub(start))
	assert.Equal(t, 0, h.evaluator.Calls())
	assert.Equal(t, []string{"closepage", "closecontext", "closebrowser"}, lastCalls(h.driver.Calls(), 3))
}

func TestRun_InitializationFailure(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	h.driver.StartErr = errors.New("chrome not found")
	o := h.build(t)

	res, err := o.Run(context.Background())

	var ie *InitializationError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, err.Error(), "chrome not found")
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, h.driver.CallsWithPrefix("navigate"))
	assert.Equal(t, []string{"closepage", "closecontext", "closebrowser"}, lastCalls(h.driver.Calls(), 3))
}

func TestRun_ShutdownErrorsAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.driver.ClosePageErr = errors.New("page gone")
	h.driver.CloseContextErr = errors.New("context gone")
	h.driver.CloseBrowserErr = errors.New("browser gone")
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []string{"closepage", "closecontext", "closebrowser"}, lastCalls(h.driver.Calls(), 3))
}

func TestRun_BlacklistedCompanyHasNoSideEffects(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	h.store.snap.Blacklist = []string{"ACME"}
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Submitted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, h.evaluator.Calls())
	assert.Empty(t, h.driver.CallsWithPrefix("openpage"))
	assert.Empty(t, h.store.snap.Records)
}

func TestRun_CooldownSkipsRecentSubmission(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"), job("Globex", "Platform Engineer"))
	h.store.snap.Records = []types.SubmissionRecord{
		{Company: "Acme", Title: "Backend Engineer", SubmittedAt: h.clock.Now().Add(-5 * 24 * time.Hour)},
		{Company: "Globex", Title: "Platform Engineer", SubmittedAt: h.clock.Now().Add(-16 * 24 * time.Hour)},
	}
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 1, h.evaluator.Calls())
	assert.Equal(t, []string{"openpage https://jobs.example/detail/globex"}, h.driver.CallsWithPrefix("openpage"))
}

func TestRun_MixedPageSubmitsOnlyFreshMatch(t *testing.T) {
	h := newHarness(t,
		job("Initech", "Go Developer"),
		job("Acme", "Backend Engineer"),
		job("Globex", "Platform Engineer"),
	)
	h.store.snap.Blacklist = []string{"initech"}
	h.store.snap.Records = []types.SubmissionRecord{
		{Company: "Acme", Title: "Backend Engineer", SubmittedAt: h.clock.Now().Add(-10 * 24 * time.Hour)},
	}
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 1, h.evaluator.Calls())
	assert.Equal(t, []string{"openpage https://jobs.example/detail/globex"}, h.driver.CallsWithPrefix("openpage"))
	assert.Equal(t, []string{"Hello!"}, h.site.greetings)

	require.Len(t, h.store.snap.Records, 2)
	assert.False(t, h.ledger.CanProceed("Globex", "Platform Engineer"))
	assert.Equal(t, 1, h.limiter.Snapshot().Hourly)
}

func TestRun_NonMatchIsSkipped(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	h.evaluator.EvaluateFunc = func(int, match.Request) (types.MatchVerdict, error) {
		return types.MatchVerdict{Match: false, Reasoning: "requires Java"}, nil
	}
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Submitted)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, h.site.greetings)
	assert.Equal(t, 0, h.driver.OpenPages())
	assert.Empty(t, h.store.snap.Records)
}

func TestRun_EvaluatorReceivesProfileAndDescription(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	var got match.Request
	h.evaluator.EvaluateFunc = func(_ int, req match.Request) (types.MatchVerdict, error) {
		got = req
		return types.MatchVerdict{}, nil
	}
	o := h.build(t)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, match.Request{
		JobDescription:  "description of Backend Engineer",
		Profile:         "Go developer",
		RejectionRules:  "no outsourcing",
		PreferenceRules: "remote",
	}, got)
}

func TestRun_NotApplicablePageIsSkippedBeforeEvaluation(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	h.site.notApply = map[int]string{0: "daily chat limit reached"}
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, h.evaluator.Calls())
	assert.Equal(t, 0, h.driver.OpenPages())
}

func TestRun_DryRunSendsNothing(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	h.opts.DryRun = true
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Submitted)
	assert.Empty(t, h.site.greetings)
	assert.Empty(t, h.store.snap.Records)
	assert.Equal(t, 0, h.limiter.Snapshot().Hourly)
	assert.True(t, h.ledger.CanProceed("Acme", "Backend Engineer"))
}

func TestRun_SubmitFailureIsIsolated(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"), job("Globex", "Platform Engineer"))
	h.site.submitErr = errors.New("send button missing")
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, res.Submitted)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Errors, 2)

	var ae *ApplyError
	require.ErrorAs(t, res.Errors[0], &ae)
	assert.Equal(t, "Acme", ae.Company)
	assert.Equal(t, "Backend Engineer", ae.Title)
	assert.Empty(t, h.store.snap.Records)
	assert.Len(t, res.Messages, 2)
}

func TestRun_SearchFailureMovesToNextKeyword(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	h.criteria.Keywords = []string{"rust", "golang"}
	h.driver.WaitFunc = func(string, time.Duration) error {
		if strings.Contains(h.driver.URL, "q=rust") {
			return errors.New("results never appeared")
		}
		return nil
	}
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	var se *SearchError
	require.ErrorAs(t, res.Errors[0], &se)
	assert.Equal(t, "rust", se.Keyword)
	assert.Equal(t, 1, res.Submitted)
}

func TestRun_SearchOrderIsCitiesThenKeywords(t *testing.T) {
	h := newHarness(t)
	h.criteria.Keywords = []string{"go", "rust"}
	h.criteria.Cities = []string{"sh", "bj"}
	o := h.build(t)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	var searches []string
	for _, c := range h.driver.CallsWithPrefix("navigate https://jobs.example/search") {
		searches = append(searches, strings.TrimPrefix(c, "navigate https://jobs.example/search?"))
	}
	assert.Equal(t, []string{"q=go&city=sh", "q=rust&city=sh", "q=go&city=bj", "q=rust&city=bj"}, searches)
}

func TestRun_ScrollStopsAfterTwoStrikes(t *testing.T) {
	h := newHarness(t)
	counts := []int{10, 20, 20, 20, 30}
	i := 0
	h.driver.CountFunc = func(string) (int, error) {
		n := counts[min(i, len(counts)-1)]
		i++
		return n, nil
	}
	o := h.build(t)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.driver.CallsWithPrefix("scroll"), 3)
}

func TestRun_ScrollIsBoundedByMaxScrolls(t *testing.T) {
	h := newHarness(t)
	h.opts.MaxScrolls = 5
	n := 0
	h.driver.CountFunc = func(string) (int, error) {
		n++
		return n, nil
	}
	// Cards past the listings slice fail to read and are skipped.
	o := h.build(t)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.driver.CallsWithPrefix("scroll"), 5)
}

// A stop requested after the first card must prevent any work on the second.
func TestRun_StopBetweenCards(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"), job("Globex", "Platform Engineer"))
	var o *Orchestrator
	h.evaluator.EvaluateFunc = func(call int, _ match.Request) (types.MatchVerdict, error) {
		if call == 1 {
			o.Stop()
		}
		return types.MatchVerdict{Match: false, Reasoning: "no"}, nil
	}
	o = h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, 1, h.evaluator.Calls())
	assert.Equal(t, []string{"openpage https://jobs.example/detail/acme"}, h.driver.CallsWithPrefix("openpage"))
	assert.Equal(t, 0, h.site.current, "second card must not be read")
	assert.Equal(t, []string{"closepage", "closecontext", "closebrowser"}, lastCalls(h.driver.Calls(), 3))
	assert.Equal(t, 0, h.driver.OpenPages())
}

func TestRun_CancelledContextBeforeStart(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	o := h.build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, 0, h.evaluator.Calls())
}

func TestRun_RejectsSecondRun(t *testing.T) {
	h := newHarness(t)
	o := h.build(t)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	assert.Error(t, err)
}

// An hourly cap of one lets the first job through and abandons the page at the second.
func TestRun_HourlyCapAbandonsPage(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"), job("Globex", "Platform Engineer"))
	cfg := ratelimit.DefaultConfig()
	cfg.HourlyCap = 1
	h.limiter = ratelimit.NewLimiter(cfg, ratelimit.WithClock(h.clock.Now))
	o := h.build(t)

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 1, h.evaluator.Calls())
	assert.Equal(t, []string{"Hello!"}, h.site.greetings)
	assert.Equal(t, []string{"openpage https://jobs.example/detail/acme"}, h.driver.CallsWithPrefix("openpage"))
	assert.True(t, h.ledger.CanProceed("Globex", "Platform Engineer"))
}

func TestRun_ProgressEvents(t *testing.T) {
	h := newHarness(t, job("Acme", "Backend Engineer"))
	var steps []string
	h.opts.OnProgress = func(ev ProgressEvent) {
		assert.NotEmpty(t, ev.RunID)
		steps = append(steps, ev.Step)
	}
	o := h.build(t)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"init", "login", "search", "search", "apply"}, steps)
}

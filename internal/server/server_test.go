package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-pilot/internal/config"
	"github.com/jonathan/job-pilot/internal/observability"
	"github.com/jonathan/job-pilot/internal/runner"
	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/types"
)

const testPassword = "hunter22"

type fakeRuns struct {
	mu       sync.Mutex
	started  []runner.Request
	stopped  []string
	statuses map[string]runner.Status
	startErr error
	shutdown bool
	// polls counts Status calls so event stream tests can end a run.
	polls int
	onPoll func(n int, st *runner.Status)
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{statuses: map[string]runner.Status{}}
}

func (f *fakeRuns) Start(_ context.Context, req runner.Request) (runner.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return runner.Status{}, f.startErr
	}
	f.started = append(f.started, req)
	st := runner.Status{Site: req.Site, Running: true, Result: seeker.Result{RunID: "run-1", Site: req.Site, State: seeker.StateCreated}}
	f.statuses[req.Site] = st
	return st, nil
}

func (f *fakeRuns) Stop(site string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[site]
	if !ok || !st.Running {
		return runner.ErrNotRunning
	}
	f.stopped = append(f.stopped, site)
	return nil
}

func (f *fakeRuns) Status(site string) (runner.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[site]
	if !ok {
		return runner.Status{}, runner.ErrUnknownSite
	}
	f.polls++
	if f.onPoll != nil {
		f.onPoll(f.polls, &st)
		f.statuses[site] = st
	}
	return st, nil
}

func (f *fakeRuns) Logs(site string) []observability.RecentLine {
	if site != "boss" {
		return nil
	}
	return []observability.RecentLine{{Level: "info", Site: "boss", Text: "[10:00:00] searching"}}
}

func (f *fakeRuns) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

type fakeLedger struct {
	records   []types.SubmissionRecord
	blacklist []string
}

func (l *fakeLedger) Records() []types.SubmissionRecord { return l.records }
func (l *fakeLedger) Blacklist() []string               { return append([]string(nil), l.blacklist...) }

func (l *fakeLedger) AddToBlacklist(_ context.Context, company string) error {
	l.blacklist = append(l.blacklist, company)
	return nil
}

func (l *fakeLedger) RemoveFromBlacklist(_ context.Context, company string) (bool, error) {
	for i, c := range l.blacklist {
		if c == company {
			l.blacklist = append(l.blacklist[:i], l.blacklist[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	runs    *fakeRuns
	ledger  *fakeLedger
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	passwords := &config.PasswordConfig{BcryptCost: 10}
	hash, err := passwords.HashPassword(testPassword)
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	runs := newFakeRuns()
	ledger := &fakeLedger{}
	s, err := New(Config{
		Port:          0,
		JWT:           &config.JWTConfig{Secret: testSecret, ExpirationHours: 1},
		Passwords:     passwords,
		PasswordHash:  hash,
		Logger:        log,
		EventInterval: time.Millisecond,
	}, runs, ledger)
	require.NoError(t, err)

	token, _, err := s.jwtService.GenerateToken(operatorSubject)
	require.NoError(t, err)

	return &testEnv{server: s, handler: s.Handler(), runs: runs, ledger: ledger, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{}, newFakeRuns(), &fakeLedger{})
	assert.Error(t, err)

	_, err = New(Config{JWT: &config.JWTConfig{}, Passwords: &config.PasswordConfig{}}, nil, &fakeLedger{})
	assert.Error(t, err)
}

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	for _, path := range []string{"/runs/boss", "/blacklist", "/submissions", "/runs/boss/logs"} {
		w := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestAuthToken(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodPost, "/auth/token", TokenRequest{Password: testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[TokenResponse](t, w)
	require.NotEmpty(t, resp.Token)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	// The issued token opens protected routes.
	env.token = resp.Token
	w = env.do(t, http.MethodGet, "/blacklist", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthToken_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodPost, "/auth/token", TokenRequest{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/auth/token", TokenRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthToken_NoPasswordConfigured(t *testing.T) {
	passwords := &config.PasswordConfig{BcryptCost: 10}
	h := NewAuthHandler(passwords, "", NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: 1}))

	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"password":"anything"}`))
	w := httptest.NewRecorder()
	h.Token(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartRun(t *testing.T) {
	env := newTestEnv(t)
	dry := true

	w := env.do(t, http.MethodPost, "/runs/zhipin", runner.Request{
		Criteria: types.SearchCriteria{Keywords: []string{"golang"}, Cities: []string{"101020100"}},
		DryRun:   &dry,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	st := decode[runner.Status](t, w)
	assert.Equal(t, "boss", st.Site)
	assert.True(t, st.Running)

	require.Len(t, env.runs.started, 1)
	assert.Equal(t, "boss", env.runs.started[0].Site, "alias resolves to the canonical site")
	assert.Equal(t, []string{"golang"}, env.runs.started[0].Criteria.Keywords)
	require.NotNil(t, env.runs.started[0].DryRun)
	assert.True(t, *env.runs.started[0].DryRun)
}

func TestStartRun_Errors(t *testing.T) {
	env := newTestEnv(t)
	criteria := runner.Request{Criteria: types.SearchCriteria{Keywords: []string{"go"}}}

	w := env.do(t, http.MethodPost, "/runs/linkedin", criteria)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/runs/boss", runner.Request{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "criteria without keywords")

	env.runs.startErr = runner.ErrAlreadyRunning
	w = env.do(t, http.MethodPost, "/runs/boss", criteria)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStopRun(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodDelete, "/runs/boss", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "nothing running yet")

	env.do(t, http.MethodPost, "/runs/boss", runner.Request{Criteria: types.SearchCriteria{Keywords: []string{"go"}}})
	w = env.do(t, http.MethodDelete, "/runs/boss", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"boss"}, env.runs.stopped)
}

func TestRunStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/runs/job51", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.runs.statuses["job51"] = runner.Status{Site: "job51", Result: seeker.Result{RunID: "r9", State: seeker.StateDone, Submitted: 4}}
	w = env.do(t, http.MethodGet, "/runs/51job", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[runner.Status](t, w)
	assert.Equal(t, "r9", st.Result.RunID)
	assert.Equal(t, 4, st.Result.Submitted)
}

func TestRunLogs(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/runs/boss/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Lines []observability.RecentLine `json:"lines"`
	}](t, w)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "[10:00:00] searching", resp.Lines[0].Text)

	w = env.do(t, http.MethodGet, "/runs/job51/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lines":[]`)
}

func TestRunEvents(t *testing.T) {
	env := newTestEnv(t)
	env.runs.statuses["boss"] = runner.Status{Site: "boss", Running: true, Result: seeker.Result{RunID: "r1", State: seeker.StateSearching}}
	env.runs.onPoll = func(n int, st *runner.Status) {
		switch n {
		case 3:
			st.Result.Submitted = 1
		case 5:
			st.Running = false
			st.Result.State = seeker.StateDone
		}
	}

	w := env.do(t, http.MethodGet, "/runs/boss/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: status\n"), "only changes are streamed")
	assert.Equal(t, 1, strings.Count(body, "event: complete\n"))
	assert.Contains(t, body, `"state":"DONE"`)
}

func TestBlacklist(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/blacklist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"companies":[]`)

	w = env.do(t, http.MethodPost, "/blacklist", BlacklistRequest{Company: "  Zeta Corp "})
	assert.Equal(t, http.StatusCreated, w.Code)
	env.do(t, http.MethodPost, "/blacklist", BlacklistRequest{Company: "Acme"})

	w = env.do(t, http.MethodPost, "/blacklist", BlacklistRequest{Company: " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/blacklist", nil)
	resp := decode[map[string][]string](t, w)
	assert.Equal(t, []string{"Acme", "Zeta Corp"}, resp["companies"])

	w = env.do(t, http.MethodDelete, "/blacklist/Acme", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodDelete, "/blacklist/Acme", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmissions(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	env.ledger.records = []types.SubmissionRecord{
		{Company: "Acme", Title: "Go Dev", SubmittedAt: base},
		{Company: "Beta", Title: "SRE", SubmittedAt: base.Add(time.Hour)},
		{Company: "acme labs", Title: "Backend", SubmittedAt: base.Add(2 * time.Hour)},
	}

	type listing struct {
		Total       int                      `json:"total"`
		Submissions []types.SubmissionRecord `json:"submissions"`
	}

	w := env.do(t, http.MethodGet, "/submissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[listing](t, w)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Submissions, 3)
	assert.Equal(t, "acme labs", resp.Submissions[0].Company, "newest first")

	w = env.do(t, http.MethodGet, "/submissions?limit=1", nil)
	assert.Len(t, decode[listing](t, w).Submissions, 1)

	w = env.do(t, http.MethodGet, "/submissions?company=ACME", nil)
	got := decode[listing](t, w).Submissions
	require.Len(t, got, 2)
	assert.Equal(t, "Backend", got[0].Title)
	assert.Equal(t, "Go Dev", got[1].Title)

	w = env.do(t, http.MethodGet, "/submissions?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodOptions, "/runs/boss", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestStart_ShutsDownRunsWhenContextEnds(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, env.runs.shutdown)
}

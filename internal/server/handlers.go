package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/job-pilot/internal/observability"
	"github.com/jonathan/job-pilot/internal/runner"
	"github.com/jonathan/job-pilot/internal/server/middleware"
	"github.com/jonathan/job-pilot/internal/sites"
	"github.com/jonathan/job-pilot/internal/types"
)

// defaultSubmissionLimit caps GET /submissions when no limit is given.
const defaultSubmissionLimit = 100

// siteParam resolves the {site} path value, accepting aliases.
func siteParam(r *http.Request) (string, error) {
	raw := r.PathValue("site")
	name, err := sites.Canonical(raw)
	if err != nil {
		return "", &ErrUnknownSite{Site: raw}
	}
	return name, nil
}

// handleStartRun starts a run. The body carries the search criteria and an
// optional dry_run override.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	site, err := siteParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req runner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Site = site
	if err := req.Criteria.Validate(); err != nil {
		s.fail(w, &ErrValidation{Field: "criteria", Message: err.Error()})
		return
	}

	st, err := s.runs.Start(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	sub, _ := middleware.GetSubject(r)
	s.log.WithFields(logrus.Fields{
		"site":   site,
		"run_id": st.Result.RunID,
		"by":     sub,
	}).Info("run started via API")
	s.jsonResponse(w, http.StatusAccepted, st)
}

// handleStopRun signals the active run; it keeps going until its next checkpoint.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	site, err := siteParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.runs.Stop(site); err != nil {
		s.fail(w, err)
		return
	}
	st, err := s.runs.Status(site)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, st)
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	site, err := siteParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	st, err := s.runs.Status(site)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, st)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	site, err := siteParam(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	lines := s.runs.Logs(site)
	if lines == nil {
		lines = []observability.RecentLine{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"site": site, "lines": lines})
}

func (s *Server) handleListBlacklist(w http.ResponseWriter, _ *http.Request) {
	companies := s.ledger.Blacklist()
	if companies == nil {
		companies = []string{}
	}
	slices.Sort(companies)
	s.jsonResponse(w, http.StatusOK, map[string]any{"companies": companies})
}

// BlacklistRequest is the body of POST /blacklist.
type BlacklistRequest struct {
	Company string `json:"company"`
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	company := strings.TrimSpace(req.Company)
	if company == "" {
		s.fail(w, &ErrValidation{Field: "company", Message: "required"})
		return
	}
	if err := s.ledger.AddToBlacklist(r.Context(), company); err != nil {
		s.fail(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]string{"company": company})
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	company := strings.TrimSpace(r.PathValue("company"))
	removed, err := s.ledger.RemoveFromBlacklist(r.Context(), company)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !removed {
		s.errorResponse(w, http.StatusNotFound, "company is not blacklisted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSubmissions returns records newest first. ?company= filters by a
// case-insensitive substring and ?limit= caps the count.
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSubmissionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.fail(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}
	company := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("company")))

	records := s.ledger.Records()
	out := make([]types.SubmissionRecord, 0, min(limit, len(records)))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		if company != "" && !strings.Contains(strings.ToLower(records[i].Company), company) {
			continue
		}
		out = append(out, records[i])
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"total": len(records), "submissions": out})
}

package types

import (
	"strings"
	"time"
)

// JobListing is a job card discovered on a search page. It lives for one evaluation pass.
type JobListing struct {
	Index       int    `json:"index"`
	Company     string `json:"company"`
	Title       string `json:"title"`
	DetailURL   string `json:"detail_url,omitempty"`
	Description string `json:"description,omitempty"`
}

// String renders the listing the way log lines refer to it.
func (j JobListing) String() string {
	return j.Company + " - " + j.Title
}

// MatchVerdict is the structured decision returned by the text-generation service.
type MatchVerdict struct {
	Match     bool   `json:"match_status"`
	Reasoning string `json:"reasoning"`
	Greeting  string `json:"greeting_message"`
}

// SubmissionRecord marks the last time an application was sent for a (company, title) pair.
type SubmissionRecord struct {
	Company     string    `json:"company_name"`
	Title       string    `json:"job_title"`
	SubmittedAt time.Time `json:"timestamp"`
}

// SameJob reports whether the record is keyed by the given pair, ignoring case.
func (r SubmissionRecord) SameJob(company, title string) bool {
	return strings.EqualFold(r.Company, company) && strings.EqualFold(r.Title, title)
}

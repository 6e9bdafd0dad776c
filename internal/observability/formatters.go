// Package observability builds the logger every component writes to and
// prints human-readable summaries for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		line = truncate(line, boxWidth-4)
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRunSummary outputs the counters of a finished seeker run.
func (p *Printer) PrintRunSummary(res seeker.Result) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Site:      %s\n", res.Site))
	sb.WriteString(fmt.Sprintf("Run:       %s\n", res.RunID))
	sb.WriteString(fmt.Sprintf("State:     %s\n", res.State))
	if res.DryRun {
		sb.WriteString(fmt.Sprintf("Simulated: %d\n", res.Submitted))
	} else {
		sb.WriteString(fmt.Sprintf("Submitted: %d\n", res.Submitted))
	}
	sb.WriteString(fmt.Sprintf("Skipped:   %d\n", res.Skipped))
	sb.WriteString(fmt.Sprintf("Evaluated: %d\n", res.Evaluated))
	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Duration:  %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Second)))
	}

	if len(res.Messages) > 0 {
		sb.WriteString(fmt.Sprintf("\nErrors (%d):\n", len(res.Messages)))
		count := min(len(res.Messages), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", res.Messages[i]))
		}
		if len(res.Messages) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(res.Messages)-maxItemsToShow))
		}
	}

	p.printBox("RUN SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSubmissions outputs the submission history, newest first.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintSubmissions(records []types.SubmissionRecord, limit int) {
	if len(records) == 0 {
		fmt.Fprintln(p.out, "No submissions recorded.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total submissions: %d\n\n", len(records)))

	shown := 0
	for i := len(records) - 1; i >= 0; i-- {
		if limit > 0 && shown == limit {
			sb.WriteString(fmt.Sprintf("\n... and %d more", i+1))
			break
		}
		r := records[i]
		sb.WriteString(fmt.Sprintf("%s  %s - %s\n", r.SubmittedAt.Local().Format("2006-01-02 15:04"), r.Company, r.Title))
		shown++
	}

	p.printBox("SUBMISSION HISTORY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBlacklist outputs the blacklisted companies.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintBlacklist(companies []string) {
	if len(companies) == 0 {
		fmt.Fprintln(p.out, "Blacklist is empty.")
		return
	}

	var sb strings.Builder
	for _, c := range companies {
		sb.WriteString(fmt.Sprintf("• %s\n", c))
	}
	p.printBox(fmt.Sprintf("BLACKLIST (%d)", len(companies)), strings.TrimSuffix(sb.String(), "\n"))
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

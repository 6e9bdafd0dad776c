package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/config"
	"github.com/jonathan/job-pilot/internal/observability"
	"github.com/jonathan/job-pilot/internal/pipeline"
	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/sites"
	"github.com/jonathan/job-pilot/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Search job boards and greet matching recruiters",
	Long: `Opens a browser per site, waits for you to log in, then walks every keyword/city search.
Each posting is evaluated against your profile; matches get a greeting.

Search criteria come from the config file; flags override them. Ctrl-C stops every site
at its next checkpoint and closes the browsers.`,
	RunE: runSeekersCmd,
}

// runFlags are the run command flags. Only flags set on the command line
// override the config file.
type runFlags struct {
	sites      []string
	keywords   []string
	cities     []string
	experience string
	degree     string
	salary     string
	jobType    string
	scale      string
	stage      string
	dryRun     bool
	headless   bool
	driver     string
	apiKey     string
}

var runOpts runFlags

func init() {
	runOpts.register(runCommand)
	rootCmd.AddCommand(runCommand)
}

func (r *runFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVarP(&r.sites, "site", "s", []string{"boss"}, "Job board to run, repeatable ("+strings.Join(sites.Names(), ", ")+")")
	f.StringSliceVarP(&r.keywords, "keyword", "k", nil, "Search keyword, repeatable")
	f.StringSliceVar(&r.cities, "city", nil, "City code, repeatable")
	f.StringVar(&r.experience, "experience", "", "Experience filter code")
	f.StringVar(&r.degree, "degree", "", "Degree filter code")
	f.StringVar(&r.salary, "salary", "", "Salary filter code")
	f.StringVar(&r.jobType, "job-type", "", "Job type filter code")
	f.StringVar(&r.scale, "scale", "", "Company scale filter code")
	f.StringVar(&r.stage, "stage", "", "Funding stage filter code")
	f.BoolVar(&r.dryRun, "dry-run", false, "Evaluate postings without sending anything")
	f.BoolVar(&r.headless, "headless", false, "Run the browser headless (login needs a visible browser)")
	f.StringVar(&r.driver, "driver", "", "Browser driver: chromedp or rod")
	f.StringVar(&r.apiKey, "api-key", "", "Text service API key (default: GEMINI_API_KEY or ANTHROPIC_API_KEY)")
}

// apply merges the flags that were set into cfg and returns the criteria.
func (r runFlags) apply(cmd *cobra.Command, cfg *config.Config) (types.SearchCriteria, error) {
	changed := cmd.Flags().Changed
	c := cfg.Search.Clone()

	if changed("keyword") {
		c.Keywords = r.keywords
	}
	if changed("city") {
		c.Cities = r.cities
	}
	facets := []struct {
		flag   string
		value  string
		target *string
	}{
		{"experience", r.experience, &c.Experience},
		{"degree", r.degree, &c.Degree},
		{"salary", r.salary, &c.Salary},
		{"job-type", r.jobType, &c.JobType},
		{"scale", r.scale, &c.Scale},
		{"stage", r.stage, &c.Stage},
	}
	for _, fc := range facets {
		if changed(fc.flag) {
			*fc.target = fc.value
		}
	}

	if changed("dry-run") {
		cfg.Seeker.DryRun = r.dryRun
	}
	if changed("headless") {
		cfg.Seeker.Headless = r.headless
	}
	if changed("driver") {
		switch browser.Kind(strings.ToLower(r.driver)) {
		case browser.KindChromedp, browser.KindRod:
		default:
			return c, fmt.Errorf("unknown driver %q (want %s or %s)", r.driver, browser.KindChromedp, browser.KindRod)
		}
		cfg.Seeker.Driver = strings.ToLower(r.driver)
	}
	if changed("api-key") {
		cfg.LLM.APIKey = r.apiKey
	}
	return c, nil
}

// siteNames canonicalizes and dedupes the --site values.
func siteNames(raw []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, s := range raw {
		name, err := sites.Canonical(s)
		if err != nil {
			return nil, err
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --site is required")
	}
	return out, nil
}

func runSeekersCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	criteria, err := runOpts.apply(cmd, cfg)
	if err != nil {
		return err
	}
	names, err := siteNames(runOpts.sites)
	if err != nil {
		return err
	}
	if err := cfg.ValidateForRun(criteria); err != nil {
		return err
	}

	logging, err := setupLogging(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := pipeline.Open(ctx, cfg, logging.Logger)
	if err != nil {
		return err
	}
	defer env.Close()

	results := env.RunSites(ctx, names, criteria, nil)

	printer := observability.NewPrinter(os.Stdout)
	var failed []string
	for _, r := range results {
		if r.Result.RunID != "" {
			printer.PrintRunSummary(r.Result)
		}
		if r.Err != nil || r.Result.State == seeker.StateFailed {
			msg := r.Site
			if r.Err != nil {
				msg += ": " + r.Err.Error()
			}
			failed = append(failed, msg)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d site(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

// Package config loads the job-pilot configuration file and merges it with
// environment overrides and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/job-pilot/internal/browser"
	"github.com/jonathan/job-pilot/internal/ledger"
	"github.com/jonathan/job-pilot/internal/llm"
	"github.com/jonathan/job-pilot/internal/match"
	"github.com/jonathan/job-pilot/internal/prompts"
	"github.com/jonathan/job-pilot/internal/ratelimit"
	"github.com/jonathan/job-pilot/internal/runlock"
	"github.com/jonathan/job-pilot/internal/seeker"
	"github.com/jonathan/job-pilot/internal/sites"
	"github.com/jonathan/job-pilot/internal/types"
)

// DefaultFileName is looked up inside ledger.DefaultDir when no path is given.
const DefaultFileName = "config.yaml"

// Config is the whole application configuration.
type Config struct {
	Profile   ProfileConfig        `yaml:"profile"`
	LLM       LLMConfig            `yaml:"llm"`
	Seeker    SeekerConfig         `yaml:"seeker"`
	RateLimit RateLimitConfig      `yaml:"ratelimit"`
	Ledger    ledger.Config        `yaml:"ledger"`
	Server    ServerConfig         `yaml:"server"`
	RunLock   RunLockConfig        `yaml:"runlock"`
	Search    types.SearchCriteria `yaml:"search" validate:"-"`
	Log       LogConfig            `yaml:"log"`
}

// ProfileConfig is the user material the matcher compares every job against.
// The *_file variants are read at load time and win over inline text.
type ProfileConfig struct {
	Resume              string `yaml:"resume"`
	ResumeFile          string `yaml:"resume_file"`
	PromptTemplate      string `yaml:"prompt_template"`
	PromptTemplateFile  string `yaml:"prompt_template_file"`
	RejectionRules      string `yaml:"rejection_rules"`
	RejectionRulesFile  string `yaml:"rejection_rules_file"`
	PreferenceRules     string `yaml:"preference_rules"`
	PreferenceRulesFile string `yaml:"preference_rules_file"`
}

// LLMConfig selects the text-generation service.
type LLMConfig struct {
	Provider string        `yaml:"provider" validate:"omitempty,oneof=gemini anthropic claude"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	Retries  int           `yaml:"retries" validate:"gte=0,lte=10"`
}

// SeekerConfig tunes the browser and the orchestrator pacing.
type SeekerConfig struct {
	Driver        string        `yaml:"driver" validate:"omitempty,oneof=chromedp rod"`
	Headless      bool          `yaml:"headless"`
	UserAgent     string        `yaml:"user_agent"`
	ActionTimeout time.Duration `yaml:"action_timeout" validate:"gte=0"`
	LoginTimeout  time.Duration `yaml:"login_timeout" validate:"gte=0"`
	RetryTimes    int           `yaml:"retry_times" validate:"gte=0,lte=10"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"gte=0"`
	PaceMin       time.Duration `yaml:"pace_min" validate:"gte=0"`
	PaceMax       time.Duration `yaml:"pace_max" validate:"gtefield=PaceMin"`
	TypeDelayMin  time.Duration `yaml:"type_delay_min" validate:"gte=0"`
	TypeDelayMax  time.Duration `yaml:"type_delay_max" validate:"gtefield=TypeDelayMin"`
	SettleDelay   time.Duration `yaml:"settle_delay" validate:"gte=0"`
	MaxScrolls    int           `yaml:"max_scrolls" validate:"gte=0"`
	DryRun        bool          `yaml:"dry_run"`
}

// RateLimitConfig holds the shared ceilings plus per-site daily caps.
type RateLimitConfig struct {
	ratelimit.Config `yaml:",inline"`
	DailyCaps        map[string]int `yaml:"daily_caps" validate:"dive,gte=0"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Port         int    `yaml:"port" validate:"gte=0,lte=65535"`
	JWTSecret    string `yaml:"jwt_secret"`
	TokenHours   int    `yaml:"token_hours" validate:"gte=0"`
	PasswordHash string `yaml:"password_hash"`
	BcryptCost   int    `yaml:"bcrypt_cost" validate:"omitempty,gte=10,lte=14"`
	Pepper       string `yaml:"pepper"`
}

// RunLockConfig selects the run lock backend. An empty RedisURL keeps locks in process.
type RunLockConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LogConfig configures the log sink.
type LogConfig struct {
	Debug       bool   `yaml:"debug"`
	File        string `yaml:"file"`
	RecentLines int    `yaml:"recent_lines" validate:"gte=0"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: string(llm.ProviderGemini),
			Timeout:  llm.DefaultTimeout,
			Retries:  3,
		},
		Seeker: SeekerConfig{
			Driver:        string(browser.KindChromedp),
			ActionTimeout: browser.DefaultActionTimeout,
			LoginTimeout:  seeker.DefaultLoginTimeout,
			RetryTimes:    3,
			RetryDelay:    time.Second,
			PaceMin:       seeker.DefaultPaceMin,
			PaceMax:       seeker.DefaultPaceMax,
			TypeDelayMin:  seeker.DefaultTypeDelayMin,
			TypeDelayMax:  seeker.DefaultTypeDelayMax,
			SettleDelay:   seeker.DefaultSettleDelay,
			MaxScrolls:    seeker.DefaultMaxScrolls,
		},
		RateLimit: RateLimitConfig{Config: ratelimit.DefaultConfig()},
		Ledger: ledger.Config{
			Backend:      ledger.BackendFile,
			CooldownDays: ledger.DefaultCooldownDays,
		},
		Server: ServerConfig{
			Port:       8080,
			TokenHours: 24,
			BcryptCost: 12,
		},
		RunLock: RunLockConfig{TTL: runlock.DefaultTTL},
		Log:     LogConfig{RecentLines: 100},
	}
}

// DefaultPath returns <UserConfigDir>/JobPilot/config.yaml.
func DefaultPath() string {
	return filepath.Join(ledger.DefaultDir(), DefaultFileName)
}

// Load reads the file at path over the defaults, then applies environment
// overrides and validates the result. A missing file is only an error when
// the path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.loadProfileFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode accepts YAML, and JSON through the YAML decoder since JSON documents
// are valid YAML. Keys are the same in both formats.
func (c *Config) decode(path string, data []byte) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json", "":
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		expr := m[2 : len(m)-1]
		name, fallback, hasDefault := strings.Cut(expr, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return fallback
		}
		return ""
	})
}

// applyEnv lets the environment override the file.
func (c *Config) applyEnv() {
	c.LLM.Provider = getEnvString("JOB_PILOT_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnvString("JOB_PILOT_LLM_MODEL", c.LLM.Model)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = apiKeyFromEnv(c.LLM.Provider)
	}

	c.Seeker.Driver = getEnvString("JOB_PILOT_DRIVER", c.Seeker.Driver)
	c.Seeker.Headless = getEnvBool("JOB_PILOT_HEADLESS", c.Seeker.Headless)
	c.Seeker.DryRun = getEnvBool("JOB_PILOT_DRY_RUN", c.Seeker.DryRun)
	c.Seeker.LoginTimeout = getEnvDuration("JOB_PILOT_LOGIN_TIMEOUT", c.Seeker.LoginTimeout)

	c.RateLimit.Config = ratelimit.LoadConfig(c.RateLimit.Config)

	c.Ledger.Backend = ledger.Backend(getEnvString("JOB_PILOT_LEDGER_BACKEND", string(c.Ledger.Backend)))
	c.Ledger.Dir = getEnvString("JOB_PILOT_LEDGER_DIR", c.Ledger.Dir)
	c.Ledger.CooldownDays = getEnvInt("JOB_PILOT_COOLDOWN_DAYS", c.Ledger.CooldownDays)
	if c.Ledger.DSN == "" && c.Ledger.Backend == ledger.BackendPostgres {
		c.Ledger.DSN = os.Getenv("DATABASE_URL")
	}

	c.Server.Port = getEnvInt("JOB_PILOT_PORT", c.Server.Port)
	c.Server.JWTSecret = getEnvString("JWT_SECRET", c.Server.JWTSecret)
	c.Server.TokenHours = getEnvInt("JWT_EXPIRATION_HOURS", c.Server.TokenHours)
	c.Server.PasswordHash = getEnvString("JOB_PILOT_PASSWORD_HASH", c.Server.PasswordHash)
	c.Server.BcryptCost = getEnvInt("BCRYPT_COST", c.Server.BcryptCost)
	c.Server.Pepper = getEnvString("PASSWORD_PEPPER", c.Server.Pepper)

	c.RunLock.RedisURL = getEnvString("REDIS_URL", c.RunLock.RedisURL)

	c.Log.Debug = getEnvBool("JOB_PILOT_DEBUG", c.Log.Debug)
	c.Log.File = getEnvString("JOB_PILOT_LOG_FILE", c.Log.File)
}

func apiKeyFromEnv(provider string) string {
	p, err := llm.ParseProvider(provider)
	if err != nil {
		return ""
	}
	if p == llm.ProviderAnthropic {
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return os.Getenv("GEMINI_API_KEY")
}

// applyDefaults fills fields a file may have zeroed out.
func (c *Config) applyDefaults() {
	d := Default()
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.Seeker.Driver == "" {
		c.Seeker.Driver = d.Seeker.Driver
	}
	if c.Seeker.LoginTimeout == 0 {
		c.Seeker.LoginTimeout = d.Seeker.LoginTimeout
	}
	if c.Seeker.MaxScrolls == 0 {
		c.Seeker.MaxScrolls = d.Seeker.MaxScrolls
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = d.Ledger.Backend
	}
	if c.Server.TokenHours == 0 {
		c.Server.TokenHours = d.Server.TokenHours
	}
	if c.Server.BcryptCost == 0 {
		c.Server.BcryptCost = d.Server.BcryptCost
	}
	if c.RunLock.TTL == 0 {
		c.RunLock.TTL = d.RunLock.TTL
	}
	if c.Log.RecentLines == 0 {
		c.Log.RecentLines = d.Log.RecentLines
	}
}

// loadProfileFiles reads the profile *_file entries. Relative paths resolve
// against the directory of the config file.
func (c *Config) loadProfileFiles(baseDir string) error {
	files := []struct {
		path   string
		target *string
	}{
		{c.Profile.ResumeFile, &c.Profile.Resume},
		{c.Profile.PromptTemplateFile, &c.Profile.PromptTemplate},
		{c.Profile.RejectionRulesFile, &c.Profile.RejectionRules},
		{c.Profile.PreferenceRulesFile, &c.Profile.PreferenceRules},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		path := f.path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read profile file: %w", err)
		}
		*f.target = string(data)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges. Run-specific requirements live in ValidateForRun.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := llm.ParseProvider(c.LLM.Provider); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := ratelimit.ParseDailyReset(string(c.RateLimit.DailyReset)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for site := range c.RateLimit.DailyCaps {
		if _, err := sites.Canonical(site); err != nil {
			return fmt.Errorf("invalid config: ratelimit.daily_caps: %w", err)
		}
	}
	return nil
}

// ValidateForRun checks that everything a seeker needs is present: a
// keyword, the prompt, the resume, both rule sets and the service key.
func (c *Config) ValidateForRun(criteria types.SearchCriteria) error {
	var problems []string
	if err := criteria.Validate(); err != nil {
		problems = append(problems, "a search keyword is required")
	}
	if strings.TrimSpace(c.Prompt()) == "" {
		problems = append(problems, "profile.prompt_template is empty")
	} else if missing := prompts.Missing(c.Prompt(), match.PlaceholderJobDescription); len(missing) > 0 {
		problems = append(problems, "profile.prompt_template must reference {{."+missing[0]+"}}")
	}
	if strings.TrimSpace(c.Profile.Resume) == "" {
		problems = append(problems, "profile.resume is required")
	}
	if strings.TrimSpace(c.Profile.RejectionRules) == "" {
		problems = append(problems, "profile.rejection_rules is required")
	}
	if strings.TrimSpace(c.Profile.PreferenceRules) == "" {
		problems = append(problems, "profile.preference_rules is required")
	}
	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("not ready to run: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Prompt returns the configured template or the embedded default.
func (c *Config) Prompt() string {
	if c.Profile.PromptTemplate != "" {
		return c.Profile.PromptTemplate
	}
	return match.DefaultTemplate()
}

// SeekerProfile returns the profile fields the orchestrator sends with every job.
func (c *Config) SeekerProfile() seeker.Profile {
	return seeker.Profile{
		Resume:          c.Profile.Resume,
		RejectionRules:  c.Profile.RejectionRules,
		PreferenceRules: c.Profile.PreferenceRules,
	}
}

// SeekerOptions maps the seeker section onto orchestrator options.
func (c *Config) SeekerOptions() seeker.Options {
	return seeker.Options{
		LoginTimeout: c.Seeker.LoginTimeout,
		PaceMin:      c.Seeker.PaceMin,
		PaceMax:      c.Seeker.PaceMax,
		TypeDelayMin: c.Seeker.TypeDelayMin,
		TypeDelayMax: c.Seeker.TypeDelayMax,
		SettleDelay:  c.Seeker.SettleDelay,
		MaxScrolls:   c.Seeker.MaxScrolls,
		DryRun:       c.Seeker.DryRun,
	}
}

// BrowserOptions maps the seeker section onto driver options.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:      c.Seeker.Headless,
		UserAgent:     c.Seeker.UserAgent,
		ActionTimeout: c.Seeker.ActionTimeout,
	}
}

// LLMSettings returns the service configuration with the model override applied.
func (c *Config) LLMSettings() (*llm.Config, error) {
	provider, err := llm.ParseProvider(c.LLM.Provider)
	if err != nil {
		return nil, err
	}
	cfg := llm.DefaultConfigFor(provider)
	if c.LLM.Model != "" {
		cfg = cfg.WithModel(llm.TierStandard, c.LLM.Model)
	}
	cfg.Timeout = c.LLM.Timeout
	return cfg, nil
}

// RateLimitFor returns the limiter settings for site. The daily cap comes
// from daily_caps, then the site's own default, then the shared value.
func (c *Config) RateLimitFor(site string) ratelimit.Config {
	rl := c.RateLimit.Config
	name, err := sites.Canonical(site)
	if err != nil {
		return rl
	}
	if n, ok := c.RateLimit.DailyCaps[name]; ok && n > 0 {
		rl.DailyCap = n
	} else if n := sites.DefaultDailyCap(name); n > 0 {
		rl.DailyCap = n
	}
	return rl
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

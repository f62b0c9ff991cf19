// Package config loads and validates the pipeline's INI configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/probeworks/scout/pkg/models"
)

// Configuration errors.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// LLMConfig holds the [llm] section.
type LLMConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	OptModel string // cheaper model for subtitle optimization; defaults to Model
	Timeout  time.Duration
}

// XScraperConfig holds the [x_scraper] section.
type XScraperConfig struct {
	Enabled                 bool
	AuthCredentials         string // pipe-delimited token:csrf pairs
	EnvFile                 string // env-style credential file fallback
	MaxTweetsPerUser        int
	RequestDelayMin         time.Duration
	RequestDelayMax         time.Duration
	UserSwitchDelayMin      time.Duration
	UserSwitchDelayMax      time.Duration
	RequestTimeout          time.Duration
	MaxRetries              int
	IncludeRetweets         bool
	IncludeReplies          bool
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
	QueryIDs                map[string]string // overrides for GraphQL query IDs
	Features                map[string]any    // overrides for GraphQL feature flags
}

// FetcherConfig holds the [fetcher] section.
type FetcherConfig struct {
	LookbackDays    int
	GeneralPoolSize int
}

// EnricherConfig holds the [enricher] section.
type EnricherConfig struct {
	PoolSize       int
	MaxURLsPerPost int
	URLTimeout     time.Duration
	VideoTimeout   time.Duration
	WhisperBinary  string
	WhisperModel   string // path to the recognition model; empty disables ASR
}

// OrganizerConfig holds the [organizer] section.
type OrganizerConfig struct {
	PoolSize       int
	RetryOnFailure int
	Timeout        time.Duration
	Domains        []string
	Categories     []string
}

// Source is one configured content source.
type Source struct {
	Type models.SourceType
	Name string // display label, used in file names and logs
	URL  string // feed URL, or account handle for direct-scraped microblogs
}

// Config is the immutable configuration record passed into each stage.
type Config struct {
	LLM       LLMConfig
	XScraper  XScraperConfig
	Fetcher   FetcherConfig
	Enricher  EnricherConfig
	Organizer OrganizerConfig
	Sources   []Source
	Entities  []models.Entity
	DataDir   string
}

// DefaultXScraperConfig returns the [x_scraper] defaults.
func DefaultXScraperConfig() XScraperConfig {
	return XScraperConfig{
		EnvFile:                 ".env",
		MaxTweetsPerUser:        20,
		RequestDelayMin:         15 * time.Second,
		RequestDelayMax:         25 * time.Second,
		UserSwitchDelayMin:      30 * time.Second,
		UserSwitchDelayMax:      60 * time.Second,
		RequestTimeout:          30 * time.Second,
		MaxRetries:              3,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  60 * time.Second,
	}
}

// DefaultFetcherConfig returns the [fetcher] defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{LookbackDays: 7, GeneralPoolSize: 5}
}

// DefaultEnricherConfig returns the [enricher] defaults.
func DefaultEnricherConfig() EnricherConfig {
	return EnricherConfig{
		PoolSize:       5,
		MaxURLsPerPost: 5,
		URLTimeout:     20 * time.Second,
		VideoTimeout:   600 * time.Second,
		WhisperBinary:  "whisper-cli",
	}
}

// DefaultOrganizerConfig returns the [organizer] defaults.
func DefaultOrganizerConfig() OrganizerConfig {
	return OrganizerConfig{
		PoolSize:       5,
		RetryOnFailure: 2,
		Timeout:        120 * time.Second,
		Domains: []string{
			"LLM Products", "Data Platforms", "AI Platforms", "Agent Platforms",
			"Coding Agents", "Data Agents", "Industry Agents", "Embodied AI", "Others",
		},
		Categories: []string{
			"product launch", "product update", "opinion", "business news",
			"event", "case study", "advertisement", "other",
		},
	}
}

// accountSections maps INI section names to the source type they configure.
var accountSections = []struct {
	section string
	typ     models.SourceType
}{
	{"microblog_accounts", models.SourceMicroblog},
	{"publicaccount_accounts", models.SourcePublicAccount},
	{"video_accounts", models.SourceVideo},
	{"blog_accounts", models.SourceBlog},
}

// Load reads, parses, and validates the INI configuration at path.
func Load(path string) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
	}

	cfg := &Config{
		XScraper:  DefaultXScraperConfig(),
		Fetcher:   DefaultFetcherConfig(),
		Enricher:  DefaultEnricherConfig(),
		Organizer: DefaultOrganizerConfig(),
		DataDir:   "data",
	}

	loadLLM(file, &cfg.LLM)
	if err := loadXScraper(file, &cfg.XScraper); err != nil {
		return nil, err
	}
	cfg.DataDir = file.Section("").Key("data_dir").MustString(cfg.DataDir)
	loadFetcher(file, &cfg.Fetcher)
	loadEnricher(file, &cfg.Enricher)
	loadOrganizer(file, &cfg.Organizer)
	cfg.Sources = loadSources(file)
	cfg.Entities = loadEntities(file)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded",
		"path", path,
		"sources", len(cfg.Sources),
		"entities", len(cfg.Entities),
		"x_scraper_enabled", cfg.XScraper.Enabled)
	return cfg, nil
}

func loadLLM(file *ini.File, out *LLMConfig) {
	sec := file.Section("llm")
	out.APIKey = sec.Key("api_key").String()
	out.BaseURL = strings.TrimRight(sec.Key("base_url").String(), "/")
	out.Model = sec.Key("model").String()
	out.OptModel = sec.Key("opt_model").MustString(out.Model)
	out.Timeout = secondsKey(sec, "timeout", 120*time.Second)
}

func loadXScraper(file *ini.File, out *XScraperConfig) error {
	if !file.HasSection("x_scraper") {
		return nil
	}
	sec := file.Section("x_scraper")
	out.Enabled = sec.Key("enabled").MustBool(false)
	out.AuthCredentials = strings.TrimSpace(sec.Key("auth_credentials").String())
	out.EnvFile = sec.Key("env_file").MustString(out.EnvFile)
	out.MaxTweetsPerUser = sec.Key("max_tweets_per_user").MustInt(out.MaxTweetsPerUser)
	out.RequestDelayMin = secondsKey(sec, "request_delay_min", out.RequestDelayMin)
	out.RequestDelayMax = secondsKey(sec, "request_delay_max", out.RequestDelayMax)
	out.UserSwitchDelayMin = secondsKey(sec, "user_switch_delay_min", out.UserSwitchDelayMin)
	out.UserSwitchDelayMax = secondsKey(sec, "user_switch_delay_max", out.UserSwitchDelayMax)
	out.RequestTimeout = secondsKey(sec, "request_timeout", out.RequestTimeout)
	out.MaxRetries = sec.Key("max_retries").MustInt(out.MaxRetries)
	out.IncludeRetweets = sec.Key("include_retweets").MustBool(false)
	out.IncludeReplies = sec.Key("include_replies").MustBool(false)
	out.CircuitBreakerThreshold = sec.Key("circuit_breaker_threshold").MustInt(out.CircuitBreakerThreshold)
	out.CircuitBreakerCooldown = secondsKey(sec, "circuit_breaker_cooldown", out.CircuitBreakerCooldown)

	if raw := strings.TrimSpace(sec.Key("query_ids").String()); raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.QueryIDs); err != nil {
			return fmt.Errorf("%w: x_scraper.query_ids: %v", ErrInvalidConfig, err)
		}
	}
	if raw := strings.TrimSpace(sec.Key("features").String()); raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.Features); err != nil {
			return fmt.Errorf("%w: x_scraper.features: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func loadFetcher(file *ini.File, out *FetcherConfig) {
	sec := file.Section("fetcher")
	out.LookbackDays = sec.Key("lookback_days").MustInt(out.LookbackDays)
	out.GeneralPoolSize = sec.Key("general_pool_size").MustInt(out.GeneralPoolSize)
}

func loadEnricher(file *ini.File, out *EnricherConfig) {
	sec := file.Section("enricher")
	out.PoolSize = sec.Key("pool_size").MustInt(out.PoolSize)
	out.MaxURLsPerPost = sec.Key("max_urls_per_post").MustInt(out.MaxURLsPerPost)
	out.URLTimeout = secondsKey(sec, "url_timeout_s", out.URLTimeout)
	out.VideoTimeout = secondsKey(sec, "video_timeout_s", out.VideoTimeout)
	out.WhisperBinary = sec.Key("whisper_binary").MustString(out.WhisperBinary)
	out.WhisperModel = sec.Key("whisper_model").String()
}

func loadOrganizer(file *ini.File, out *OrganizerConfig) {
	sec := file.Section("organizer")
	out.PoolSize = sec.Key("pool_size").MustInt(out.PoolSize)
	out.RetryOnFailure = sec.Key("retry_on_failure").MustInt(out.RetryOnFailure)
	out.Timeout = secondsKey(sec, "timeout", out.Timeout)
	if list := commaList(sec.Key("domains").String()); len(list) > 0 {
		out.Domains = list
	}
	if list := commaList(sec.Key("categories").String()); len(list) > 0 {
		out.Categories = list
	}
}

func loadSources(file *ini.File) []Source {
	var sources []Source
	for _, entry := range accountSections {
		if !file.HasSection(entry.section) {
			continue
		}
		for _, key := range file.Section(entry.section).Keys() {
			url := strings.TrimSpace(key.String())
			if url == "" {
				continue
			}
			sources = append(sources, Source{Type: entry.typ, Name: key.Name(), URL: url})
		}
	}
	return sources
}

func loadEntities(file *ini.File) []models.Entity {
	if !file.HasSection("entities") {
		return nil
	}
	var entities []models.Entity
	for _, key := range file.Section("entities").Keys() {
		aliases := commaList(key.String())
		if len(aliases) == 0 {
			aliases = []string{key.Name()}
		}
		entities = append(entities, models.Entity{Name: key.Name(), Aliases: aliases})
	}
	return entities
}

func (c *Config) validate() error {
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return fmt.Errorf("%w: [llm] base_url and model are required", ErrInvalidConfig)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: no sources configured", ErrInvalidConfig)
	}
	if c.Fetcher.LookbackDays <= 0 {
		return fmt.Errorf("%w: fetcher.lookback_days must be positive", ErrInvalidConfig)
	}
	if c.XScraper.RequestDelayMax < c.XScraper.RequestDelayMin {
		return fmt.Errorf("%w: x_scraper request delay range is inverted", ErrInvalidConfig)
	}
	if c.XScraper.UserSwitchDelayMax < c.XScraper.UserSwitchDelayMin {
		return fmt.Errorf("%w: x_scraper user switch delay range is inverted", ErrInvalidConfig)
	}
	for _, pool := range []int{c.Fetcher.GeneralPoolSize, c.Enricher.PoolSize, c.Organizer.PoolSize} {
		if pool <= 0 {
			return fmt.Errorf("%w: pool sizes must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

// MicroblogSources returns the configured microblog sources in config order.
func (c *Config) MicroblogSources() []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Type == models.SourceMicroblog {
			out = append(out, s)
		}
	}
	return out
}

// GeneralSources returns all non-microblog sources in config order.
func (c *Config) GeneralSources() []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Type != models.SourceMicroblog {
			out = append(out, s)
		}
	}
	return out
}

func secondsKey(sec *ini.Section, name string, fallback time.Duration) time.Duration {
	if !sec.HasKey(name) {
		return fallback
	}
	v, err := sec.Key(name).Float64()
	if err != nil || v < 0 {
		slog.Warn("Invalid duration in config, using default",
			"section", sec.Name(), "key", name, "value", sec.Key(name).String(), "default", fallback)
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}

func commaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

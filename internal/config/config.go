package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/trenchlab/trenchwatch/internal/dexscreener"
	"github.com/trenchlab/trenchwatch/internal/discovery"
	"github.com/trenchlab/trenchwatch/internal/pool"
	"github.com/trenchlab/trenchwatch/internal/screener"
)

// Config is the root configuration for trenchwatch.
type Config struct {
	General     GeneralConfig            `yaml:"general"`
	Dexscreener dexscreener.ClientConfig `yaml:"dexscreener"`
	Discovery   discovery.Config         `yaml:"discovery"`
	Pool        pool.Config              `yaml:"pool"`
	Filters     FiltersConfig            `yaml:"filters"`
	Scan        ScanConfig               `yaml:"scan"`
	Alerts      AlertConfig              `yaml:"alerts"`
	Storage     StorageConfig            `yaml:"storage"`
	Ops         OpsConfig                `yaml:"ops"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	ChainID    string `yaml:"chain_id"`
	DryRun     bool   `yaml:"dry_run"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

// FiltersConfig wraps the evaluator thresholds with the FDV proxy switch.
type FiltersConfig struct {
	screener.FilterConfig `yaml:",inline"`
	UseFDVAsMCProxy       bool `yaml:"use_fdv_as_mc_proxy"`
}

type ScanConfig struct {
	IntervalSec             int `yaml:"interval_sec"`
	HotRecheckTopN          int `yaml:"hot_recheck_top_n"`
	PerformanceRefreshSec   int `yaml:"performance_refresh_sec"`
	PerformanceLookbackDays int `yaml:"performance_lookback_days"`
	PerformanceBatchSize    int `yaml:"performance_batch_size"`
}

type AlertConfig struct {
	Policy               string `yaml:"policy"` // first_once|rearm
	DedupeWindowHours    int    `yaml:"dedupe_window_hours"`
	MinIneligibleMinutes int    `yaml:"min_ineligible_minutes_to_rearm"`
	MaxPerScan           int    `yaml:"max_per_scan"`
	Tagline              string `yaml:"tagline"`
}

type StorageConfig struct {
	Path string `yaml:"path"` // sqlite file; empty = in-memory store
}

type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads and parses a YAML configuration file. Environment variables in
// the file are expanded, then the documented environment surface
// (DISCOVERY_MODE, SCAN_INTERVAL_SECONDS, ...) overrides the parsed values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "trenchwatch-1"
	}
	if cfg.General.ChainID == "" {
		cfg.General.ChainID = "solana"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Dexscreener.BaseURL == "" {
		cfg.Dexscreener = dexscreener.DefaultClientConfig()
	}
	if cfg.Discovery.Mode == "" {
		cfg.Discovery.Mode = discovery.ModeHybrid
	}
	if cfg.Discovery.MaxProfileTokens == 0 {
		cfg.Discovery.MaxProfileTokens = 50
	}
	if cfg.Pool.MaxSize == 0 {
		cfg.Pool = pool.DefaultConfig()
	}
	if cfg.Filters.MaxMarketCap == 0 && cfg.Filters.MinVolume1h == 0 {
		proxy := cfg.Filters.UseFDVAsMCProxy
		cfg.Filters = FiltersConfig{FilterConfig: screener.DefaultFilterConfig(), UseFDVAsMCProxy: proxy}
	}
	if cfg.Scan.IntervalSec == 0 {
		cfg.Scan.IntervalSec = 20
	}
	if cfg.Scan.HotRecheckTopN == 0 {
		cfg.Scan.HotRecheckTopN = 150
	}
	if cfg.Scan.PerformanceRefreshSec == 0 {
		cfg.Scan.PerformanceRefreshSec = 300
	}
	if cfg.Scan.PerformanceLookbackDays == 0 {
		cfg.Scan.PerformanceLookbackDays = 7
	}
	if cfg.Scan.PerformanceBatchSize == 0 {
		cfg.Scan.PerformanceBatchSize = 50
	}
	if cfg.Alerts.Policy == "" {
		cfg.Alerts.Policy = string(screener.PolicyFirstOnce)
	}
	if cfg.Alerts.DedupeWindowHours == 0 {
		cfg.Alerts.DedupeWindowHours = 24
	}
	if cfg.Alerts.MinIneligibleMinutes == 0 {
		cfg.Alerts.MinIneligibleMinutes = 30
	}
	if cfg.Alerts.MaxPerScan == 0 {
		cfg.Alerts.MaxPerScan = 5
	}
	if cfg.Alerts.Tagline == "" {
		cfg.Alerts.Tagline = "Trenches Call"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/trenchwatch.db"
	}
	if cfg.Ops.Listen == "" {
		// Absent ops section: serve health and metrics locally.
		cfg.Ops.Listen = ":9090"
		cfg.Ops.Enabled = true
	}
}

// applyEnvOverrides maps the documented environment surface onto the
// config, taking precedence over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCOVERY_MODE"); v != "" {
		cfg.Discovery.Mode = discovery.Mode(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv("MARKET_BASE_TOKENS"); v != "" {
		cfg.Discovery.BaseTokens = splitCSV(v)
	}
	if v := os.Getenv("SEARCH_QUERIES"); v != "" {
		cfg.Discovery.SearchQueries = splitCSV(v)
	}
	if v, ok := envInt("SCAN_INTERVAL_SECONDS"); ok {
		cfg.Scan.IntervalSec = v
	}
	if v, ok := envInt("CANDIDATE_POOL_MAX"); ok {
		cfg.Pool.MaxSize = v
	}
	if v, ok := envInt("HOT_RECHECK_TOP_N"); ok {
		cfg.Scan.HotRecheckTopN = v
	}
	if v, ok := envInt("MIN_INELIGIBLE_MINUTES_TO_REARM"); ok {
		cfg.Alerts.MinIneligibleMinutes = v
	}
	if v, ok := envInt("DEDUPE_WINDOW_HOURS"); ok {
		cfg.Alerts.DedupeWindowHours = v
	}
	if v, ok := envBool("USE_FDV_AS_MC_PROXY"); ok {
		cfg.Filters.UseFDVAsMCProxy = v
	}
	if v, ok := envBool("FILTER_REQUIRE_PROFILE"); ok {
		cfg.Filters.RequireProfile = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
}

// Validate rejects configurations the engine cannot run with and warns on
// suspicious but workable ones.
func (c *Config) Validate() error {
	switch c.Discovery.Mode {
	case discovery.ModeMarketSampler, discovery.ModeHybrid, discovery.ModeFallbackSearch:
	default:
		return fmt.Errorf("unknown discovery mode %q", c.Discovery.Mode)
	}
	switch screener.AlertPolicyMode(c.Alerts.Policy) {
	case screener.PolicyFirstOnce, screener.PolicyRearm:
	default:
		return fmt.Errorf("unknown alert policy %q", c.Alerts.Policy)
	}
	if c.Scan.IntervalSec <= 0 {
		return fmt.Errorf("scan interval must be positive, got %d", c.Scan.IntervalSec)
	}
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("pool max size must be positive, got %d", c.Pool.MaxSize)
	}
	if c.Pool.WeightLiquidity < 0 || c.Pool.WeightVolume < 0 {
		return fmt.Errorf("pool score weights must be non-negative")
	}
	if c.Discovery.Mode == discovery.ModeFallbackSearch && len(c.Discovery.SearchQueries) == 0 {
		log.Warn().Msg("config: fallback_search mode with no search queries, discovery will be empty")
	}
	if c.Scan.HotRecheckTopN > c.Pool.MaxSize {
		log.Warn().
			Int("hot_recheck_top_n", c.Scan.HotRecheckTopN).
			Int("pool_max", c.Pool.MaxSize).
			Msg("config: hot recheck size clamped to pool capacity")
		c.Scan.HotRecheckTopN = c.Pool.MaxSize
	}
	if int64(c.Alerts.DedupeWindowHours)*3600 < int64(c.Alerts.MinIneligibleMinutes)*60 {
		log.Warn().
			Int("dedupe_window_hours", c.Alerts.DedupeWindowHours).
			Int("min_ineligible_minutes", c.Alerts.MinIneligibleMinutes).
			Msg("config: dedupe window shorter than rearm minimum; the rearm minimum becomes the effective gap between alerts")
	}
	return nil
}

// Policy returns the alert policy derived from the config.
func (c *Config) Policy() screener.AlertPolicy {
	return screener.AlertPolicy{
		Mode:             screener.AlertPolicyMode(c.Alerts.Policy),
		DedupeWindowSec:  int64(c.Alerts.DedupeWindowHours) * 3600,
		MinIneligibleSec: int64(c.Alerts.MinIneligibleMinutes) * 60,
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(name string) (bool, bool) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch raw {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// Package config loads hivecore configuration from a JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// DataDir holds the two sqlite files: llm_calls.db and swarm.db.
	DataDir string `json:"data_dir" env:"HIVECORE_DATA_DIR"`

	// AuthFile is the OAuth credential file written by the external login
	// command. Unrelated entries in it are preserved on write-back.
	AuthFile string `json:"auth_file" env:"HIVECORE_AUTH_FILE"`

	// SkipSmokeTest disables the one-shot provider credential check.
	SkipSmokeTest bool `json:"skip_smoke_test" env:"SKIP_SMOKE_TEST"`

	// AnthropicOAuthToken supplies the Anthropic token via environment as an
	// alternative to the auth file.
	AnthropicOAuthToken string `json:"-" env:"HIVECORE_ANTHROPIC_OAUTH_TOKEN"`

	Router        RouterConfig        `json:"router"`
	Executor      ExecutorConfig      `json:"executor"`
	RateLimits    RateLimitsConfig    `json:"rate_limits"`
	Observability ObservabilityConfig `json:"observability"`
	Pricing       map[string]Pricing  `json:"pricing,omitempty"`
}

// RouterConfig carries the strategy-selection thresholds. Zero values fall
// back to the router defaults.
type RouterConfig struct {
	MinSuccessRate         float64 `json:"min_success_rate" env:"HIVECORE_ROUTER_MIN_SUCCESS_RATE"`
	BalancedMinSuccessRate float64 `json:"balanced_min_success_rate" env:"HIVECORE_ROUTER_BALANCED_MIN_SUCCESS_RATE"`
	MinSampleSize          int     `json:"min_sample_size" env:"HIVECORE_ROUTER_MIN_SAMPLE_SIZE"`
	StatsHoursBack         int     `json:"stats_hours_back" env:"HIVECORE_ROUTER_STATS_HOURS_BACK"`
}

type ExecutorConfig struct {
	// MaxRetries is the number of additional attempts after a transient
	// provider failure.
	MaxRetries int `json:"max_retries" env:"HIVECORE_EXECUTOR_MAX_RETRIES"`

	// MaxContextChars caps the dependency-context prefix fed to a subtask.
	MaxContextChars int `json:"max_context_chars" env:"HIVECORE_EXECUTOR_MAX_CONTEXT_CHARS"`

	// DepResultChars caps each individual dependency result inside the prefix.
	DepResultChars int `json:"dep_result_chars" env:"HIVECORE_EXECUTOR_DEP_RESULT_CHARS"`
}

type RateLimitsConfig struct {
	// MaxRequestsPerMinute limits outbound provider calls. 0 = unlimited.
	MaxRequestsPerMinute int `json:"max_requests_per_minute" env:"HIVECORE_RATE_LIMITS_MAX_REQUESTS_PER_MINUTE"`
}

type ObservabilityConfig struct {
	Enabled      bool    `json:"enabled" env:"HIVECORE_OBSERVABILITY_ENABLED"`
	ServiceName  string  `json:"service_name" env:"HIVECORE_OBSERVABILITY_SERVICE_NAME"`
	OTLPEndpoint string  `json:"otlp_endpoint" env:"HIVECORE_OBSERVABILITY_OTLP_ENDPOINT"`
	Insecure     bool    `json:"insecure" env:"HIVECORE_OBSERVABILITY_INSECURE"`
	SampleRatio  float64 `json:"sample_ratio" env:"HIVECORE_OBSERVABILITY_SAMPLE_RATIO"`
}

// Pricing overrides a registry entry's per-million-token prices. Models whose
// prices are not yet published (gpt-5.3-codex) are configured here.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:  "~/.hivecore",
		AuthFile: "~/.hivecore/auth.json",
		Router: RouterConfig{
			MinSuccessRate:         0.8,
			BalancedMinSuccessRate: 0.9,
			MinSampleSize:          3,
			StatsHoursBack:         24,
		},
		Executor: ExecutorConfig{
			MaxRetries:      2,
			MaxContextChars: 4000,
			DepResultChars:  1000,
		},
		RateLimits: RateLimitsConfig{
			MaxRequestsPerMinute: 0,
		},
		Observability: ObservabilityConfig{
			Enabled:     false,
			ServiceName: "hivecore",
			SampleRatio: 0.1,
		},
	}
}

// LoadConfig reads path (missing file is not an error) and applies
// environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DataDirPath is the expanded data directory.
func (c *Config) DataDirPath() string {
	return expandHome(c.DataDir)
}

// CallLogPath is the sqlite file holding the append-only LLM call log.
func (c *Config) CallLogPath() string {
	return filepath.Join(expandHome(c.DataDir), "llm_calls.db")
}

// SwarmPath is the sqlite file holding swarm tasks, messages and cursors.
func (c *Config) SwarmPath() string {
	return filepath.Join(expandHome(c.DataDir), "swarm.db")
}

// AuthFilePath is the expanded OAuth credential file location.
func (c *Config) AuthFilePath() string {
	return expandHome(c.AuthFile)
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// Artifact is the name fetched from every source.
	Artifact string `json:"artifact"`

	Logging LoggingConfig  `json:"logging"`
	Race    RaceConfig     `json:"race"`
	Fetch   FetchConfig    `json:"fetch"`
	Sources []SourceConfig `json:"sources"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RaceConfig controls the coordinator.
//
// RetryBudget is a pointer so an explicit 0 (no retries) can be told apart
// from an omitted field.
//
// Defaults (when fields are omitted/zero):
//   - retry_budget: 3
//   - strategy: "events"
//   - retry_base: "0s" (retry immediately)
//   - retry_max_delay: "15s"
//   - retry_jitter: 0
type RaceConfig struct {
	RetryBudget   *int    `json:"retry_budget,omitempty"`
	Strategy      string  `json:"strategy,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RetryJitter   float64 `json:"retry_jitter,omitempty"`
}

type FetchConfig struct {
	// Timeout bounds a single fetch. "0s" disables it.
	Timeout string     `json:"timeout,omitempty"`
	HTTP    HTTPConfig `json:"http"`
	Dir     DirConfig  `json:"dir"`
	Sim     SimConfig  `json:"sim"`
}

type HTTPConfig struct {
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
	MaxBytes   int64   `json:"max_bytes,omitempty"`
}

type DirConfig struct {
	// Settle is the quiet period after a file event before reading.
	Settle string `json:"settle,omitempty"`
}

// SimConfig drives the simulated sim:// servers used by the demo.
type SimConfig struct {
	FailRate *float64 `json:"fail_rate,omitempty"`
	MinDelay string   `json:"min_delay,omitempty"`
	MaxDelay string   `json:"max_delay,omitempty"`
	Seed     uint64   `json:"seed,omitempty"`
}

// SourceConfig is one configured source. Enabled defaults to true.
type SourceConfig struct {
	ID      string `json:"id"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (s SourceConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "fetchrace/pkg/logx"
)

// ErrNoSources is returned when no enabled source remains.
var ErrNoSources = errors.New("config: no enabled sources")

const (
	DefaultRetryBudget   = 3
	DefaultStrategy      = "events"
	DefaultRetryMaxDelay = 15 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFailRate      = 0.5
	DefaultUserAgent     = "fetchrace"
)

// Default returns a Config with every optional field filled in.
func Default() *Config {
	return (&Config{Logging: LoggingConfig{Level: "info", Console: true}}).WithDefaults()
}

// WithDefaults fills omitted fields in place and returns c.
func (c *Config) WithDefaults() *Config {
	if c.Race.RetryBudget == nil {
		n := DefaultRetryBudget
		c.Race.RetryBudget = &n
	}
	if strings.TrimSpace(c.Race.Strategy) == "" {
		c.Race.Strategy = DefaultStrategy
	}
	if c.Race.RetryMaxDelay == "" {
		c.Race.RetryMaxDelay = DefaultRetryMaxDelay.String()
	}
	if c.Fetch.Timeout == "" {
		c.Fetch.Timeout = DefaultFetchTimeout.String()
	}
	if c.Fetch.HTTP.UserAgent == "" {
		c.Fetch.HTTP.UserAgent = DefaultUserAgent
	}
	if c.Fetch.HTTP.RatePerSec > 0 && c.Fetch.HTTP.Burst <= 0 {
		c.Fetch.HTTP.Burst = 1
	}
	if c.Fetch.Sim.FailRate == nil {
		f := DefaultFailRate
		c.Fetch.Sim.FailRate = &f
	}
	if c.Fetch.Sim.MinDelay == "" {
		c.Fetch.Sim.MinDelay = "50ms"
	}
	if c.Fetch.Sim.MaxDelay == "" {
		c.Fetch.Sim.MaxDelay = "500ms"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	// Keep at least one sink.
	if !c.Logging.Console && !c.Logging.File.Enabled {
		c.Logging.Console = true
	}
	return c
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Race.RetryBudget != nil && *c.Race.RetryBudget < 0 {
		errs = append(errs, fmt.Errorf("race.retry_budget: must be >= 0, got %d", *c.Race.RetryBudget))
	}
	switch strings.ToLower(strings.TrimSpace(c.Race.Strategy)) {
	case "", "events", "select":
	default:
		errs = append(errs, fmt.Errorf("race.strategy: unknown strategy %q (want events or select)", c.Race.Strategy))
	}
	if c.Race.RetryJitter < 0 || c.Race.RetryJitter > 1 {
		errs = append(errs, fmt.Errorf("race.retry_jitter: must be in [0,1], got %v", c.Race.RetryJitter))
	}
	if fr := c.Fetch.Sim.FailRate; fr != nil && (*fr < 0 || *fr > 1) {
		errs = append(errs, fmt.Errorf("fetch.sim.fail_rate: must be in [0,1], got %v", *fr))
	}
	if c.Fetch.HTTP.RatePerSec < 0 {
		errs = append(errs, errors.New("fetch.http.rate_per_sec: must be >= 0"))
	}
	for i, s := range c.Sources {
		if s.IsEnabled() && strings.TrimSpace(s.ID) == "" {
			errs = append(errs, fmt.Errorf("sources[%d].id: required for an enabled source", i))
		}
	}
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q (want trace, debug, info, warn or error)", c.Logging.Level))
		}
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}
	if _, err := c.Settings(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EnabledSources returns the ids of enabled sources in file order.
func (c *Config) EnabledSources() []string {
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if id := strings.TrimSpace(s.ID); id != "" && s.IsEnabled() {
			out = append(out, id)
		}
	}
	return out
}

// Settings is Config with durations parsed and defaults resolved.
type Settings struct {
	Artifact      string
	RetryBudget   int
	Strategy      string
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
	FetchTimeout  time.Duration
	DirSettle     time.Duration
	HTTP          HTTPConfig
	SimFailRate   float64
	SimMinDelay   time.Duration
	SimMaxDelay   time.Duration
	SimSeed       uint64
}

func (c *Config) Settings() (Settings, error) {
	s := Settings{
		Artifact:    strings.TrimSpace(c.Artifact),
		RetryBudget: DefaultRetryBudget,
		Strategy:    strings.ToLower(strings.TrimSpace(c.Race.Strategy)),
		RetryJitter: c.Race.RetryJitter,
		HTTP:        c.Fetch.HTTP,
		SimFailRate: DefaultFailRate,
		SimSeed:     c.Fetch.Sim.Seed,
	}
	if c.Race.RetryBudget != nil {
		s.RetryBudget = *c.Race.RetryBudget
	}
	if s.Strategy == "" {
		s.Strategy = DefaultStrategy
	}
	if c.Fetch.Sim.FailRate != nil {
		s.SimFailRate = *c.Fetch.Sim.FailRate
	}

	var err error
	if s.RetryBase, err = ParseDurationField("race.retry_base", c.Race.RetryBase); err != nil {
		return Settings{}, err
	}
	if s.RetryMaxDelay, err = ParseDurationOrDefault("race.retry_max_delay", c.Race.RetryMaxDelay, DefaultRetryMaxDelay); err != nil {
		return Settings{}, err
	}
	if s.FetchTimeout, err = ParseDurationField("fetch.timeout", c.Fetch.Timeout); err != nil {
		return Settings{}, err
	}
	if s.DirSettle, err = ParseDurationField("fetch.dir.settle", c.Fetch.Dir.Settle); err != nil {
		return Settings{}, err
	}
	if s.SimMinDelay, err = ParseDurationField("fetch.sim.min_delay", c.Fetch.Sim.MinDelay); err != nil {
		return Settings{}, err
	}
	if s.SimMaxDelay, err = ParseDurationField("fetch.sim.max_delay", c.Fetch.Sim.MaxDelay); err != nil {
		return Settings{}, err
	}
	if s.SimMaxDelay < s.SimMinDelay {
		return Settings{}, errors.New("fetch.sim.max_delay: must be >= min_delay")
	}
	return s, nil
}

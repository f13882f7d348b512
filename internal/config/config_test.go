package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
artifact: app-1.2.3.tar.gz
logging: {level: debug, console: true}
race:
  retry_budget: 0
  strategy: select
  retry_base: 100ms
  retry_jitter: 0.2
fetch:
  timeout: 5s
  http: {rate_per_sec: 2, user_agent: test}
  sim: {fail_rate: 0, seed: 42}
sources:
  - id: https://mirror-a.example.com/pub
  - id: sim://One
    enabled: false
  - id: dir:///srv/drop
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(writeFile(t, "fetchrace.yaml", sampleYAML)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s, err := cfg.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.RetryBudget != 0 {
		t.Fatalf("retry budget=%d, want explicit 0", s.RetryBudget)
	}
	if s.Strategy != "select" || s.RetryBase != 100*time.Millisecond || s.FetchTimeout != 5*time.Second {
		t.Fatalf("settings=%+v", s)
	}
	if s.RetryMaxDelay != DefaultRetryMaxDelay {
		t.Fatalf("retry max delay=%v, want default", s.RetryMaxDelay)
	}
	if s.HTTP.Burst != 1 || s.HTTP.UserAgent != "test" {
		t.Fatalf("http=%+v", s.HTTP)
	}
	if s.SimFailRate != 0 || s.SimSeed != 42 {
		t.Fatalf("sim fail=%v seed=%d", s.SimFailRate, s.SimSeed)
	}

	got := cfg.EnabledSources()
	want := []string{"https://mirror-a.example.com/pub", "dir:///srv/drop"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("enabled=%v, want %v", got, want)
	}
}

func TestLoadJSONSniffed(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "fetchrace.conf", `{"artifact":"a","sources":[{"id":"sim://One"}]}`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg.Race.RetryBudget != DefaultRetryBudget || cfg.Race.Strategy != DefaultStrategy {
		t.Fatalf("defaults not applied: %+v", cfg.Race)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		name, body string
	}{
		"unknown json": {"c.json", `{"artifact":"a","retries":3}`},
		"unknown yaml": {"c.yaml", "artifact: a\nrace: {budget: 2}\n"},
		"trailing":     {"c.json", `{"artifact":"a"}{"artifact":"b"}`},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.name, []byte(tc.body)); err == nil {
				t.Fatalf("Decode accepted %q", tc.body)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	neg := -1
	bad := 1.5
	off := false
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative budget", Config{Race: RaceConfig{RetryBudget: &neg}}, "race.retry_budget"},
		{"strategy", Config{Race: RaceConfig{Strategy: "ordered"}}, "race.strategy"},
		{"jitter", Config{Race: RaceConfig{RetryJitter: 2}}, "race.retry_jitter"},
		{"fail rate", Config{Fetch: FetchConfig{Sim: SimConfig{FailRate: &bad}}}, "fetch.sim.fail_rate"},
		{"blank source", Config{Sources: []SourceConfig{{ID: " "}}}, "sources[0].id"},
		{"duration", Config{Race: RaceConfig{RetryBase: "soon"}}, "race.retry_base"},
		{"sim delays", Config{Fetch: FetchConfig{Sim: SimConfig{MinDelay: "2s", MaxDelay: "1s"}}}, "fetch.sim.max_delay"},
		{"log level", Config{Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v, want mention of %s", tc.name, err, tc.want)
		}
	}

	ok := Config{Sources: []SourceConfig{{ID: "", Enabled: &off}, {ID: "sim://One"}}}
	if err := ok.WithDefaults().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Second); err != nil || d != time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
}

func TestLoadWithoutLoggingSectionKeepsConsole(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(writeFile(t, "bare.yaml", "artifact: a\nsources:\n  - id: sim://One\n")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Logging.Console || cfg.Logging.Level != "info" {
		t.Fatalf("logging=%+v, want console at info", cfg.Logging)
	}

	withFile := Config{Logging: LoggingConfig{File: LoggingFile{Enabled: true, Path: "x.log"}}}
	if withFile.WithDefaults().Logging.Console {
		t.Fatalf("console forced on although a file sink is configured")
	}
}

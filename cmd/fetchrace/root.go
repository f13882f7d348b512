package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fetchrace/internal/app"
	"fetchrace/internal/config"
)

// closeWait bounds how long we wait for aborted attempts on exit.
const closeWait = 2 * time.Second

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "fetchrace",
		Short: "Fetch one artifact from the fastest of several unreliable sources",
		Long: `fetchrace starts a download from every source at once, retries failed
sources a bounded number of times, and keeps the first copy that arrives.
Every other download is abandoned as soon as a winner is known.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: ExitInvalidArgs, err: err}
	})

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file (JSON or YAML)")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error")
	pf.Bool("json-logs", false, "write logs as JSON lines")
	bind(v, pf, "config", "config")
	bind(v, pf, "logging.level", "log-level")
	bind(v, pf, "logging.json", "json-logs")

	v.SetEnvPrefix("FETCHRACE")
	// FETCHRACE_RACE_RETRY_BUDGET for race.retry_budget
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newGetCmd(v), newDemoCmd(v), newSourcesCmd(v))
	return root
}

func bind(v *viper.Viper, fs *pflag.FlagSet, key, flag string) {
	_ = v.BindPFlag(key, fs.Lookup(flag))
}

// bindOnRun binds a command's own flags when it runs. Several commands share
// keys (e.g. --retries), and viper keeps one flag per key.
func bindOnRun(v *viper.Viper, keys map[string]string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		for key, flag := range keys {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return err
			}
		}
		return nil
	}
}

// loadConfig reads --config (or starts from defaults) and applies the
// overrides that came from flags or FETCHRACE_* variables.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	var cfg *config.Config
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		c, err := config.NewConfigManager(path).Load()
		if err != nil {
			return nil, &exitError{code: ExitInvalidArgs, err: fmt.Errorf("load config: %w", err)}
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	if s := v.GetString("artifact"); s != "" {
		cfg.Artifact = s
	}
	if srcs := v.GetStringSlice("sources"); len(srcs) > 0 {
		cfg.Sources = cfg.Sources[:0]
		for _, s := range srcs {
			cfg.Sources = append(cfg.Sources, config.SourceConfig{ID: s})
		}
	}
	if v.IsSet("race.retry_budget") {
		n := v.GetInt("race.retry_budget")
		cfg.Race.RetryBudget = &n
	}
	if s := v.GetString("race.strategy"); s != "" {
		cfg.Race.Strategy = s
	}
	if s := v.GetString("fetch.timeout"); s != "" {
		cfg.Fetch.Timeout = s
	}
	if s := v.GetString("logging.level"); s != "" {
		cfg.Logging.Level = s
	}
	if v.GetBool("logging.json") {
		cfg.Logging.JSON = true
	}
	if v.IsSet("fetch.sim.fail_rate") {
		f := v.GetFloat64("fetch.sim.fail_rate")
		cfg.Fetch.Sim.FailRate = &f
	}
	if seed := v.GetUint64("fetch.sim.seed"); seed != 0 {
		cfg.Fetch.Sim.Seed = seed
	}

	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: ExitInvalidArgs, err: err}
	}
	return cfg, nil
}

func newApp(ctx context.Context, v *viper.Viper) (*app.App, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, &exitError{code: ExitInvalidArgs, err: err}
	}
	return a, nil
}

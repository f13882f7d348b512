package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fetchrace/internal/config"
	"fetchrace/internal/race"
)

func newDemoCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Race simulated servers One..Ten once per strategy",
		Args:  cobra.NoArgs,
		PreRunE: bindOnRun(v, map[string]string{
			"demo.servers":        "servers",
			"race.retry_budget":   "retries",
			"fetch.sim.fail_rate": "fail-rate",
			"fetch.sim.seed":      "seed",
			"race.strategy":       "strategy",
		}),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, v)
		},
	}
	f := cmd.Flags()
	f.Int("servers", 10, "number of simulated servers")
	f.Int("retries", config.DefaultRetryBudget, "retries per server after its first failure")
	f.Float64("fail-rate", config.DefaultFailRate, "probability that a simulated fetch fails")
	f.Uint64("seed", 0, "simulator seed (0 picks one)")
	f.String("strategy", "", "run only this strategy (default: all)")
	return cmd
}

func runDemo(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.Close(closeWait)

	var strategies []race.Strategy
	if cmd.Flags().Changed("strategy") {
		s, err := race.ParseStrategy(v.GetString("race.strategy"))
		if err != nil {
			return usageError("%v", err)
		}
		strategies = append(strategies, s)
	}

	results, err := a.Demo(ctx, v.GetInt("demo.servers"), strategies...)
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintln(out, r.Line())
		fmt.Fprintln(cmd.ErrOrStderr(), "  "+r.Report.Summary())
	}
	return err
}

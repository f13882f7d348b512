package app

import (
	"context"

	"fetchrace/internal/fetch"
	"fetchrace/internal/race"
	logx "fetchrace/pkg/logx"
)

// DemoResult is one strategy's run of the simulated race.
type DemoResult struct {
	Strategy race.Strategy
	Artifact string
	Result
}

// Line renders the result the way the demo prints it.
func (d DemoResult) Line() string {
	if d.Outcome.Succeeded() {
		return "[" + string(d.Strategy) + "] " + d.Artifact + " downloaded"
	}
	return "[" + string(d.Strategy) + "] All downloads failed!"
}

// Demo races n simulated sim:// servers once per strategy. All runs share
// one seeded simulator. It stops early only when ctx ends.
func (a *App) Demo(ctx context.Context, n int, strategies ...race.Strategy) ([]DemoResult, error) {
	if n <= 0 {
		n = 10
	}
	if len(strategies) == 0 {
		strategies = race.Strategies()
	}
	artifact := a.set.Artifact
	if artifact == "" {
		artifact = "binary"
	}

	sim := a.simFetcher(artifact)
	sources := fetch.SimSources(n)
	a.log.Info("demo starting", logx.Int("servers", n), logx.Int("retry_budget", a.set.RetryBudget), logx.Float64("fail_rate", a.set.SimFailRate))

	out := make([]DemoResult, 0, len(strategies))
	for _, s := range strategies {
		res, err := a.runRace(ctx, sim, s, sources)
		out = append(out, DemoResult{Strategy: s, Artifact: artifact, Result: res})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"fetchrace/internal/config"
	"fetchrace/internal/eventbus"
	"fetchrace/internal/fetch"
	"fetchrace/internal/race"
	"fetchrace/internal/runtime/supervisor"
	logx "fetchrace/pkg/logx"
)

// App wires configuration, logging, the event bus, the attempt supervisor
// and the fetchers around a race coordinator.
type App struct {
	cfg *config.Config
	set config.Settings

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sup  *supervisor.Supervisor

	fetcher race.Fetcher
	closers []io.Closer

	strategy race.Strategy
	backoff  race.Backoff
}

type Option func(*App)

// WithLogger replaces the logging service built from cfg.Logging.
func WithLogger(log logx.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithFetcher replaces the scheme router built from cfg.Fetch.
func WithFetcher(f race.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// New validates cfg and builds the app. ctx bounds the lifetime of the
// attempt supervisor.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	set, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	strategy, err := race.ParseStrategy(set.Strategy)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		set:      set,
		bus:      eventbus.New(),
		strategy: strategy,
		backoff:  race.Exponential(set.RetryBase, set.RetryMaxDelay, set.RetryJitter),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.log.IsZero() {
		a.logs, a.log = logx.New(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			JSON:    cfg.Logging.JSON,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	}
	a.log = a.log.With(logx.String("comp", "app"))
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if a.fetcher == nil {
		a.fetcher = a.buildRouter()
	}
	return a, nil
}

func (a *App) Config() *config.Config    { return a.cfg }
func (a *App) Settings() config.Settings { return a.set }
func (a *App) Logger() logx.Logger       { return a.log }
func (a *App) Bus() eventbus.Bus         { return a.bus }
func (a *App) Strategy() race.Strategy   { return a.strategy }

func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Coordinator returns a coordinator over f using the app's bus, supervisor
// and retry policy. A zero strategy uses the configured one.
func (a *App) Coordinator(f race.Fetcher, s race.Strategy) *race.Coordinator {
	if s == "" {
		s = a.strategy
	}
	return race.New(f,
		race.WithStrategy(s),
		race.WithBackoff(a.backoff),
		race.WithLogger(a.log.With(logx.String("comp", "race"), logx.String("strategy", string(s)))),
		race.WithBus(a.bus),
		race.WithSupervisor(a.sup),
	)
}

// Supports reports whether the configured fetcher can handle src. Fetchers
// other than the scheme router are assumed to handle everything.
func (a *App) Supports(src race.SourceID) bool {
	if r, ok := a.fetcher.(*fetch.Router); ok {
		return r.Supports(src)
	}
	return true
}

// Result is one finished race.
type Result struct {
	Outcome race.Outcome
	Report  Report
}

// Get races the enabled sources of the config, narrowed by include (a glob;
// empty keeps all). With no source left it returns config.ErrNoSources.
// An exhausted race is not an error.
func (a *App) Get(ctx context.Context, include string) (Result, error) {
	sources, err := FilterSources(a.cfg.EnabledSources(), include)
	if err != nil {
		return Result{}, err
	}
	if len(sources) == 0 {
		return Result{}, config.ErrNoSources
	}
	return a.runRace(ctx, a.fetcher, a.strategy, sources)
}

func (a *App) runRace(ctx context.Context, f race.Fetcher, s race.Strategy, sources []race.SourceID) (Result, error) {
	c := a.Coordinator(f, s)
	rec := NewRecorder(a.bus)
	start := time.Now()
	out, err := c.Run(ctx, sources, a.set.RetryBudget)
	rep := rec.Stop()
	rep.Strategy = c.Strategy()
	rep.Elapsed = time.Since(start)
	return Result{Outcome: out, Report: rep}, err
}

// Close waits up to wait for aborted attempts to unwind, then releases
// fetchers and log sinks.
func (a *App) Close(wait time.Duration) error {
	var errs []error

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := a.sup.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			snap := a.sup.Snapshot()
			var stuck []string
			for _, g := range snap.Goroutines {
				if g.Active > 0 {
					stuck = append(stuck, g.Name)
				}
			}
			a.log.Warn("attempts still running at exit", logx.Int64("active", snap.Counters.Active), logx.Uint64("started", snap.Counters.Started), logx.Strings("names", stuck))
		} else {
			errs = append(errs, err)
		}
	}
	a.sup.Cancel()

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fetcher: %w", err))
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package race

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"fetchrace/internal/runtime/supervisor"
	logx "fetchrace/pkg/logx"
)

// result is what an attempt reports exactly once when it finishes.
type result struct {
	att      *attempt
	artifact Artifact
	err      error // *FetchError when non-nil
}

// launcher carries the run-scoped collaborators every attempt needs.
type launcher struct {
	ctx     context.Context // run context; canceled when Run returns
	fetcher Fetcher
	sup     *supervisor.Supervisor
	backoff Backoff
	log     logx.Logger

	// events is the shared completion channel (StrategyEvents only). It is
	// buffered to the number of sources: at most one live attempt per
	// source, each sends once.
	events chan result
}

// attempt is one in-flight fetch of one source. It owns its cancel func;
// nothing else may cancel the underlying fetch.
type attempt struct {
	source     SourceID
	generation int // 1 for the first attempt of a source
	remaining  int // retries left after this attempt fails
	delay      time.Duration
	cancel     context.CancelFunc
	done       chan result // buffered(1), written exactly once
}

// startAttempt begins fetching source immediately.
func startAttempt(l *launcher, source SourceID, generation, remaining int) *attempt {
	ctx, cancel := context.WithCancel(l.ctx)
	a := &attempt{
		source:     source,
		generation: generation,
		remaining:  remaining,
		cancel:     cancel,
		done:       make(chan result, 1),
	}
	if generation > 1 && l.backoff != nil {
		a.delay = l.backoff.Delay(generation - 1)
	}

	if l.sup != nil {
		l.sup.Spawn(ctx, "attempt:"+string(source), func(ctx context.Context) error {
			a.run(ctx, l)
			return nil
		})
	} else {
		go a.run(ctx, l)
	}
	return a
}

// abort requests cancellation. Idempotent and never blocks; the fetch may
// keep running and its late result is discarded by the coordinator.
func (a *attempt) abort() {
	if a != nil && a.cancel != nil {
		a.cancel()
	}
}

// retry consumes a failed attempt. It returns a freshly started attempt for
// the same source with one fewer retry, or ok=false when the source is out
// of budget. The receiver must not be used afterwards.
func (a *attempt) retry(l *launcher) (next *attempt, ok bool) {
	a.abort()
	if a.remaining <= 0 {
		return nil, false
	}
	return startAttempt(l, a.source, a.generation+1, a.remaining-1), true
}

// observe is a non-blocking completion check.
func (a *attempt) observe() (result, bool) {
	select {
	case r := <-a.done:
		return r, true
	default:
		return result{}, false
	}
}

func (a *attempt) run(ctx context.Context, l *launcher) {
	r := result{att: a}
	if a.delay > 0 {
		l.log.Trace("attempt.delayed", logx.String("source", string(a.source)), logx.Int("attempt", a.generation), logx.Duration("delay", a.delay))
		t := time.NewTimer(a.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			r.err = attribute(a.source, a.generation, ctx.Err())
			a.report(l, r)
			return
		case <-t.C:
		}
	}

	r.artifact, r.err = a.invoke(ctx, l)
	a.report(l, r)
}

// invoke calls the fetcher and converts panics into ordinary fetch failures.
func (a *attempt) invoke(ctx context.Context, l *launcher) (art Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			fields := []logx.Field{logx.String("source", string(a.source)), logx.Int("attempt", a.generation), logx.Any("panic", p)}
			if l.log.Enabled(logx.LevelDebug) {
				fields = append(fields, logx.String("stack", string(debug.Stack())))
			}
			l.log.Error("attempt.panic", fields...)
			art = Artifact{}
			err = attribute(a.source, a.generation, fmt.Errorf("panic: %v", p))
		}
	}()

	art, err = l.fetcher.Fetch(ctx, a.source)
	if err != nil {
		return Artifact{}, attribute(a.source, a.generation, err)
	}
	if art.Source == "" {
		art.Source = a.source
	}
	return art, nil
}

func (a *attempt) report(l *launcher, r result) {
	a.done <- r
	if l.events == nil {
		return
	}
	select {
	case l.events <- r:
	case <-l.ctx.Done():
		// Run is over; nobody will read this.
	}
}

package race

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strconv"
	"sync/atomic"
	"time"

	"fetchrace/internal/eventbus"
	"fetchrace/internal/runtime/supervisor"
	logx "fetchrace/pkg/logx"
)

var errNilFetcher = errors.New("race: nil fetcher")

// Coordinator races one artifact across interchangeable sources.
//
// A Coordinator is safe for concurrent use: every Run keeps its own
// attempt set and run context.
type Coordinator struct {
	fetcher  Fetcher
	log      logx.Logger
	bus      eventbus.Bus
	sup      *supervisor.Supervisor
	strategy Strategy
	backoff  Backoff
	runID    string

	runs atomic.Uint64
}

// New returns a Coordinator that fetches through f.
func New(f Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:  f,
		strategy: StrategyEvents,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Coordinator) Strategy() Strategy { return c.strategy }

// run is the per-call state of Run. Only the goroutine executing Run uses it.
type run struct {
	id    string
	phase Phase
	log   logx.Logger
	bus   eventbus.Bus
	l     *launcher
	set   *attemptSet
}

// Run starts one attempt per source and returns the first artifact any of
// them produces. A source whose attempt fails is retried up to retryBudget
// times. Once a winner is seen, or every source is out of budget, all other
// attempts are aborted without waiting for them.
//
// Blank and duplicate sources are dropped. A negative budget counts as 0.
// Fetch failures never escape Run: with no winner the outcome is exhausted
// and the error is nil. The error is non-nil only when ctx ends first, in
// which case it is ctx.Err().
func (c *Coordinator) Run(ctx context.Context, sources []SourceID, retryBudget int) (Outcome, error) {
	if c == nil || c.fetcher == nil {
		return Outcome{}, errNilFetcher
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if retryBudget < 0 {
		retryBudget = 0
	}
	srcs := normalizeSources(sources)

	r := c.newRun(srcs)
	if len(srcs) == 0 {
		r.phase = PhaseExhausted
		r.log.Info("race.exhausted", logx.String("reason", "no sources"))
		r.publish(EventRaceExhausted, Event{})
		return Outcome{}, nil
	}
	if err := ctx.Err(); err != nil {
		r.publish(EventRaceCanceled, Event{Err: err})
		return Outcome{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.l = &launcher{
		ctx:     runCtx,
		fetcher: c.fetcher,
		sup:     c.sup,
		backoff: c.backoff,
		log:     r.log,
	}
	if c.strategy != StrategySelect {
		r.l.events = make(chan result, len(srcs))
	}
	defer r.set.abortAll()

	r.phase = PhaseRacing
	r.log.Debug("race.started", logx.Int("sources", len(srcs)), logx.Int("retry_budget", retryBudget), logx.String("strategy", string(c.strategy)))
	r.publish(EventRaceStarted, Event{Sources: srcs, Remaining: retryBudget})
	for _, src := range srcs {
		r.start(startAttempt(r.l, src, 1, retryBudget))
	}

	for !r.set.empty() {
		if err := ctx.Err(); err != nil {
			return r.canceled(err)
		}

		var (
			batch []result
			err   error
		)
		if r.l.events != nil {
			batch, err = waitEvents(ctx, r.l.events)
		} else {
			batch, err = waitSelect(ctx, r.set.list())
		}
		if err != nil {
			return r.canceled(err)
		}

		if won, ok := r.winner(batch); ok {
			return r.win(won), nil
		}
		for _, res := range batch {
			if err := ctx.Err(); err != nil {
				return r.canceled(err)
			}
			r.fail(res)
		}
	}

	r.phase = PhaseExhausted
	r.log.Warn("race.exhausted", logx.Int("sources", len(srcs)), logx.Int("retry_budget", retryBudget))
	r.publish(EventRaceExhausted, Event{})
	return Outcome{}, nil
}

func (c *Coordinator) newRun(srcs []SourceID) *run {
	id := c.runID
	n := c.runs.Add(1)
	if id == "" {
		id = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if n > 1 {
		id = fmt.Sprintf("%s-%d", id, n)
	}
	return &run{
		id:    id,
		phase: PhaseIdle,
		log:   c.log.With(logx.String("run", id)),
		bus:   c.bus,
		set:   newAttemptSet(srcs),
	}
}

func (r *run) start(a *attempt) {
	r.set.insert(a)
	r.publish(EventAttemptStarted, Event{
		Source:    a.source,
		Attempt:   a.generation,
		Remaining: a.remaining,
		Delay:     a.delay,
		Live:      r.set.len(),
	})
}

// winner returns the first success in the batch that still belongs to the
// set. Later results in the same batch are not consulted.
func (r *run) winner(batch []result) (result, bool) {
	for _, res := range batch {
		if res.err == nil && r.set.owns(res.att) {
			return res, true
		}
	}
	return result{}, false
}

func (r *run) win(res result) Outcome {
	r.set.remove(res.att)
	res.att.abort()

	r.phase = PhaseDraining
	for _, a := range r.set.abortAll() {
		r.publish(EventAttemptAborted, Event{Source: a.source, Attempt: a.generation, Remaining: a.remaining})
	}

	r.phase = PhaseDone
	art := res.artifact
	r.log.Info("race.won", logx.String("source", string(art.Source)), logx.Int("attempt", res.att.generation), logx.Int("bytes", len(art.Data)))
	r.publish(EventRaceWon, Event{Source: art.Source, Attempt: res.att.generation, Artifact: &art})
	return success(art)
}

// fail handles one failed result: the attempt is dropped and, budget
// permitting, replaced by a fresh attempt for the same source.
func (r *run) fail(res result) {
	if !r.set.owns(res.att) {
		return
	}
	a := res.att
	r.set.remove(a)

	r.log.Debug("attempt.failed", logx.String("source", string(a.source)), logx.Int("attempt", a.generation), logx.Int("remaining", a.remaining), logx.Err(res.err))
	r.publish(EventAttemptFailed, Event{Source: a.source, Attempt: a.generation, Remaining: a.remaining, Err: res.err, Live: r.set.len()})

	next, ok := a.retry(r.l)
	if !ok {
		r.log.Warn("source.exhausted", logx.String("source", string(a.source)), logx.Int("attempts", a.generation), logx.Err(res.err))
		r.publish(EventSourceExhausted, Event{Source: a.source, Attempt: a.generation, Err: res.err, Live: r.set.len()})
		return
	}
	r.publish(EventAttemptRetrying, Event{Source: next.source, Attempt: next.generation, Remaining: next.remaining, Delay: next.delay})
	r.start(next)
}

func (r *run) canceled(err error) (Outcome, error) {
	r.phase = PhaseDraining
	for _, a := range r.set.abortAll() {
		r.publish(EventAttemptAborted, Event{Source: a.source, Attempt: a.generation, Remaining: a.remaining})
	}
	r.phase = PhaseDone
	r.log.Info("race.canceled", logx.Err(err))
	r.publish(EventRaceCanceled, Event{Err: err})
	return Outcome{}, err
}

// waitEvents blocks for the next completion on the shared channel, then
// takes whatever else is already queued behind it.
func waitEvents(ctx context.Context, events <-chan result) ([]result, error) {
	var first result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case first = <-events:
	}

	batch := []result{first}
	for {
		select {
		case res := <-events:
			batch = append(batch, res)
		default:
			return batch, nil
		}
	}
}

// waitSelect blocks on the per-attempt channels of live. reflect.Select
// picks uniformly among ready cases; any other attempts that are already
// done are collected in shuffled order so list position carries no priority.
func waitSelect(ctx context.Context, live []*attempt) ([]result, error) {
	cases := make([]reflect.SelectCase, 0, len(live)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for _, a := range live {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(a.done)})
	}

	chosen, v, ok := reflect.Select(cases)
	if chosen == 0 {
		return nil, ctx.Err()
	}
	batch := make([]result, 0, 1)
	if ok {
		batch = append(batch, v.Interface().(result))
	}

	rest := make([]*attempt, 0, len(live)-1)
	for i, a := range live {
		if i != chosen-1 {
			rest = append(rest, a)
		}
	}
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	for _, a := range rest {
		if res, ok := a.observe(); ok {
			batch = append(batch, res)
		}
	}
	return batch, nil
}

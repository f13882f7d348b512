package race

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fetchrace/internal/eventbus"
	"fetchrace/internal/runtime/supervisor"
)

var errBoom = errors.New("boom")

// scripted is a Fetcher whose behaviour per call is decided by plan.
type scripted struct {
	mu    sync.Mutex
	calls map[SourceID]int
	plan  func(ctx context.Context, src SourceID, call int) (Artifact, error)
}

func newScripted(plan func(ctx context.Context, src SourceID, call int) (Artifact, error)) *scripted {
	return &scripted{calls: map[SourceID]int{}, plan: plan}
}

func (s *scripted) Fetch(ctx context.Context, src SourceID) (Artifact, error) {
	s.mu.Lock()
	s.calls[src]++
	n := s.calls[src]
	s.mu.Unlock()
	return s.plan(ctx, src, n)
}

func (s *scripted) count(src SourceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[src]
}

func (s *scripted) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func forEachStrategy(t *testing.T, fn func(t *testing.T, s Strategy)) {
	t.Helper()
	for _, s := range Strategies() {
		s := s
		t.Run(string(s), func(t *testing.T) {
			t.Parallel()
			fn(t, s)
		})
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// settle waits until every attempt goroutine tracked by sup has returned.
func settle(t *testing.T, sup *supervisor.Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("attempts did not settle: %v", err)
	}
}

func TestRunFastestSourceWinsAndOthersAreAborted(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		ctx := testCtx(t)
		var entered sync.WaitGroup
		entered.Add(2)
		aborted := make(chan SourceID, 2)

		f := newScripted(func(ctx context.Context, src SourceID, _ int) (Artifact, error) {
			if src == "A" {
				entered.Wait()
				return Artifact{Name: "pkg", Data: []byte("a")}, nil
			}
			entered.Done()
			<-ctx.Done()
			aborted <- src
			return Artifact{}, ctx.Err()
		})
		sup := supervisor.NewSupervisor(context.Background())
		c := New(f, WithStrategy(s), WithSupervisor(sup))

		out, err := c.Run(ctx, []SourceID{"A", "B", "C"}, 3)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !out.Succeeded() || out.Artifact.Source != "A" {
			t.Fatalf("outcome=%v, want success from A", out)
		}

		got := map[SourceID]bool{}
		for i := 0; i < 2; i++ {
			select {
			case src := <-aborted:
				got[src] = true
			case <-ctx.Done():
				t.Fatalf("losers not aborted, got %v", got)
			}
		}
		if !got["B"] || !got["C"] {
			t.Fatalf("aborted=%v, want B and C", got)
		}

		settle(t, sup)
		for _, src := range []SourceID{"A", "B", "C"} {
			if n := f.count(src); n != 1 {
				t.Fatalf("%s invoked %d times after a winner, want 1", src, n)
			}
		}
	})
}

func TestRunAllFailingExhaustsEveryBudget(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		f := newScripted(func(context.Context, SourceID, int) (Artifact, error) {
			return Artifact{}, errBoom
		})
		out, err := New(f, WithStrategy(s)).Run(testCtx(t), []SourceID{"A", "B"}, 3)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if out.Succeeded() {
			t.Fatalf("outcome=%v, want exhausted", out)
		}
		for _, src := range []SourceID{"A", "B"} {
			if n := f.count(src); n != 4 {
				t.Fatalf("%s invoked %d times, want 4", src, n)
			}
		}
	})
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		f := newScripted(func(_ context.Context, _ SourceID, call int) (Artifact, error) {
			if call < 3 {
				return Artifact{}, errBoom
			}
			return Artifact{Data: []byte("ok")}, nil
		})
		out, err := New(f, WithStrategy(s)).Run(testCtx(t), []SourceID{"A"}, 3)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !out.Succeeded() || string(out.Artifact.Data) != "ok" {
			t.Fatalf("outcome=%v, want success", out)
		}
		if n := f.count("A"); n != 3 {
			t.Fatalf("A invoked %d times, want 3", n)
		}
	})
}

func TestRunEmptySourcesIsExhausted(t *testing.T) {
	cases := map[string][]SourceID{
		"nil":    nil,
		"empty":  {},
		"blanks": {"", "  "},
	}
	for name, sources := range cases {
		sources := sources
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newScripted(func(context.Context, SourceID, int) (Artifact, error) {
				return Artifact{}, nil
			})
			out, err := New(f).Run(testCtx(t), sources, 3)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out.Succeeded() {
				t.Fatalf("outcome=%v, want exhausted", out)
			}
			if n := f.total(); n != 0 {
				t.Fatalf("fetcher invoked %d times, want 0", n)
			}
		})
	}
}

func TestRunZeroBudgetFailoverToOtherSource(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		aFailed := make(chan struct{})
		f := newScripted(func(ctx context.Context, src SourceID, _ int) (Artifact, error) {
			if src == "A" {
				defer close(aFailed)
				return Artifact{}, errBoom
			}
			select {
			case <-aFailed:
			case <-ctx.Done():
				return Artifact{}, ctx.Err()
			}
			return Artifact{Name: "b"}, nil
		})
		out, err := New(f, WithStrategy(s)).Run(testCtx(t), []SourceID{"A", "B"}, 0)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !out.Succeeded() || out.Artifact.Source != "B" {
			t.Fatalf("outcome=%v, want success from B", out)
		}
		if n := f.count("A"); n != 1 {
			t.Fatalf("A invoked %d times, want 1", n)
		}
	})
}

func TestRunPanicIsRetryableFailure(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		f := newScripted(func(_ context.Context, _ SourceID, call int) (Artifact, error) {
			if call == 1 {
				panic("mirror exploded")
			}
			return Artifact{Name: "pkg"}, nil
		})
		bus := eventbus.New()
		ch, unsub := bus.Subscribe(64, EventAttemptFailed)
		defer unsub()

		out, err := New(f, WithStrategy(s), WithBus(bus)).Run(testCtx(t), []SourceID{"A"}, 1)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !out.Succeeded() {
			t.Fatalf("outcome=%v, want success", out)
		}
		if n := f.count("A"); n != 2 {
			t.Fatalf("A invoked %d times, want 2", n)
		}

		select {
		case e := <-ch:
			ev := e.Data.(Event)
			fe, ok := AsFetchError(ev.Err)
			if !ok || fe.Source != "A" || fe.Attempt != 1 {
				t.Fatalf("failure=%v, want FetchError for A attempt 1", ev.Err)
			}
			if !strings.Contains(ev.Err.Error(), "mirror exploded") {
				t.Fatalf("failure=%q, want panic value", ev.Err)
			}
		default:
			t.Fatalf("no attempt.failed event")
		}
	})
}

func TestRunExternalCancelAbortsAll(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		ctx, cancel := context.WithCancel(testCtx(t))
		var entered sync.WaitGroup
		entered.Add(2)
		f := newScripted(func(ctx context.Context, _ SourceID, _ int) (Artifact, error) {
			entered.Done()
			<-ctx.Done()
			return Artifact{}, ctx.Err()
		})
		go func() {
			entered.Wait()
			cancel()
		}()

		sup := supervisor.NewSupervisor(context.Background())
		out, err := New(f, WithStrategy(s), WithSupervisor(sup)).Run(ctx, []SourceID{"A", "B"}, 5)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v, want context.Canceled", err)
		}
		if _, ok := AsFetchError(err); ok {
			t.Fatalf("err=%v escaped as FetchError", err)
		}
		if out.Succeeded() {
			t.Fatalf("outcome=%v, want exhausted", out)
		}

		settle(t, sup)
		if a, b := f.count("A"), f.count("B"); a != 1 || b != 1 {
			t.Fatalf("invocations A=%d B=%d, want 1 each", a, b)
		}
	})
}

func TestRunAlreadyCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newScripted(func(context.Context, SourceID, int) (Artifact, error) {
		return Artifact{}, nil
	})
	_, err := New(f).Run(ctx, []SourceID{"A"}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if n := f.total(); n != 0 {
		t.Fatalf("fetcher invoked %d times, want 0", n)
	}
}

func TestRunDeduplicatesSources(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		f := newScripted(func(context.Context, SourceID, int) (Artifact, error) {
			return Artifact{}, errBoom
		})
		_, err := New(f, WithStrategy(s)).Run(testCtx(t), []SourceID{"A", " A ", "", "A", "B"}, 0)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if a, b := f.count("A"), f.count("B"); a != 1 || b != 1 {
			t.Fatalf("invocations A=%d B=%d, want 1 each", a, b)
		}
	})
}

func TestRunNegativeBudgetMeansNoRetry(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		f := newScripted(func(context.Context, SourceID, int) (Artifact, error) {
			return Artifact{}, errBoom
		})
		out, err := New(f, WithStrategy(s)).Run(testCtx(t), []SourceID{"A"}, -5)
		if err != nil || out.Succeeded() {
			t.Fatalf("Run = %v, %v; want exhausted, nil", out, err)
		}
		if n := f.count("A"); n != 1 {
			t.Fatalf("A invoked %d times, want 1", n)
		}
	})
}

func TestRunNilFetcher(t *testing.T) {
	t.Parallel()
	if _, err := New(nil).Run(context.Background(), []SourceID{"A"}, 0); !errors.Is(err, errNilFetcher) {
		t.Fatalf("err=%v, want errNilFetcher", err)
	}
}

func TestRunEventSequence(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		f := newScripted(func(context.Context, SourceID, int) (Artifact, error) {
			return Artifact{}, errBoom
		})
		bus := eventbus.New()
		ch, unsub := bus.Subscribe(64)
		defer unsub()

		_, err := New(f, WithStrategy(s), WithBus(bus), WithRunID("r1")).Run(testCtx(t), []SourceID{"A"}, 1)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}

		want := []string{
			EventRaceStarted,
			EventAttemptStarted,
			EventAttemptFailed,
			EventAttemptRetrying,
			EventAttemptStarted,
			EventAttemptFailed,
			EventSourceExhausted,
			EventRaceExhausted,
		}
		var got []string
		for len(got) < len(want) {
			select {
			case e := <-ch:
				if ev := e.Data.(Event); ev.RunID != "r1" {
					t.Fatalf("%s run id=%q, want r1", e.Type, ev.RunID)
				}
				got = append(got, e.Type)
			default:
				t.Fatalf("events=%v, want %v", got, want)
			}
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("events=%v, want %v", got, want)
			}
		}
	})
}

func TestRunBackoffDelaysReplacements(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		var (
			mu     sync.Mutex
			stamps []time.Time
		)
		f := newScripted(func(_ context.Context, _ SourceID, call int) (Artifact, error) {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			if call == 1 {
				return Artifact{}, errBoom
			}
			return Artifact{}, nil
		})
		delay := 30 * time.Millisecond
		c := New(f, WithStrategy(s), WithBackoff(BackoffFunc(func(int) time.Duration { return delay })))

		out, err := c.Run(testCtx(t), []SourceID{"A"}, 1)
		if err != nil || !out.Succeeded() {
			t.Fatalf("Run = %v, %v; want success", out, err)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(stamps) != 2 {
			t.Fatalf("invocations=%d, want 2", len(stamps))
		}
		if gap := stamps[1].Sub(stamps[0]); gap < delay {
			t.Fatalf("retry gap=%v, want >= %v", gap, delay)
		}
	})
}

func TestStaleResultsAreIgnored(t *testing.T) {
	t.Parallel()
	set := newAttemptSet([]SourceID{"A"})
	current := &attempt{source: "A", generation: 2, remaining: 1, done: make(chan result, 1)}
	stale := &attempt{source: "A", generation: 1, remaining: 2, done: make(chan result, 1)}
	set.insert(current)
	r := &run{id: "t", set: set, l: &launcher{}}

	if _, ok := r.winner([]result{{att: stale, artifact: Artifact{Name: "late"}}}); ok {
		t.Fatalf("stale success accepted as winner")
	}
	r.fail(result{att: stale, err: errBoom})
	if !set.owns(current) || set.len() != 1 {
		t.Fatalf("stale failure disturbed the set")
	}
}

func TestWinnerIsFirstSuccessInBatch(t *testing.T) {
	t.Parallel()
	a := &attempt{source: "A"}
	b := &attempt{source: "B"}
	c := &attempt{source: "C"}
	set := newAttemptSet([]SourceID{"A", "B", "C"})
	set.insert(a)
	set.insert(b)
	set.insert(c)
	r := &run{set: set}

	batch := []result{
		{att: a, err: errBoom},
		{att: b, artifact: Artifact{Name: "b"}},
		{att: c, artifact: Artifact{Name: "c"}},
	}
	w, ok := r.winner(batch)
	if !ok || w.att != b {
		t.Fatalf("winner=%v, want B", w.att)
	}
}

func TestSlowEarlySourceDoesNotDelayLaterWinner(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, s Strategy) {
		ctx := testCtx(t)
		release := make(chan struct{})

		f := newScripted(func(ctx context.Context, src SourceID, _ int) (Artifact, error) {
			switch src {
			case "A":
				// Ignores cancellation and finishes only after the race.
				<-release
				return Artifact{Name: "pkg", Data: []byte("late")}, nil
			case "B":
				<-ctx.Done()
				return Artifact{}, ctx.Err()
			}
			return Artifact{Name: "pkg", Data: []byte("c")}, nil
		})
		sup := supervisor.NewSupervisor(context.Background())
		c := New(f, WithStrategy(s), WithSupervisor(sup))

		type ran struct {
			out Outcome
			err error
		}
		done := make(chan ran, 1)
		go func() {
			out, err := c.Run(ctx, []SourceID{"A", "B", "C"}, 3)
			done <- ran{out, err}
		}()

		var got ran
		select {
		case got = <-done:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatalf("Run blocked behind the slow first source")
		}
		if got.err != nil {
			t.Fatalf("Run: %v", got.err)
		}
		if !got.out.Succeeded() || got.out.Artifact.Source != "C" {
			t.Fatalf("outcome=%v, want success from C", got.out)
		}

		close(release)
		settle(t, sup)
		if string(got.out.Artifact.Data) != "c" {
			t.Fatalf("winner data=%q changed after the late success", got.out.Artifact.Data)
		}
		if n := f.count("A"); n != 1 {
			t.Fatalf("A invoked %d times, want 1", n)
		}
	})
}

func TestConcurrentRunsShareBackoff(t *testing.T) {
	t.Parallel()
	b := Exponential(time.Millisecond, 0, 0.1)
	f := newScripted(func(context.Context, SourceID, int) (Artifact, error) {
		return Artifact{}, errBoom
	})
	c := New(f, WithBackoff(b))
	ctx := testCtx(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Run(ctx, []SourceID{"A", "B"}, 3)
			if err == nil && out.Succeeded() {
				err = errors.New("unexpected success")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if got, want := f.total(), 8*2*4; got != want {
		t.Fatalf("invocations=%d, want %d", got, want)
	}
}

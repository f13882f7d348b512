package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fetchrace/internal/eventbus"
	"fetchrace/internal/race"
)

// Report summarises one race from its bus events.
type Report struct {
	RunID    string
	Strategy race.Strategy
	Elapsed  time.Duration

	Sources   int
	Attempts  map[race.SourceID]int // attempts started per source
	Failures  int
	Exhausted []race.SourceID
	Aborted   int
	Winner    race.SourceID
	Canceled  bool

	// Dropped counts bus events the recorder missed.
	Dropped uint64
}

func (r Report) TotalAttempts() int {
	n := 0
	for _, c := range r.Attempts {
		n += c
	}
	return n
}

// Summary renders the report on one line.
func (r Report) Summary() string {
	var b strings.Builder
	switch {
	case r.Winner != "":
		fmt.Fprintf(&b, "won by %s", r.Winner)
	case r.Canceled:
		b.WriteString("canceled")
	default:
		b.WriteString("all sources exhausted")
	}
	fmt.Fprintf(&b, " after %d attempts across %d sources", r.TotalAttempts(), r.Sources)
	fmt.Fprintf(&b, " (%d failed, %d aborted)", r.Failures, r.Aborted)
	if r.Elapsed > 0 {
		fmt.Fprintf(&b, " in %s", r.Elapsed.Round(time.Millisecond))
	}
	return b.String()
}

// Lines renders per-source attempt counts, sorted by source.
func (r Report) Lines() []string {
	srcs := make([]string, 0, len(r.Attempts))
	for s := range r.Attempts {
		srcs = append(srcs, string(s))
	}
	sort.Strings(srcs)

	exhausted := make(map[race.SourceID]bool, len(r.Exhausted))
	for _, s := range r.Exhausted {
		exhausted[s] = true
	}
	out := make([]string, 0, len(srcs))
	for _, s := range srcs {
		id := race.SourceID(s)
		state := ""
		switch {
		case id == r.Winner:
			state = " winner"
		case exhausted[id]:
			state = " exhausted"
		}
		out = append(out, fmt.Sprintf("%s attempts=%d%s", s, r.Attempts[id], state))
	}
	return out
}

// Recorder builds a Report from race events on a bus. It only looks at the
// first run it sees, so use one Recorder per Run.
type Recorder struct {
	ch    <-chan eventbus.Event
	unsub func()
	done  chan struct{}
	rep   Report
}

func NewRecorder(bus eventbus.Bus) *Recorder {
	ch, unsub := bus.Subscribe(1024, "race.", "attempt.", "source.")
	r := &Recorder{
		ch:    ch,
		unsub: unsub,
		done:  make(chan struct{}),
		rep:   Report{Attempts: map[race.SourceID]int{}},
	}
	go r.loop(bus)
	return r
}

func (r *Recorder) loop(bus eventbus.Bus) {
	defer close(r.done)
	before := bus.Dropped()
	for e := range r.ch {
		ev, ok := e.Data.(race.Event)
		if !ok {
			continue
		}
		if r.rep.RunID == "" {
			r.rep.RunID = ev.RunID
		} else if ev.RunID != r.rep.RunID {
			continue
		}
		r.apply(e.Type, ev)
	}
	r.rep.Dropped = bus.Dropped() - before
}

func (r *Recorder) apply(typ string, ev race.Event) {
	switch typ {
	case race.EventRaceStarted:
		r.rep.Sources = len(ev.Sources)
	case race.EventAttemptStarted:
		r.rep.Attempts[ev.Source]++
	case race.EventAttemptFailed:
		r.rep.Failures++
	case race.EventSourceExhausted:
		r.rep.Exhausted = append(r.rep.Exhausted, ev.Source)
	case race.EventAttemptAborted:
		r.rep.Aborted++
	case race.EventRaceWon:
		r.rep.Winner = ev.Source
	case race.EventRaceCanceled:
		r.rep.Canceled = true
	}
}

// Stop detaches from the bus, applies whatever was already delivered and
// returns the report.
func (r *Recorder) Stop() Report {
	r.unsub()
	<-r.done
	return r.rep
}

package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"fetchrace/internal/race"
)

// ErrSimulated is the failure reported by a simulated server.
var ErrSimulated = errors.New("fetch: simulated server failure")

type SimOptions struct {
	FailRate float64 // probability in [0,1] that a fetch fails
	MinDelay time.Duration
	MaxDelay time.Duration
	Seed     uint64 // zero picks a random seed
}

// Sim pretends to download from "sim://<name>" servers: each fetch sleeps a
// random time in [MinDelay, MaxDelay] and then fails with FailRate.
type Sim struct {
	artifact string
	opts     SimOptions

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSim(artifact string, opts SimOptions) *Sim {
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return &Sim{
		artifact: artifactKey(artifact),
		opts:     opts,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SimSources names n simulated servers "sim://One" .. "sim://Ten", falling
// back to numbers past ten.
func SimSources(n int) []race.SourceID {
	names := []string{"One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine", "Ten"}
	out := make([]race.SourceID, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Server%d", i+1)
		if i < len(names) {
			name = names[i]
		}
		out = append(out, race.SourceID("sim://"+name))
	}
	return out
}

func (s *Sim) roll() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.opts.MinDelay
	if span := s.opts.MaxDelay - s.opts.MinDelay; span > 0 {
		d += time.Duration(s.rng.Int64N(int64(span) + 1))
	}
	return d, s.rng.Float64() < s.opts.FailRate
}

func (s *Sim) Fetch(ctx context.Context, src race.SourceID) (race.Artifact, error) {
	name, ok := strings.CutPrefix(string(src), "sim://")
	if !ok || name == "" {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("%w %q: want sim://name", ErrBadSource, src))
	}

	delay, fail := s.roll()
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return race.Artifact{}, race.NewFetchError(src, ctx.Err())
		case <-t.C:
		}
	}
	if fail {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("%w: %s", ErrSimulated, name))
	}

	artifact := s.artifact
	if artifact == "" {
		artifact = "binary"
	}
	return race.Artifact{
		Source: src,
		Name:   artifact,
		Data:   []byte(fmt.Sprintf("%s from %s", artifact, name)),
		Meta:   map[string]string{"server": name, "latency": delay.String()},
	}, nil
}

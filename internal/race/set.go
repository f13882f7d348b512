package race

// attemptSet holds the live attempts of one run, at most one per source.
// Only the coordinator goroutine touches it, so there is no locking.
type attemptSet struct {
	order []SourceID // sources in submission order, for deterministic iteration
	live  map[SourceID]*attempt
}

func newAttemptSet(sources []SourceID) *attemptSet {
	return &attemptSet{
		order: sources,
		live:  make(map[SourceID]*attempt, len(sources)),
	}
}

func (s *attemptSet) insert(a *attempt) { s.live[a.source] = a }

// owns reports whether a is the current live attempt for its source.
// Results from replaced or aborted attempts fail this check.
func (s *attemptSet) owns(a *attempt) bool {
	return a != nil && s.live[a.source] == a
}

func (s *attemptSet) remove(a *attempt) {
	if s.owns(a) {
		delete(s.live, a.source)
	}
}

func (s *attemptSet) len() int    { return len(s.live) }
func (s *attemptSet) empty() bool { return len(s.live) == 0 }

// list returns the live attempts in submission order.
func (s *attemptSet) list() []*attempt {
	out := make([]*attempt, 0, len(s.live))
	for _, src := range s.order {
		if a, ok := s.live[src]; ok {
			out = append(out, a)
		}
	}
	return out
}

// drain empties the set and returns what was in it.
func (s *attemptSet) drain() []*attempt {
	out := s.list()
	clear(s.live)
	return out
}

// abortAll requests cancellation of every live attempt and empties the set.
func (s *attemptSet) abortAll() []*attempt {
	out := s.drain()
	for _, a := range out {
		a.abort()
	}
	return out
}

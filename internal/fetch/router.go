package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fetchrace/internal/race"
)

// Router dispatches a fetch to the fetcher registered for the source's URL
// scheme.
type Router struct {
	routes map[string]race.Fetcher
}

func NewRouter() *Router {
	return &Router{routes: map[string]race.Fetcher{}}
}

// Handle registers f for one or more schemes. Later registrations win.
func (r *Router) Handle(f race.Fetcher, schemes ...string) *Router {
	for _, s := range schemes {
		r.routes[strings.ToLower(strings.TrimSpace(s))] = f
	}
	return r
}

// Schemes lists the registered schemes in sorted order.
func (r *Router) Schemes() []string {
	out := make([]string, 0, len(r.routes))
	for s := range r.routes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether some fetcher handles src.
func (r *Router) Supports(src race.SourceID) bool {
	_, ok := r.routes[Scheme(src)]
	return ok
}

func (r *Router) Fetch(ctx context.Context, src race.SourceID) (race.Artifact, error) {
	f, ok := r.routes[Scheme(src)]
	if !ok {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("%w %q", ErrUnsupportedScheme, Scheme(src)))
	}
	return f.Fetch(ctx, src)
}

// WithTimeout bounds every fetch made through f by d. Zero or negative d
// returns f unchanged.
func WithTimeout(f race.Fetcher, d time.Duration) race.Fetcher {
	if d <= 0 {
		return f
	}
	return race.FetchFunc(func(ctx context.Context, src race.SourceID) (race.Artifact, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return f.Fetch(ctx, src)
	})
}

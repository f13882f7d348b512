package app

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"fetchrace/internal/race"
)

// FilterSources keeps the ids matching include, a glob such as
// "https://*" or "{s3,gs}://*". Empty include keeps everything. Order is
// preserved.
func FilterSources(ids []string, include string) ([]race.SourceID, error) {
	include = strings.TrimSpace(include)
	var g glob.Glob
	if include != "" {
		var err error
		if g, err = glob.Compile(include); err != nil {
			return nil, fmt.Errorf("invalid --include pattern %q: %w", include, err)
		}
	}

	out := make([]race.SourceID, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if g != nil && !g.Match(id) {
			continue
		}
		out = append(out, race.SourceID(id))
	}
	return out, nil
}

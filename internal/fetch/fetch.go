package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"fetchrace/internal/race"
)

var (
	// ErrNotFound means the source answered but does not have the artifact.
	ErrNotFound = errors.New("fetch: artifact not found")
	// ErrUnsupportedScheme means no fetcher handles the source's URL scheme.
	ErrUnsupportedScheme = errors.New("fetch: unsupported source scheme")
	// ErrBadSource means the source id could not be parsed for its scheme.
	ErrBadSource = errors.New("fetch: malformed source")
)

// Scheme returns the lower-cased URL scheme of a source id, or "" when it
// has none.
func Scheme(src race.SourceID) string {
	s := string(src)
	i := strings.Index(s, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(s[:i])
}

// localPath extracts the filesystem path of a "<scheme>:///abs/path" or
// "<scheme>://rel/path" source.
func localPath(src race.SourceID, scheme string) (string, error) {
	u, err := url.Parse(string(src))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrBadSource, src, err)
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return "", fmt.Errorf("%w %q: want %s://", ErrBadSource, src, scheme)
	}
	p := u.Path
	if u.Host != "" {
		p = u.Host + p
	}
	if p == "" {
		return "", fmt.Errorf("%w %q: empty path", ErrBadSource, src)
	}
	return filepath.FromSlash(p), nil
}

// artifactKey normalises an artifact name into a slash-separated key with
// no leading slash.
func artifactKey(name string) string {
	return strings.TrimLeft(strings.TrimSpace(name), "/")
}

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"fetchrace/internal/race"
	logx "fetchrace/pkg/logx"
)

// Dir reads the artifact from a local directory, "dir:///srv/drop". When the
// file is not there yet, Fetch watches the directory and returns once it
// appears, or when ctx ends.
type Dir struct {
	artifact string
	settle   time.Duration
	log      logx.Logger
}

// NewDir returns a directory fetcher. settle is how long the file must stay
// quiet after a create/write event before it is read; it absorbs partial
// writes. Zero uses 100ms.
func NewDir(artifact string, settle time.Duration, log logx.Logger) *Dir {
	if settle <= 0 {
		settle = 100 * time.Millisecond
	}
	return &Dir{artifact: artifactKey(artifact), settle: settle, log: log}
}

func (d *Dir) Fetch(ctx context.Context, src race.SourceID) (race.Artifact, error) {
	dir, err := localPath(src, "dir")
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, err)
	}
	file := filepath.Join(dir, filepath.FromSlash(d.artifact))

	art, err := d.read(src, file)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return art, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("watcher: %w", err))
	}
	defer w.Close()
	watchDir := filepath.Dir(file)
	if err := w.Add(watchDir); err != nil {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("watch %s: %w", watchDir, err))
	}

	// It may have landed between the first read and Add.
	if art, err := d.read(src, file); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return art, err
	}
	d.log.Debug("dir.waiting", logx.String("source", string(src)), logx.String("file", file))

	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return race.Artifact{}, race.NewFetchError(src, ctx.Err())

		case ev, ok := <-w.Events:
			if !ok {
				return race.Artifact{}, race.NewFetchError(src, errors.New("watcher closed"))
			}
			if filepath.Clean(ev.Name) != filepath.Clean(file) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) != 0 {
				settled = time.After(d.settle)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return race.Artifact{}, race.NewFetchError(src, errors.New("watcher closed"))
			}
			return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("watch: %w", err))

		case <-settled:
			settled = nil
			art, err := d.read(src, file)
			if err == nil || !errors.Is(err, fs.ErrNotExist) {
				return art, err
			}
		}
	}
}

func (d *Dir) read(src race.SourceID, file string) (race.Artifact, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("%w: %s: %w", ErrNotFound, file, fs.ErrNotExist))
		}
		return race.Artifact{}, race.NewFetchError(src, err)
	}
	return race.Artifact{
		Source: src,
		Name:   d.artifact,
		Data:   data,
		Meta:   map[string]string{"path": file},
	}, nil
}

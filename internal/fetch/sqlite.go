package fetch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"fetchrace/internal/race"
)

const sqliteQuery = `SELECT data FROM artifacts WHERE name = ?`

// SQLite reads the artifact from a mirror database,
// "sqlite:///var/lib/mirror.db". The database must have a table
//
//	CREATE TABLE artifacts (name TEXT PRIMARY KEY, data BLOB NOT NULL);
//
// The file is never created or written.
type SQLite struct {
	artifact string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewSQLite(artifact string) *SQLite {
	return &SQLite{artifact: artifactKey(artifact), dbs: map[string]*sql.DB{}}
}

func (s *SQLite) db(path string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[path]; ok {
		return db, nil
	}
	// sql.Open would create a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("query_only: %w", err)
	}
	s.dbs[path] = db
	return db, nil
}

func (s *SQLite) Fetch(ctx context.Context, src race.SourceID) (race.Artifact, error) {
	path, err := localPath(src, "sqlite")
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, err)
	}
	db, err := s.db(path)
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("open %s: %w", path, err))
	}

	var data []byte
	err = db.QueryRowContext(ctx, sqliteQuery, s.artifact).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("%w: %s", ErrNotFound, s.artifact))
	}
	if err != nil {
		return race.Artifact{}, race.NewFetchError(src, fmt.Errorf("query: %w", err))
	}
	return race.Artifact{
		Source: src,
		Name:   s.artifact,
		Data:   data,
		Meta:   map[string]string{"db": path},
	}, nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, path)
	}
	return first
}

package app

import (
	"fetchrace/internal/fetch"
	"fetchrace/internal/race"
	logx "fetchrace/pkg/logx"
)

// Schemes served by the blob fetcher. Only drivers linked into the binary
// can actually open; cmd/fetchrace links s3, gcs, file and mem.
var blobSchemes = []string{"s3", "gs", "file", "mem"}

func (a *App) buildRouter() *fetch.Router {
	artifact := a.set.Artifact

	httpF := fetch.NewHTTP(artifact, fetch.HTTPOptions{
		RatePerSec: a.set.HTTP.RatePerSec,
		Burst:      a.set.HTTP.Burst,
		UserAgent:  a.set.HTTP.UserAgent,
		MaxBytes:   a.set.HTTP.MaxBytes,
	})
	blobF := fetch.NewBlob(artifact)
	sqliteF := fetch.NewSQLite(artifact)
	dirF := fetch.NewDir(artifact, a.set.DirSettle, a.log.With(logx.String("comp", "fetch.dir")))
	a.closers = append(a.closers, blobF, sqliteF)

	timed := func(f race.Fetcher) race.Fetcher { return fetch.WithTimeout(f, a.set.FetchTimeout) }

	r := fetch.NewRouter().
		Handle(timed(httpF), "http", "https").
		Handle(timed(blobF), blobSchemes...).
		Handle(timed(dirF), "dir").
		Handle(timed(sqliteF), "sqlite").
		Handle(timed(a.simFetcher(artifact)), "sim")
	a.log.Debug("fetchers ready", logx.Strings("schemes", r.Schemes()), logx.Duration("timeout", a.set.FetchTimeout))
	return r
}

func (a *App) simFetcher(artifact string) *fetch.Sim {
	return fetch.NewSim(artifact, fetch.SimOptions{
		FailRate: a.set.SimFailRate,
		MinDelay: a.set.SimMinDelay,
		MaxDelay: a.set.SimMaxDelay,
		Seed:     a.set.SimSeed,
	})
}

// Package fetch provides race.Fetcher implementations for the source kinds
// fetchrace understands:
//
//	http://, https://         HTTP mirror (GET <source>/<artifact>)
//	s3://, gs://, file://, mem://
//	                          gocloud blob bucket
//	dir://                    local directory, waits for the file to appear
//	sqlite://                 mirror database (artifacts table)
//	sim://                    simulated server with random latency and failures
//
// Router picks the implementation by scheme. All failures are reported as
// *race.FetchError; ErrNotFound and friends are reachable with errors.Is.
package fetch

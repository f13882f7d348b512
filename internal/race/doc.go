// Package race fetches one artifact from whichever of several
// interchangeable sources delivers it first.
//
// Every source gets its own attempt, running in its own goroutine with its
// own cancellable context. The Coordinator waits for completions in arrival
// order. A failed attempt is replaced by a fresh one for the same source
// while that source still has retry budget. The first success wins and every
// other attempt is aborted without waiting for it to unwind.
//
// The package knows nothing about transports; see internal/fetch for
// Fetcher implementations.
package race

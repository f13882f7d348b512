package race

import (
	"time"

	"fetchrace/internal/eventbus"
)

// Event types published on the bus during a run.
const (
	EventRaceStarted     = "race.started"
	EventAttemptStarted  = "attempt.started"
	EventAttemptFailed   = "attempt.failed"
	EventAttemptRetrying = "attempt.retrying"
	EventSourceExhausted = "source.exhausted"
	EventAttemptAborted  = "attempt.aborted"
	EventRaceWon         = "race.won"
	EventRaceExhausted   = "race.exhausted"
	EventRaceCanceled    = "race.canceled"
)

// Event is the Data payload of every race bus event. Fields that do not
// apply to a given type are left zero.
type Event struct {
	RunID     string
	Phase     Phase
	Source    SourceID
	Attempt   int // 1-based attempt number for Source
	Remaining int // retries left for Source
	Delay     time.Duration
	Live      int // live attempts after the event
	Sources   []SourceID
	Artifact  *Artifact
	Err       error
}

func (r *run) publish(typ string, ev Event) {
	if r.bus == nil {
		return
	}
	ev.RunID = r.id
	if ev.Phase == "" {
		ev.Phase = r.phase
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

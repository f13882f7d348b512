package race

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SourceID identifies one interchangeable origin of the artifact, e.g. a
// mirror URL or a bucket URL. The coordinator treats it as opaque.
type SourceID string

func (s SourceID) String() string { return string(s) }

// Artifact is the successful result of a fetch.
//
// The coordinator never looks inside it; it only hands the winner back.
type Artifact struct {
	Source SourceID
	Name   string
	Data   []byte
	Meta   map[string]string
}

func (a Artifact) String() string {
	name := a.Name
	if name == "" {
		name = "artifact"
	}
	if a.Source == "" {
		return fmt.Sprintf("%s (%d bytes)", name, len(a.Data))
	}
	return fmt.Sprintf("%s (%d bytes) from %s", name, len(a.Data), a.Source)
}

// MetaKeys returns the metadata keys in sorted order.
func (a Artifact) MetaKeys() []string {
	keys := make([]string, 0, len(a.Meta))
	for k := range a.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fetcher is the transport collaborator. Fetch may block for an unbounded
// time; it should return promptly once ctx is canceled, but the coordinator
// does not rely on it.
type Fetcher interface {
	Fetch(ctx context.Context, source SourceID) (Artifact, error)
}

// FetchFunc adapts a plain function to Fetcher.
type FetchFunc func(ctx context.Context, source SourceID) (Artifact, error)

func (f FetchFunc) Fetch(ctx context.Context, source SourceID) (Artifact, error) {
	return f(ctx, source)
}

// OutcomeKind is the binary result of a run.
type OutcomeKind int

const (
	OutcomeExhausted OutcomeKind = iota
	OutcomeSuccess
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is what Run returns: the winning artifact, or nothing.
// The zero value is an exhausted outcome.
type Outcome struct {
	Kind     OutcomeKind
	Artifact Artifact
}

func success(a Artifact) Outcome { return Outcome{Kind: OutcomeSuccess, Artifact: a} }

func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

func (o Outcome) String() string {
	if o.Succeeded() {
		return "success: " + o.Artifact.String()
	}
	return "exhausted"
}

// Phase is the coarse state of a run, carried on lifecycle events.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRacing    Phase = "racing"
	PhaseDraining  Phase = "draining"
	PhaseExhausted Phase = "exhausted"
	PhaseDone      Phase = "done"
)

// Strategy selects how the coordinator waits for the next completion.
// Both strategies observe completions in arrival order.
type Strategy string

const (
	// StrategyEvents: every attempt reports onto one shared channel.
	StrategyEvents Strategy = "events"
	// StrategySelect: the coordinator multiplexes over per-attempt channels.
	StrategySelect Strategy = "select"
)

// Strategies lists the supported strategies in display order.
func Strategies() []Strategy { return []Strategy{StrategyEvents, StrategySelect} }

// ParseStrategy parses a strategy name. Empty means StrategyEvents.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyEvents:
		return StrategyEvents, nil
	case StrategySelect:
		return StrategySelect, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want events or select)", s)
	}
}

// normalizeSources drops blank and duplicate ids, keeping first-seen order.
func normalizeSources(in []SourceID) []SourceID {
	out := make([]SourceID, 0, len(in))
	seen := make(map[SourceID]struct{}, len(in))
	for _, s := range in {
		s = SourceID(strings.TrimSpace(string(s)))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

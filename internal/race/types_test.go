package race

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseStrategy(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyEvents, false},
		{"events", StrategyEvents, false},
		{" Select ", StrategySelect, false},
		{"ordered", "", true},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseStrategy(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestNormalizeSources(t *testing.T) {
	t.Parallel()
	got := normalizeSources([]SourceID{" b", "a", "", "b", "c ", "a"})
	want := []SourceID{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAttributeKeepsFailureOnOwnSource(t *testing.T) {
	t.Parallel()
	cause := errors.New("reset by peer")

	fe := attribute("A", 2, NewFetchError("B", cause))
	if fe.Source != "A" || fe.Attempt != 2 {
		t.Fatalf("got %s/%d, want A/2", fe.Source, fe.Attempt)
	}
	if !errors.Is(fe, cause) {
		t.Fatalf("cause lost: %v", fe)
	}

	own := attribute("A", 3, NewFetchError("A", cause))
	if own.Source != "A" || own.Attempt != 3 || own.Err != cause {
		t.Fatalf("got %+v", own)
	}

	if nilErr := attribute("A", 1, nil); nilErr.Err == nil {
		t.Fatalf("nil error not replaced")
	}
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()
	if d := Exponential(0, time.Second, 0).Delay(3); d != 0 {
		t.Fatalf("zero base delay=%v", d)
	}

	b := Exponential(10*time.Millisecond, 50*time.Millisecond, 0)
	for retry, want := range map[int]time.Duration{
		1: 10 * time.Millisecond,
		2: 20 * time.Millisecond,
		3: 40 * time.Millisecond,
		4: 50 * time.Millisecond,
		9: 50 * time.Millisecond,
	} {
		if got := b.Delay(retry); got != want {
			t.Fatalf("Delay(%d)=%v, want %v", retry, got, want)
		}
	}

	if d := Exponential(time.Hour, 0, 0).Delay(1); d != 15*time.Second {
		t.Fatalf("default cap delay=%v, want 15s", d)
	}

	j := Exponential(100*time.Millisecond, time.Second, 0.2)
	for i := 0; i < 50; i++ {
		d := j.Delay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%%", d)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	if s := (Outcome{}).String(); s != "exhausted" {
		t.Fatalf("zero outcome=%q", s)
	}
	o := success(Artifact{Source: "m1", Name: "pkg", Data: []byte("xyz")})
	if s := o.String(); s != "success: pkg (3 bytes) from m1" {
		t.Fatalf("got %q", s)
	}
}

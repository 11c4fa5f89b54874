// Package consensus compensates for a noisy, non-deterministic classifier by
// sampling it repeatedly and trusting only an answer that recurs.
//
// A Resolver invokes a Classifier up to MaxAttempts times. Every attempt that
// produced a structured record is reduced to a fingerprint by a caller-supplied
// function, and the first fingerprint whose running count reaches Threshold, in
// attempt order, wins. Attempts that failed (transport errors, unparseable text)
// are kept in the result but never counted and never stop the loop.
//
// When no fingerprint reaches the threshold the result carries no winner. The
// most frequent fingerprint (earliest on ties) is offered separately as an
// unverified fallback so callers can tell "confirmed" from "best guess".
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxAttempts is the attempt budget when none is configured.
	DefaultMaxAttempts = 5
	// DefaultThreshold is the number of agreeing attempts required for consensus.
	DefaultThreshold = 2
)

// ErrInvalidOptions is returned for a non-positive budget or a threshold below two.
// A threshold above the budget is accepted and ends without consensus.
var ErrInvalidOptions = errors.New("invalid consensus options")

// Record is the structured output of one classification, field name to value.
type Record map[string]string

// Attempt is one invocation of the classifier.
type Attempt struct {
	// Seq is the 1-based position in dispatch order.
	Seq int `json:"seq"`
	// Raw is the unparsed classifier response.
	Raw string `json:"raw,omitempty"`
	// Record is nil when the response held no usable structured output.
	Record Record `json:"record,omitempty"`
	// Err describes why the attempt produced no record.
	Err error `json:"-"`
	// Fingerprint groups attempts that agree. Empty for unusable attempts.
	Fingerprint string        `json:"fingerprint,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Parsed reports whether the attempt produced a structured record.
func (a Attempt) Parsed() bool {
	return a.Err == nil && a.Record != nil
}

// ErrorText returns the failure text, empty for parsed attempts.
func (a Attempt) ErrorText() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}

// MarshalJSON adds the failure text to the encoded attempt.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type plain Attempt
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(a), Error: a.ErrorText()})
}

// UnmarshalJSON restores a stored attempt. The failure comes back as a plain
// error carrying the original text.
func (a *Attempt) UnmarshalJSON(data []byte) error {
	type plain Attempt
	var aux struct {
		plain
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Attempt(aux.plain)
	if aux.Error != "" {
		a.Err = errors.New(aux.Error)
	}
	return nil
}

// Classifier performs one classification. Failures are reported inside the
// returned Attempt, never as a panic or a separate error.
type Classifier interface {
	Classify(ctx context.Context) Attempt
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context) Attempt

// Classify calls f(ctx).
func (f ClassifierFunc) Classify(ctx context.Context) Attempt {
	return f(ctx)
}

// FingerprintFunc derives the grouping key of a record. Normalization is the
// caller's job. An empty key excludes the attempt from the tally.
type FingerprintFunc func(Record) string

// State is the outcome of a resolution.
type State int

const (
	StatePending State = iota
	StateConsensusReached
	StateExhaustedNoConsensus
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConsensusReached:
		return "consensus_reached"
	case StateExhaustedNoConsensus:
		return "exhausted_no_consensus"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StatePending, StateConsensusReached, StateExhaustedNoConsensus} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown consensus state %q", text)
}

// Result is the outcome of one Resolve call.
type Result struct {
	State State `json:"state"`

	// Winner is the first attempt carrying the winning fingerprint. Set only
	// when State is StateConsensusReached.
	Winner             *Attempt `json:"winner,omitempty"`
	WinningFingerprint string   `json:"winning_fingerprint,omitempty"`
	AgreementCount     int      `json:"agreement_count"`
	// ReachedAt is the Seq of the attempt that brought the winner to the threshold.
	ReachedAt int `json:"reached_at,omitempty"`

	// Fallback is the best guess when no consensus was reached.
	Fallback      *Attempt `json:"fallback,omitempty"`
	FallbackCount int      `json:"fallback_count,omitempty"`

	// Attempts holds every attempt in dispatch order, failures included.
	Attempts    []Attempt `json:"attempts"`
	Threshold   int       `json:"threshold"`
	MaxAttempts int       `json:"max_attempts"`
}

// Confirmed reports whether a fingerprint reached the threshold.
func (r Result) Confirmed() bool {
	return r.State == StateConsensusReached && r.Winner != nil
}

// Best returns the winner, else the fallback, else nil.
func (r Result) Best() *Attempt {
	if r.Winner != nil {
		return r.Winner
	}
	return r.Fallback
}

// ParsedAttempts returns the attempts that produced a record.
func (r Result) ParsedAttempts() []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if a.Parsed() {
			out = append(out, a)
		}
	}
	return out
}

// FailedAttempts counts attempts without a usable record.
func (r Result) FailedAttempts() int {
	n := 0
	for _, a := range r.Attempts {
		if !a.Parsed() || a.Fingerprint == "" {
			n++
		}
	}
	return n
}

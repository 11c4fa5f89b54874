package consensus

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options configures a Resolver.
type Options struct {
	MaxAttempts int
	Threshold   int
	// Parallelism is the number of attempts dispatched per batch.
	Parallelism int
	// Exhaustive runs the whole budget instead of stopping at consensus.
	Exhaustive bool
	// OnAttempt is called for each attempt in Seq order.
	OnAttempt func(Attempt)
}

// Option customizes the resolver.
type Option func(*Options)

// WithMaxAttempts sets the attempt budget (defaults to 5).
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithThreshold sets the required agreement count (defaults to 2).
func WithThreshold(n int) Option {
	return func(o *Options) {
		o.Threshold = n
	}
}

// WithParallelism dispatches attempts in concurrent batches of n.
func WithParallelism(n int) Option {
	return func(o *Options) {
		o.Parallelism = n
	}
}

// WithExhaustive keeps sampling after consensus until the budget is spent.
func WithExhaustive() Option {
	return func(o *Options) {
		o.Exhaustive = true
	}
}

// WithObserver registers a callback invoked for every attempt.
func WithObserver(fn func(Attempt)) Option {
	return func(o *Options) {
		o.OnAttempt = fn
	}
}

// Resolver drives repeated classification and votes on the outcome.
type Resolver struct {
	opts Options
}

// NewResolver validates the options and builds a resolver.
func NewResolver(opts ...Option) (*Resolver, error) {
	o := Options{
		MaxAttempts: DefaultMaxAttempts,
		Threshold:   DefaultThreshold,
		Parallelism: 1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts %d must be at least 1", ErrInvalidOptions, o.MaxAttempts)
	}
	if o.Threshold < 2 {
		return nil, fmt.Errorf("%w: threshold %d must be at least 2", ErrInvalidOptions, o.Threshold)
	}
	if o.Parallelism < 1 {
		o.Parallelism = 1
	}
	return &Resolver{opts: o}, nil
}

// Options returns the effective options.
func (r *Resolver) Options() Options {
	return r.opts
}

// Resolve samples the classifier and votes. It never fails: per-attempt errors
// are recorded in the result and a cancelled context ends dispatching early.
func (r *Resolver) Resolve(ctx context.Context, c Classifier, fingerprint FingerprintFunc) Result {
	res := Result{
		State:       StatePending,
		Threshold:   r.opts.Threshold,
		MaxAttempts: r.opts.MaxAttempts,
		Attempts:    make([]Attempt, 0, r.opts.MaxAttempts),
	}
	t := newTally(r.opts.Threshold)

	for dispatched := 0; dispatched < r.opts.MaxAttempts; {
		if t.reached() && !r.opts.Exhaustive {
			break
		}
		if ctx.Err() != nil {
			break
		}

		n := min(r.opts.Parallelism, r.opts.MaxAttempts-dispatched)
		batch := r.dispatch(ctx, c, dispatched, n)
		dispatched += n

		for _, a := range batch {
			if a.Parsed() && fingerprint != nil {
				a.Fingerprint = fingerprint(a.Record)
			} else {
				a.Fingerprint = ""
			}
			res.Attempts = append(res.Attempts, a)
			t.add(len(res.Attempts)-1, a)
			if r.opts.OnAttempt != nil {
				r.opts.OnAttempt(a)
			}
		}
	}

	if t.reached() {
		res.State = StateConsensusReached
		res.WinningFingerprint = t.winner
		res.AgreementCount = t.counts[t.winner]
		res.ReachedAt = t.reachedAt
		res.Winner = &res.Attempts[t.first[t.winner]]
		return res
	}

	res.State = StateExhaustedNoConsensus
	if fp, ok := t.mostFrequent(); ok {
		res.Fallback = &res.Attempts[t.first[fp]]
		res.FallbackCount = t.counts[fp]
	}
	return res
}

// dispatch runs n attempts starting after offset. Sequence numbers are fixed
// before the attempts start, so completion order never affects the vote.
func (r *Resolver) dispatch(ctx context.Context, c Classifier, offset, n int) []Attempt {
	batch := make([]Attempt, n)
	run := func(i int) {
		seq := offset + i + 1
		start := time.Now()
		a := c.Classify(context.WithValue(ctx, seqKey{}, seq))
		a.Seq = seq
		if a.Duration == 0 {
			a.Duration = time.Since(start)
		}
		batch[i] = a
	}

	if n == 1 {
		run(0)
		return batch
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return batch
}

type seqKey struct{}

// SeqFromContext returns the sequence number of the attempt a Classify call is
// serving, or 0 outside of a resolution.
func SeqFromContext(ctx context.Context) int {
	seq, _ := ctx.Value(seqKey{}).(int)
	return seq
}

// Resolve is a one-shot helper around NewResolver.
func Resolve(ctx context.Context, c Classifier, fingerprint FingerprintFunc, maxAttempts, threshold int) (Result, error) {
	r, err := NewResolver(WithMaxAttempts(maxAttempts), WithThreshold(threshold))
	if err != nil {
		return Result{}, err
	}
	return r.Resolve(ctx, c, fingerprint), nil
}

// tally counts fingerprints in attempt order.
type tally struct {
	threshold int
	counts    map[string]int
	first     map[string]int
	order     []string
	winner    string
	reachedAt int
}

func newTally(threshold int) *tally {
	return &tally{
		threshold: threshold,
		counts:    make(map[string]int),
		first:     make(map[string]int),
	}
}

func (t *tally) add(idx int, a Attempt) {
	if !a.Parsed() || a.Fingerprint == "" {
		return
	}
	fp := a.Fingerprint
	if _, seen := t.first[fp]; !seen {
		t.first[fp] = idx
		t.order = append(t.order, fp)
	}
	t.counts[fp]++
	if t.winner == "" && t.counts[fp] >= t.threshold {
		t.winner = fp
		t.reachedAt = a.Seq
	}
}

func (t *tally) reached() bool {
	return t.winner != ""
}

// mostFrequent picks the highest count, earliest first appearance on ties.
func (t *tally) mostFrequent() (string, bool) {
	best, bestCount := "", 0
	for _, fp := range t.order {
		if c := t.counts[fp]; c > bestCount {
			best, bestCount = fp, c
		}
	}
	return best, bestCount > 0
}

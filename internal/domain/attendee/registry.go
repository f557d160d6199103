// Package attendee holds the pool of candidate attendees and project labels
// and the sampling rules used to fill in a receipt's guest list and topic.
package attendee

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
)

const (
	// DefaultBaseValuePerName is the fixed part of the per-person cost threshold
	DefaultBaseValuePerName = 18.0

	// DefaultValueRate scales the per-person threshold with the receipt total
	DefaultValueRate = 0.08
)

var (
	// ErrEmptyNamePool is returned when sampling from a registry without names
	ErrEmptyNamePool = errors.New("attendee registry has no names")

	// ErrEmptyProjectPool is returned when selecting a topic from a registry without projects
	ErrEmptyProjectPool = errors.New("attendee registry has no projects")
)

// InsufficientAttendeesError is returned by strict registries when more
// attendees are requested than the pool holds
type InsufficientAttendeesError struct {
	Requested int
	Available int
}

func (e *InsufficientAttendeesError) Error() string {
	return fmt.Sprintf("requested %d attendees but the pool only has %d names", e.Requested, e.Available)
}

// Registry is the read-only pool of names and projects for one run.
// Names()[0] is the payer. Sampling never mutates the pools, so a Registry
// may be shared by concurrent pipeline runs.
type Registry struct {
	names     []string
	projects  []string
	baseValue float64
	rate      float64
	strict    bool
}

// Option configures a Registry
type Option func(*Registry)

// WithValuePerName sets the per-person threshold as base + total*rate
func WithValuePerName(base, rate float64) Option {
	return func(r *Registry) {
		r.baseValue = base
		r.rate = rate
	}
}

// WithStrictSampling makes SampleNames fail with *InsufficientAttendeesError
// instead of returning fewer names than requested
func WithStrictSampling(strict bool) Option {
	return func(r *Registry) {
		r.strict = strict
	}
}

// NewRegistry builds a registry from the two ordered pools. Blank entries are
// dropped and duplicates are removed keeping the first occurrence.
func NewRegistry(names, projects []string, opts ...Option) *Registry {
	r := &Registry{
		names:     dedupe(names),
		projects:  dedupe(projects),
		baseValue: DefaultBaseValuePerName,
		rate:      DefaultValueRate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRand returns a deterministic random source for one run
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// RandSource identifies the random stream of one run: the seed and the
// stream (the page index of a document). Every step draws from its own
// generator, so the values a step gets do not depend on which steps ran
// before it in the same process. A resumed run therefore matches the
// uninterrupted one.
type RandSource struct {
	Seed   uint64
	Stream uint64
}

// For returns the generator of the named step
func (s RandSource) For(step string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(step))
	return NewRand(s.Seed^h.Sum64(), s.Stream)
}

// Names returns a copy of the name pool
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Projects returns a copy of the project pool
func (r *Registry) Projects() []string {
	return append([]string(nil), r.projects...)
}

// Payer returns the first name of the pool
func (r *Registry) Payer() (string, error) {
	if len(r.names) == 0 {
		return "", ErrEmptyNamePool
	}
	return r.names[0], nil
}

// BillingValuePerName returns the per-person cost threshold for a total.
// Higher totals justify more attendees per currency unit.
func (r *Registry) BillingValuePerName(total float64) float64 {
	return r.baseValue + total*r.rate
}

// NameCount derives how many attendees a receipt total supports:
// floor(floor(total) / BillingValuePerName(floor(total))).
func (r *Registry) NameCount(totalWithTip float64) int {
	total := math.Floor(totalWithTip)
	if total <= 0 {
		return 0
	}
	perName := r.BillingValuePerName(total)
	if perName <= 0 {
		return 0
	}
	return int(math.Floor(total / perName))
}

// SampleNames returns the payer followed by nameCount-1 names drawn without
// replacement from the rest of the pool, in random order. A nameCount of one
// or less yields only the payer. When the pool is too small the result holds
// every name, unless the registry is strict.
func (r *Registry) SampleNames(rng *rand.Rand, nameCount int) ([]string, error) {
	payer, err := r.Payer()
	if err != nil {
		return nil, err
	}
	if nameCount <= 1 {
		return []string{payer}, nil
	}

	rest := append([]string(nil), r.names[1:]...)
	want := nameCount - 1
	if want > len(rest) {
		if r.strict {
			return nil, &InsufficientAttendeesError{Requested: nameCount, Available: len(r.names)}
		}
		want = len(rest)
	}

	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	sample := make([]string, 0, want+1)
	sample = append(sample, payer)
	return append(sample, rest[:want]...), nil
}

// SelectTopic returns the project at index when it is given and in range,
// otherwise a uniformly random project drawn from a shuffled copy of the pool.
func (r *Registry) SelectTopic(rng *rand.Rand, index *int) (string, error) {
	if len(r.projects) == 0 {
		return "", ErrEmptyProjectPool
	}
	if index != nil && *index >= 0 && *index < len(r.projects) {
		return r.projects[*index], nil
	}

	pool := r.Projects()
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[rng.IntN(len(pool))], nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

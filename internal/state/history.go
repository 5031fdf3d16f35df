package state

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
)

// #region candidate-set

// ErrInvalidCandidates is returned when a candidate set cannot be built.
var ErrInvalidCandidates = errors.New("invalid candidate set")

// CandidateSet is the immutable, ordered set of admissible design values.
// Order matters: ties in the decision policies resolve to the earliest member.
type CandidateSet struct {
	values []float64
	index  map[float64]int
}

// NewCandidateSet copies values into a candidate set. Values must be finite
// and unique. An empty set is allowed; the decision policies reject it.
func NewCandidateSet(values []float64) (CandidateSet, error) {
	c := CandidateSet{
		values: slices.Clone(values),
		index:  make(map[float64]int, len(values)),
	}
	for i, v := range c.values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return CandidateSet{}, fmt.Errorf("%w: value %v at %d is not finite", ErrInvalidCandidates, v, i)
		}
		if j, dup := c.index[v]; dup {
			return CandidateSet{}, fmt.Errorf("%w: value %v repeated at %d and %d", ErrInvalidCandidates, v, j, i)
		}
		c.index[v] = i
	}
	return c, nil
}

// Arange builds start, start+step, ... up to but excluding stop.
func Arange(start, stop, step float64) (CandidateSet, error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return CandidateSet{}, fmt.Errorf("%w: step %v must be positive", ErrInvalidCandidates, step)
	}
	n := int(math.Ceil((stop - start) / step))
	if n < 0 {
		n = 0
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = start + float64(i)*step
	}
	return NewCandidateSet(values)
}

// Len returns the number of candidates.
func (c CandidateSet) Len() int { return len(c.values) }

// At returns the i-th candidate.
func (c CandidateSet) At(i int) float64 { return c.values[i] }

// Values returns a copy of the candidates in order.
func (c CandidateSet) Values() []float64 { return slices.Clone(c.values) }

// Contains reports set membership.
func (c CandidateSet) Contains(x float64) bool {
	_, ok := c.index[x]
	return ok
}

// #endregion candidate-set

// #region history

// History is the append-only record of observations for a session.
type History struct {
	mu         sync.RWMutex
	candidates CandidateSet
	obs        []Observation
}

// NewHistory creates an empty history bound to a candidate set.
func NewHistory(candidates CandidateSet) *History {
	return &History{candidates: candidates}
}

// Validate checks an observation without recording it.
func (h *History) Validate(x float64, y int) error {
	if y != 0 && y != 1 {
		return fmt.Errorf("%w: outcome %d not in {0,1}", ErrInvalidObservation, y)
	}
	if !h.candidates.Contains(x) {
		return fmt.Errorf("%w: design value %v not in candidate set", ErrInvalidObservation, x)
	}
	return nil
}

// Append records one observation. On error the history is unchanged.
func (h *History) Append(x float64, y int) error {
	if err := h.Validate(x, y); err != nil {
		return err
	}
	h.mu.Lock()
	h.obs = append(h.obs, Observation{X: x, Y: y})
	h.mu.Unlock()
	return nil
}

// Len returns the number of recorded observations.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.obs)
}

// Snapshot returns a copy of the observations in trial order.
func (h *History) Snapshot() []Observation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.obs)
}

// Candidates returns the candidate set the history validates against.
func (h *History) Candidates() CandidateSet {
	return h.candidates
}

// #endregion history

// Package align matches pulse sequences from two independently clocked
// streams, tolerating pulses dropped at the edges or scattered through
// either side.
package align

import (
	"fmt"
	"math"
	"sort"

	"github.com/ratlab/pulsesync/pkg/pulsesync/pulse"
)

// Pair links one pulse from each sequence judged to be the same physical
// pulse. The set of pairs produced by Match is strictly increasing in both
// TimeA and TimeB.
type Pair struct {
	TimeA  float64
	TimeB  float64
	IndexA int
	IndexB int
}

// Result is the matcher output plus its diagnostic counts.
type Result struct {
	Pairs      []Pair
	Offset     int // coarse index offset that seeded the winning greedy pass
	UnmatchedA int
	UnmatchedB int
}

// Params holds the matcher tunables.
type Params struct {
	// Tolerance is the maximum gap, in seconds, between a pulse on side B
	// and its predicted correspondence before the pair is refused.
	Tolerance float64
	// MinPairs is the minimum number of matched pairs needed for a fit to
	// be worth attempting.
	MinPairs int
}

// MatchError means the two pulse trains could not be plausibly aligned:
// too sparse, incompatible cadence, or an ambiguous offset.
type MatchError struct {
	Reason string
	Pairs  int
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("pulse matching failed: %s (matched pairs: %d)", e.Reason, e.Pairs)
}

// Cadence on the two sides measures the same physical train in seconds, so
// the median intervals must agree to first order. Cross-correlation alone
// cannot reject a constant 2x cadence (it is scale-invariant).
const maxCadenceRatio = 1.2

// A runner-up candidate offset whose greedy pass yields at least this
// fraction of the winner's pairs makes the alignment ambiguous.
const ambiguousYieldRatio = 0.9

// Match produces ordered pulse pairs from two sequences. Candidate index
// offsets come from cross-correlating the IPI profiles; each candidate seeds
// a greedy walk over both sequences, and the walk with the highest pair yield
// wins. Within a walk, a pair is emitted when side B's next pulse lands
// within Tolerance of the correspondence predicted by a running linear
// estimate; otherwise the side that is behind advances alone, absorbing a
// dropped pulse.
func Match(a, b *pulse.Sequence, p Params) (*Result, error) {
	if a.Len() < 2 || b.Len() < 2 {
		return nil, &MatchError{Reason: "a sequence has fewer than two pulses"}
	}

	ipiA := a.Intervals()
	ipiB := b.Intervals()

	ratio := median(ipiA) / median(ipiB)
	if ratio > maxCadenceRatio || ratio < 1/maxCadenceRatio {
		return nil, &MatchError{Reason: fmt.Sprintf("incompatible cadence (median IPI ratio %.3f)", ratio)}
	}

	minOverlap := max(2, p.MinPairs-1)
	cands, err := coarseCandidates(ipiA, ipiB, minOverlap)
	if err != nil {
		return nil, &MatchError{Reason: err.Error()}
	}

	ta := a.Times()
	tb := b.Times()

	var best, second *Result
	for _, d := range cands {
		r := greedyWalk(ta, tb, d, p.Tolerance)
		switch {
		case best == nil || len(r.Pairs) > len(best.Pairs):
			second = best
			best = r
		case second == nil || len(r.Pairs) > len(second.Pairs):
			second = r
		}
	}

	if second != nil && second.Offset != best.Offset &&
		len(second.Pairs) >= int(math.Ceil(ambiguousYieldRatio*float64(len(best.Pairs)))) {
		return nil, &MatchError{
			Reason: fmt.Sprintf("ambiguous alignment (offsets %d and %d pair comparably)", best.Offset, second.Offset),
			Pairs:  len(best.Pairs),
		}
	}
	if len(best.Pairs) < p.MinPairs {
		return nil, &MatchError{
			Reason: fmt.Sprintf("only %d matched pairs, need at least %d", len(best.Pairs), p.MinPairs),
			Pairs:  len(best.Pairs),
		}
	}
	return best, nil
}

// greedyWalk pairs the two time series starting from the index offset d
// (a[i+d] corresponds to b[i]).
func greedyWalk(ta, tb []float64, d int, tolerance float64) *Result {
	i, j := 0, 0
	if d >= 0 {
		i = d
	} else {
		j = -d
	}

	est := newRunningFit(ta[i], tb[j])
	pairs := make([]Pair, 0, min(len(ta), len(tb)))
	lastA, lastB := math.Inf(-1), math.Inf(-1)

	for i < len(ta) && j < len(tb) {
		diff := tb[j] - est.predict(ta[i])
		switch {
		case math.Abs(diff) <= tolerance:
			// Monotonicity guard: a candidate that would cross the
			// last accepted pair is rejected, not emitted.
			if ta[i] > lastA && tb[j] > lastB {
				pairs = append(pairs, Pair{TimeA: ta[i], TimeB: tb[j], IndexA: i, IndexB: j})
				lastA, lastB = ta[i], tb[j]
				est.update(ta[i], tb[j])
			}
			i++
			j++
		case diff > 0:
			// B's next pulse is later than predicted: A's pulse has no
			// partner (B dropped it).
			i++
		default:
			j++
		}
	}

	return &Result{
		Pairs:      pairs,
		Offset:     d,
		UnmatchedA: len(ta) - len(pairs),
		UnmatchedB: len(tb) - len(pairs),
	}
}

// runningFit tracks a decaying linear estimate of time_b as a function of
// time_a over the accepted pairs, so the predicted correspondence follows
// slow clock drift instead of assuming a fixed offset.
type runningFit struct {
	timeAvg float64
	timeVar float64
	bAvg    float64
	cov     float64
}

const fitDecay = 1.0 / 30.0

func newRunningFit(ta, tb float64) *runningFit {
	return &runningFit{timeAvg: ta, bAvg: tb}
}

func (f *runningFit) slope() float64 {
	if f.timeVar > 0 {
		return f.cov / f.timeVar
	}
	return 1
}

func (f *runningFit) predict(ta float64) float64 {
	return f.bAvg + f.slope()*(ta-f.timeAvg)
}

func (f *runningFit) update(ta, tb float64) {
	dt := ta - f.timeAvg
	f.timeAvg += fitDecay * dt
	f.timeVar = (1 - fitDecay) * (f.timeVar + dt*dt*fitDecay)
	db := tb - f.bAvg
	f.bAvg += fitDecay * db
	f.cov = (1 - fitDecay) * (f.cov + dt*db*fitDecay)
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return 0.5 * (s[mid-1] + s[mid])
	}
	return s[mid]
}

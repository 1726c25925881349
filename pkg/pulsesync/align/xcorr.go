package align

import (
	"errors"
	"math"
	"math/cmplx"
	"sort"

	"github.com/mjibson/go-dsp/fft"
)

var (
	errNoOverlap = errors.New("too few intervals to correlate")
	errWeakPeak  = errors.New("no plausible alignment offset")
)

const (
	// Minimum normalized correlation at the winning lag. Streams observing
	// the same physical pulse train clear this comfortably even with
	// scattered dropouts; a floor this low only filters out garbage.
	minPeakScore = 0.2
	// Lags scoring at least this fraction of the winner are kept as
	// candidates for the greedy pass to arbitrate by pair yield.
	candidateRatio = 0.5
	maxCandidates  = 4
	// Dropout gaps are clamped to this many standard deviations of the
	// interval profile so a single doubled interval cannot dominate the
	// correlation energy.
	clampSigma = 3.0
	// Relative IPI standard deviation below which the cadence is treated
	// as perfectly regular and carries no alignment information.
	uniformRelStd = 1e-6
)

// coarseCandidates ranks integer index offsets d aligning a[i+d] with b[i] by
// cross-correlating the mean-subtracted, clamped inter-pulse-interval
// profiles. Consistent cadence makes dropped pulses show up as doubled
// intervals, which fragment the alignment across lags; the returned list
// therefore keeps every comparable peak and leaves the final choice to the
// caller's greedy pass.
func coarseCandidates(ipiA, ipiB []float64, minOverlap int) ([]int, error) {
	la, lb := len(ipiA), len(ipiB)
	if minOverlap < 2 {
		minOverlap = 2
	}
	if la < minOverlap || lb < minOverlap {
		return nil, errNoOverlap
	}

	meanA, stdA := meanStd(ipiA)
	meanB, stdB := meanStd(ipiB)
	if stdA <= uniformRelStd*math.Abs(meanA) || stdB <= uniformRelStd*math.Abs(meanB) {
		// Perfectly regular cadence: every lag correlates equally well.
		// Fall back to the maximum-overlap offset (always d=0, since
		// overlap(0)=min(la,lb) is the attainable maximum) and let the
		// greedy time-tolerance pass confirm or reject it.
		return []int{0}, nil
	}

	a := clamp(demean(ipiA, meanA), clampSigma*stdA)
	b := clamp(demean(ipiB, meanB), clampSigma*stdB)
	corr := crossCorrelate(a, b)
	n := len(corr)

	psa := prefixSquares(a)
	psb := prefixSquares(b)

	type lagScore struct {
		d     int
		score float64
	}
	var peaks []lagScore

	for d := -(lb - minOverlap); d <= la-minOverlap; d++ {
		aStart := max(0, d)
		aEnd := min(la, lb+d)
		if aEnd-aStart < minOverlap {
			continue
		}
		ea := psa[aEnd] - psa[aStart]
		eb := psb[aEnd-d] - psb[aStart-d]
		if ea <= 0 || eb <= 0 {
			continue
		}
		idx := d
		if idx < 0 {
			idx += n
		}
		peaks = append(peaks, lagScore{d: d, score: corr[idx] / math.Sqrt(ea*eb)})
	}
	if len(peaks) == 0 {
		return nil, errNoOverlap
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].score > peaks[j].score })
	if peaks[0].score < minPeakScore {
		return nil, errWeakPeak
	}

	var cands []int
	for _, p := range peaks {
		if p.score < candidateRatio*peaks[0].score || len(cands) == maxCandidates {
			break
		}
		cands = append(cands, p.d)
	}
	return cands, nil
}

// crossCorrelate returns c with c[d mod n] = sum_i a[i+d]*b[i], computed via
// FFT. Both inputs are zero-padded to a power of two covering the full range
// of linear lags.
func crossCorrelate(a, b []float64) []float64 {
	n := 1
	for n < len(a)+len(b) {
		n <<= 1
	}
	fa := fft.FFTReal(pad(a, n))
	fb := fft.FFTReal(pad(b, n))
	prod := make([]complex128, n)
	for i := range prod {
		prod[i] = fa[i] * cmplx.Conj(fb[i])
	}
	inv := fft.IFFT(prod)
	out := make([]float64, n)
	for i := range inv {
		out[i] = real(inv[i])
	}
	return out
}

func pad(x []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, x)
	return out
}

func meanStd(x []float64) (mean, std float64) {
	if len(x) == 0 {
		return 0, 0
	}
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	var ss float64
	for _, v := range x {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(x)))
}

func demean(x []float64, mean float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

func clamp(x []float64, limit float64) []float64 {
	for i, v := range x {
		if v > limit {
			x[i] = limit
		} else if v < -limit {
			x[i] = -limit
		}
	}
	return x
}

// prefixSquares returns p with p[i] = sum of x[:i] squared, so windowed
// energies come from two lookups.
func prefixSquares(x []float64) []float64 {
	p := make([]float64, len(x)+1)
	for i, v := range x {
		p[i+1] = p[i] + v*v
	}
	return p
}

package clockmap

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/ratlab/pulsesync/pkg/pulsesync/align"
)

// Params holds the fitter tunables.
type Params struct {
	// Degree of the fitted polynomial. Kept low by policy (1-3): higher
	// degrees need proportionally more pairs and overfit sparse
	// calibration data.
	Degree int
	// ResidualTolerance is the largest acceptable absolute residual, in
	// seconds, after outlier rejection.
	ResidualTolerance float64
	// MaxOutlierRounds bounds how many worst-residual pairs may be
	// dropped before the fit is declared failed.
	MaxOutlierRounds int
}

// FitError means the fit is numerically unusable or still out of tolerance
// after bounded outlier rejection. The caller must reconfigure and retry
// explicitly; there is no automatic fallback to a lower degree.
type FitError struct {
	Reason    string
	Dropped   int
	Remaining int
}

func (e *FitError) Error() string {
	return fmt.Sprintf("clock fit failed: %s (dropped %d pairs, %d remaining)",
		e.Reason, e.Dropped, e.Remaining)
}

// Fit performs iterative least squares over the matched pairs: fit, find the
// worst residual, and if it exceeds the tolerance drop that single pair and
// refit, up to MaxOutlierRounds drops. On success the returned Mapping is
// StateValid, carries an independently fitted inverse (time_b -> time_a on
// the same surviving pairs), and is frozen. On failure the Mapping is
// returned in StateInvalid alongside a FitError so diagnostics survive.
func Fit(pairs []align.Pair, p Params) (*Mapping, error) {
	m := &Mapping{Degree: p.Degree, State: StateUnfitted}
	if p.Degree < 1 {
		m.State = StateInvalid
		return m, &FitError{Reason: fmt.Sprintf("degree must be at least 1, got %d", p.Degree)}
	}

	// degree+2 survivors keep a safety margin over exact-fit minimality.
	minPairs := p.Degree + 2
	work := append([]align.Pair(nil), pairs...)
	dropped := 0
	m.State = StateFitting

	for {
		if len(work) < minPairs {
			m.State = StateInvalid
			return m, &FitError{
				Reason:    fmt.Sprintf("only %d pairs remain, need at least %d for degree %d", len(work), minPairs, p.Degree),
				Dropped:   dropped,
				Remaining: len(work),
			}
		}

		xs := make([]float64, len(work))
		ys := make([]float64, len(work))
		for i, pr := range work {
			xs[i] = pr.TimeA
			ys[i] = pr.TimeB
		}

		coeffs, center, scale, err := fitPoly(xs, ys, p.Degree)
		if err != nil {
			m.State = StateInvalid
			return m, &FitError{Reason: err.Error(), Dropped: dropped, Remaining: len(work)}
		}

		stats, worst := residuals(coeffs, center, scale, xs, ys)
		if stats.MaxAbs <= p.ResidualTolerance {
			inv, err := fitInverse(work, p)
			if err != nil {
				m.State = StateInvalid
				return m, &FitError{Reason: err.Error(), Dropped: dropped, Remaining: len(work)}
			}

			m.ID = uuid.NewString()
			m.Coeffs = coeffs
			m.Center = center
			m.Scale = scale
			m.InvCoeffs = inv.coeffs
			m.InvCenter = inv.center
			m.InvScale = inv.scale
			m.DomainMin, m.DomainMax = minMax(xs)
			// The inverse domain must admit everything the forward map can
			// produce on its own domain. Residual noise puts the image of an
			// edge pair just past the observed side-B extremes, so cover the
			// forward image of the surviving pairs as well.
			ilo, ihi := minMax(ys)
			for _, x := range xs {
				v := evalPoly(coeffs, center, scale, x)
				if v < ilo {
					ilo = v
				}
				if v > ihi {
					ihi = v
				}
			}
			m.InvDomainMin, m.InvDomainMax = ilo, ihi
			m.Residuals = stats
			m.InvResiduals = inv.stats
			m.SurvivingPairs = len(work)
			m.DroppedPairs = dropped
			m.State = StateValid
			return m, nil
		}

		if dropped >= p.MaxOutlierRounds {
			m.Residuals = stats
			m.State = StateInvalid
			return m, &FitError{
				Reason:    fmt.Sprintf("max residual %.3g exceeds tolerance %.3g after %d rejection rounds", stats.MaxAbs, p.ResidualTolerance, dropped),
				Dropped:   dropped,
				Remaining: len(work),
			}
		}
		work = append(work[:worst], work[worst+1:]...)
		dropped++
	}
}

type inverseFit struct {
	coeffs []float64
	center float64
	scale  float64
	stats  ResidualStats
}

// fitInverse fits time_b -> time_a directly on the swapped surviving pairs.
// The forward polynomial is generally not analytically invertible above
// degree 1, and a direct fit keeps both directions independently validated.
func fitInverse(work []align.Pair, p Params) (*inverseFit, error) {
	xs := make([]float64, len(work))
	ys := make([]float64, len(work))
	for i, pr := range work {
		xs[i] = pr.TimeB
		ys[i] = pr.TimeA
	}
	coeffs, center, scale, err := fitPoly(xs, ys, p.Degree)
	if err != nil {
		return nil, fmt.Errorf("inverse fit: %w", err)
	}
	stats, _ := residuals(coeffs, center, scale, xs, ys)
	if stats.MaxAbs > p.ResidualTolerance {
		return nil, fmt.Errorf("inverse fit max residual %.3g exceeds tolerance %.3g", stats.MaxAbs, p.ResidualTolerance)
	}
	return &inverseFit{coeffs: coeffs, center: center, scale: scale, stats: stats}, nil
}

// fitPoly solves the least-squares polynomial on centered/scaled abscissae
// via normal equations with partial pivoting.
func fitPoly(xs, ys []float64, degree int) (coeffs []float64, center, scale float64, err error) {
	lo, hi := minMax(xs)
	if hi == lo {
		return nil, 0, 0, fmt.Errorf("pairs have no spread across the time domain")
	}
	center = 0.5 * (lo + hi)
	scale = 0.5 * (hi - lo)

	u := make([]float64, len(xs))
	for i, x := range xs {
		u[i] = (x - center) / scale
	}

	// Normal equations G c = r with G[i][j] = sum u^(i+j).
	n := degree + 1
	pow := make([]float64, 2*degree+1)
	r := make([]float64, n)
	for k, ui := range u {
		t := 1.0
		for e := 0; e <= 2*degree; e++ {
			pow[e] += t
			if e < n {
				r[e] += t * ys[k]
			}
			t *= ui
		}
	}
	g := make([][]float64, n)
	for i := 0; i < n; i++ {
		g[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			g[i][j] = pow[i+j]
		}
	}

	coeffs, err = solve(g, r, float64(len(xs)))
	if err != nil {
		return nil, 0, 0, err
	}
	return coeffs, center, scale, nil
}

// solve runs Gaussian elimination with partial pivoting. A pivot below
// 1e-12 relative to the sample count signals rank deficiency: the pairs are
// insufficiently spread for the requested degree.
func solve(g [][]float64, r []float64, count float64) ([]float64, error) {
	n := len(r)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(g[row][col]) > math.Abs(g[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(g[pivot][col]) < 1e-12*count {
			return nil, fmt.Errorf("normal equations are rank-deficient (pairs insufficiently spread)")
		}
		g[col], g[pivot] = g[pivot], g[col]
		r[col], r[pivot] = r[pivot], r[col]

		for row := col + 1; row < n; row++ {
			f := g[row][col] / g[col][col]
			for k := col; k < n; k++ {
				g[row][k] -= f * g[col][k]
			}
			r[row] -= f * r[col]
		}
	}

	c := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		s := r[i]
		for k := i + 1; k < n; k++ {
			s -= g[i][k] * c[k]
		}
		c[i] = s / g[i][i]
	}
	return c, nil
}

// residuals returns the residual statistics and the index of the worst pair.
func residuals(coeffs []float64, center, scale float64, xs, ys []float64) (ResidualStats, int) {
	var stats ResidualStats
	var ss float64
	worst := 0
	for i := range xs {
		r := math.Abs(ys[i] - evalPoly(coeffs, center, scale, xs[i]))
		ss += r * r
		if r > stats.MaxAbs {
			stats.MaxAbs = r
			worst = i
		}
	}
	stats.RMS = math.Sqrt(ss / float64(len(xs)))
	return stats, worst
}

func minMax(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

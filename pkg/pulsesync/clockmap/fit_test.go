package clockmap

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/ratlab/pulsesync/pkg/pulsesync/align"
)

// pairsOn samples n pairs with TimeA spread over [0, span] and TimeB = f(TimeA)
// plus uniform noise in [-noise, noise].
func pairsOn(n int, span, noise float64, seed int64, f func(float64) float64) []align.Pair {
	rng := rand.New(rand.NewSource(seed))
	pairs := make([]align.Pair, n)
	for i := range pairs {
		x := span * float64(i) / float64(n-1)
		pairs[i] = align.Pair{
			TimeA:  x,
			TimeB:  f(x) + noise*(2*rng.Float64()-1),
			IndexA: i,
			IndexB: i,
		}
	}
	return pairs
}

func defaultFitParams() Params {
	return Params{Degree: 1, ResidualTolerance: 1e-3, MaxOutlierRounds: 10}
}

func TestFitRecoversLinearDrift(t *testing.T) {
	const slope, offset, noise = 1.0002, 2.5, 2e-4
	pairs := pairsOn(50, 10, noise, 1, func(x float64) float64 { return slope*x + offset })

	m, err := Fit(pairs, defaultFitParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !m.Valid() {
		t.Fatalf("mapping state = %s, want VALID", m.State)
	}
	if m.ID == "" {
		t.Error("valid mapping has no instance ID")
	}
	if m.SurvivingPairs != 50 || m.DroppedPairs != 0 {
		t.Errorf("surviving/dropped = %d/%d, want 50/0", m.SurvivingPairs, m.DroppedPairs)
	}
	if got := m.Eval(1) - m.Eval(0); math.Abs(got-slope) > 1e-4 {
		t.Errorf("recovered slope %.7f, want %.7f", got, slope)
	}
	if got := m.Eval(0); math.Abs(got-offset) > 1e-4 {
		t.Errorf("recovered offset %.6f, want %.6f", got, offset)
	}
	// Least squares cannot do worse than a little over the noise amplitude.
	if m.Residuals.MaxAbs > 2.5*noise {
		t.Errorf("MaxAbs = %.3g, want within noise bound %.3g", m.Residuals.MaxAbs, 2.5*noise)
	}
	if m.DomainMin != 0 || m.DomainMax != 10 {
		t.Errorf("domain [%v, %v], want [0, 10]", m.DomainMin, m.DomainMax)
	}
}

func TestFitRecoversQuadraticWarp(t *testing.T) {
	truth := func(x float64) float64 { return 2.0 + 1.0001*x + 1e-5*x*x }
	pairs := pairsOn(60, 100, 1e-4, 2, truth)

	p := defaultFitParams()
	p.Degree = 2
	m, err := Fit(pairs, p)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for _, x := range []float64{0, 12.5, 50, 87.5, 100} {
		if got := m.Eval(x); math.Abs(got-truth(x)) > 1e-3 {
			t.Errorf("Eval(%v) = %.6f, want %.6f", x, got, truth(x))
		}
	}
	if m.Residuals.MaxAbs > p.ResidualTolerance {
		t.Errorf("MaxAbs = %.3g exceeds tolerance", m.Residuals.MaxAbs)
	}
}

func TestFitDropsSingleOutlier(t *testing.T) {
	pairs := pairsOn(30, 10, 0, 3, func(x float64) float64 { return x + 1 })
	pairs[17].TimeB += 0.05

	m, err := Fit(pairs, defaultFitParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if m.DroppedPairs != 1 {
		t.Errorf("DroppedPairs = %d, want 1", m.DroppedPairs)
	}
	if m.SurvivingPairs != 29 {
		t.Errorf("SurvivingPairs = %d, want 29", m.SurvivingPairs)
	}
	if m.Residuals.MaxAbs > 1e-9 {
		t.Errorf("MaxAbs = %.3g after dropping the outlier, want ~0", m.Residuals.MaxAbs)
	}
}

func TestFitNoTimeSpread(t *testing.T) {
	pairs := make([]align.Pair, 10)
	for i := range pairs {
		pairs[i] = align.Pair{TimeA: 5, TimeB: 7}
	}

	m, err := Fit(pairs, defaultFitParams())
	var ferr *FitError
	if !errors.As(err, &ferr) {
		t.Fatalf("got %v, want FitError", err)
	}
	if m == nil || m.State != StateInvalid {
		t.Errorf("mapping state = %v, want INVALID", m.State)
	}
}

func TestFitRankDeficientDegree(t *testing.T) {
	// Two distinct abscissae cannot support a quadratic.
	pairs := make([]align.Pair, 12)
	for i := range pairs {
		x := float64(i % 2)
		pairs[i] = align.Pair{TimeA: x, TimeB: x + 1}
	}

	p := defaultFitParams()
	p.Degree = 2
	_, err := Fit(pairs, p)
	var ferr *FitError
	if !errors.As(err, &ferr) {
		t.Fatalf("got %v, want FitError", err)
	}
}

func TestFitExhaustsOutlierRounds(t *testing.T) {
	pairs := pairsOn(40, 10, 0.01, 4, func(x float64) float64 { return x })

	p := Params{Degree: 1, ResidualTolerance: 1e-5, MaxOutlierRounds: 3}
	m, err := Fit(pairs, p)
	var ferr *FitError
	if !errors.As(err, &ferr) {
		t.Fatalf("got %v, want FitError", err)
	}
	if ferr.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", ferr.Dropped)
	}
	if m.State != StateInvalid {
		t.Errorf("mapping state = %s, want INVALID", m.State)
	}
}

func TestFitTooFewPairs(t *testing.T) {
	pairs := pairsOn(2, 10, 0, 5, func(x float64) float64 { return x })

	_, err := Fit(pairs, defaultFitParams())
	var ferr *FitError
	if !errors.As(err, &ferr) {
		t.Fatalf("got %v, want FitError", err)
	}
}

func TestFitInverseIndependence(t *testing.T) {
	truth := func(x float64) float64 { return 3.0 + 1.0005*x + 2e-5*x*x }
	pairs := pairsOn(60, 100, 0, 6, truth)

	p := defaultFitParams()
	p.Degree = 2
	m, err := Fit(pairs, p)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	// The inverse is its own fit on the swapped pairs, validated against the
	// same tolerance.
	if m.InvResiduals.MaxAbs > p.ResidualTolerance {
		t.Errorf("inverse MaxAbs = %.3g exceeds tolerance", m.InvResiduals.MaxAbs)
	}
	for i := 0; i < len(pairs); i += 2 {
		pr := pairs[i]
		if got := m.EvalInverse(pr.TimeB); math.Abs(got-pr.TimeA) > 1e-3 {
			t.Errorf("EvalInverse(%v) = %.6f, want %.6f", pr.TimeB, got, pr.TimeA)
		}
	}
}

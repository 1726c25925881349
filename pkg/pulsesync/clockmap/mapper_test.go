package clockmap

import (
	"errors"
	"math"
	"testing"
)

// validMapping fits an exact linear drift over TimeA in [0, 10] so domain
// behavior is easy to reason about.
func validMapping(t *testing.T) *Mapping {
	t.Helper()
	pairs := pairsOn(30, 10, 0, 11, func(x float64) float64 { return 1.0003*x + 2.5 })
	m, err := Fit(pairs, defaultFitParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return m
}

func TestNewMapperRequiresValidMapping(t *testing.T) {
	if _, err := NewMapper(&Mapping{State: StateInvalid}, PolicyReject); err == nil {
		t.Fatal("NewMapper accepted an INVALID mapping")
	}
	if _, err := NewMapper(&Mapping{State: StateUnfitted}, PolicyReject); err == nil {
		t.Fatal("NewMapper accepted an UNFITTED mapping")
	}
}

func TestMapperRoundTrip(t *testing.T) {
	m := validMapping(t)
	mp, err := NewMapper(m, PolicyReject)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	in := []float64{0.5, 3.25, 7.0, 9.9}
	fwd, flags, err := mp.Apply(in, Forward)
	if err != nil {
		t.Fatalf("Apply forward: %v", err)
	}
	for i, f := range flags {
		if f != FlagInDomain {
			t.Errorf("forward flag[%d] = %v, want in-domain", i, f)
		}
	}
	back, _, err := mp.Apply(fwd, Inverse)
	if err != nil {
		t.Fatalf("Apply inverse: %v", err)
	}
	for i := range in {
		if math.Abs(back[i]-in[i]) > 1e-6 {
			t.Errorf("round trip of %v came back as %v", in[i], back[i])
		}
	}
}

func TestMapperRoundTripAtDomainEdgeWithNoise(t *testing.T) {
	// With residual noise the forward image of the domain edge can land
	// past the largest observed side-B time. The inverse domain must still
	// admit it under the reject policy.
	pairs := pairsOn(50, 10, 2e-4, 12, func(x float64) float64 { return 1.0003*x + 2.5 })
	m, err := Fit(pairs, defaultFitParams())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	mp, err := NewMapper(m, PolicyReject)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	for _, in := range []float64{m.DomainMin, m.DomainMax} {
		fwd, _, err := mp.Apply([]float64{in}, Forward)
		if err != nil {
			t.Fatalf("Apply forward at %v: %v", in, err)
		}
		back, _, err := mp.Apply(fwd, Inverse)
		if err != nil {
			t.Fatalf("Apply inverse of %v: %v", fwd[0], err)
		}
		if math.Abs(back[0]-in) > 1e-3 {
			t.Errorf("round trip of %v came back as %v", in, back[0])
		}
	}
}

func TestMapperRejectOutOfDomain(t *testing.T) {
	m := validMapping(t)
	mp, err := NewMapper(m, PolicyReject)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	out, flags, err := mp.Apply([]float64{m.DomainMax * 1.1}, Forward)
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("got %v, want DomainError", err)
	}
	if out != nil || flags != nil {
		t.Error("rejected Apply returned partial results")
	}
	if derr.Time != m.DomainMax*1.1 || derr.Direction != Forward {
		t.Errorf("DomainError = %+v", derr)
	}
}

func TestMapperClamp(t *testing.T) {
	m := validMapping(t)
	mp, err := NewMapper(m, PolicyClamp)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	out, flags, err := mp.Apply([]float64{-1, 5, 12}, Forward)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out[0] != m.Eval(m.DomainMin) || flags[0] != FlagClamped {
		t.Errorf("below-domain: got %v flag %v, want Eval(min) clamped", out[0], flags[0])
	}
	if flags[1] != FlagInDomain {
		t.Errorf("in-domain value flagged %v", flags[1])
	}
	if out[2] != m.Eval(m.DomainMax) || flags[2] != FlagClamped {
		t.Errorf("above-domain: got %v flag %v, want Eval(max) clamped", out[2], flags[2])
	}
}

func TestMapperExtrapolate(t *testing.T) {
	m := validMapping(t)
	mp, err := NewMapper(m, PolicyExtrapolate)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	out, flags, err := mp.Apply([]float64{12}, Forward)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out[0] != m.Eval(12) {
		t.Errorf("got %v, want Eval(12) = %v", out[0], m.Eval(12))
	}
	if flags[0] != FlagExtrapolated {
		t.Errorf("flag = %v, want extrapolated", flags[0])
	}
}

func TestMapperPerCallPolicyOverride(t *testing.T) {
	m := validMapping(t)
	mp, err := NewMapper(m, PolicyReject)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	out, flags, err := mp.Apply([]float64{12}, Forward, PolicyClamp)
	if err != nil {
		t.Fatalf("Apply with override: %v", err)
	}
	if out[0] != m.Eval(m.DomainMax) || flags[0] != FlagClamped {
		t.Errorf("override ignored: got %v flag %v", out[0], flags[0])
	}

	// The override is per-call only.
	if _, _, err := mp.Apply([]float64{12}, Forward); err == nil {
		t.Fatal("default policy was replaced by the override")
	}
}

func TestMapperInverseDirectionUsesInverseDomain(t *testing.T) {
	m := validMapping(t)
	mp, err := NewMapper(m, PolicyReject)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	mid := 0.5 * (m.InvDomainMin + m.InvDomainMax)
	out, _, err := mp.Apply([]float64{mid}, Inverse)
	if err != nil {
		t.Fatalf("Apply inverse: %v", err)
	}
	if out[0] != m.EvalInverse(mid) {
		t.Errorf("got %v, want EvalInverse(%v) = %v", out[0], mid, m.EvalInverse(mid))
	}

	_, _, err = mp.Apply([]float64{m.InvDomainMax + 1}, Inverse)
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("got %v, want DomainError", err)
	}
	if derr.Direction != Inverse {
		t.Errorf("DomainError direction = %v, want inverse", derr.Direction)
	}
}

func TestParsePolicy(t *testing.T) {
	for s, want := range map[string]DomainPolicy{
		"reject":      PolicyReject,
		"clamp":       PolicyClamp,
		"extrapolate": PolicyExtrapolate,
	} {
		got, err := ParsePolicy(s)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParsePolicy("best-effort"); err == nil {
		t.Error("ParsePolicy accepted an unknown policy")
	}
}

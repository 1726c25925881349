// Package clockmap fits, validates, and applies polynomial mappings between
// the time bases of two independently clocked streams.
package clockmap

// State tracks a Mapping through its lifecycle. Valid and Invalid are
// terminal: a recomputation produces a new Mapping instance rather than
// resurrecting an old one.
type State int

const (
	StateUnfitted State = iota
	StateFitting
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnfitted:
		return "UNFITTED"
	case StateFitting:
		return "FITTING"
	case StateValid:
		return "VALID"
	case StateInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// ResidualStats summarizes fit residuals in seconds.
type ResidualStats struct {
	MaxAbs float64
	RMS    float64
}

// Mapping translates stream-A time to stream-B time (and back, via an
// independently fitted inverse polynomial). Coefficients are in a centered
// and scaled basis: y = sum c_k * u^k with u = (x - Center) / Scale, which
// keeps the normal equations well conditioned for session-length time
// values. Once State is StateValid a Mapping is frozen; treat all fields as
// read-only.
type Mapping struct {
	ID     string
	Degree int

	Coeffs []float64
	Center float64
	Scale  float64

	InvCoeffs []float64
	InvCenter float64
	InvScale  float64

	// Stream-A time interval covered by the surviving calibration pairs.
	DomainMin float64
	DomainMax float64
	// Stream-B side, for the inverse direction.
	InvDomainMin float64
	InvDomainMax float64

	Residuals    ResidualStats
	InvResiduals ResidualStats

	SurvivingPairs int
	DroppedPairs   int

	State State
}

func (m *Mapping) Valid() bool { return m != nil && m.State == StateValid }

// Eval evaluates the forward polynomial at a stream-A time. No domain policy
// is applied; use a Mapper for policy-aware application.
func (m *Mapping) Eval(t float64) float64 {
	return evalPoly(m.Coeffs, m.Center, m.Scale, t)
}

// EvalInverse evaluates the inverse polynomial at a stream-B time.
func (m *Mapping) EvalInverse(t float64) float64 {
	return evalPoly(m.InvCoeffs, m.InvCenter, m.InvScale, t)
}

func evalPoly(coeffs []float64, center, scale, t float64) float64 {
	u := (t - center) / scale
	var y float64
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = y*u + coeffs[i]
	}
	return y
}

package clockmap

import (
	"fmt"
)

// Direction selects which way a Mapper translates timestamps.
type Direction int

const (
	Forward Direction = iota // stream-A time to stream-B time
	Inverse                  // stream-B time to stream-A time
)

func (d Direction) String() string {
	if d == Inverse {
		return "inverse"
	}
	return "forward"
}

// DomainPolicy controls what happens to timestamps outside the calibrated
// domain. The default everywhere is PolicyReject: extrapolated
// neural-behavioral alignment is unsound without explicit opt-in.
type DomainPolicy int

const (
	PolicyReject DomainPolicy = iota
	PolicyClamp
	PolicyExtrapolate
)

func (p DomainPolicy) String() string {
	switch p {
	case PolicyReject:
		return "reject"
	case PolicyClamp:
		return "clamp"
	case PolicyExtrapolate:
		return "extrapolate"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string to a DomainPolicy.
func ParsePolicy(s string) (DomainPolicy, error) {
	switch s {
	case "reject":
		return PolicyReject, nil
	case "clamp":
		return PolicyClamp, nil
	case "extrapolate":
		return PolicyExtrapolate, nil
	default:
		return PolicyReject, fmt.Errorf("unknown domain policy %q", s)
	}
}

// Flag annotates one mapped timestamp.
type Flag uint8

const (
	FlagInDomain Flag = iota
	FlagClamped
	FlagExtrapolated
)

// DomainError reports a timestamp outside the calibrated domain under the
// reject policy. It does not invalidate the underlying mapping.
type DomainError struct {
	Time      float64
	Min       float64
	Max       float64
	Direction Direction
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("timestamp %.6f outside calibrated %s domain [%.6f, %.6f]",
		e.Time, e.Direction, e.Min, e.Max)
}

// Mapper applies a VALID Mapping to arbitrary timestamp slices (spike times,
// sample clocks, event times). It is the sole runtime entry point downstream
// code calls once a mapping is validated.
type Mapper struct {
	m      *Mapping
	policy DomainPolicy
}

// NewMapper wraps a mapping for application. Only VALID mappings may be
// applied.
func NewMapper(m *Mapping, policy DomainPolicy) (*Mapper, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("mapper requires a VALID mapping, got %s", m.State)
	}
	return &Mapper{m: m, policy: policy}, nil
}

// Mapping returns the underlying frozen mapping.
func (mp *Mapper) Mapping() *Mapping { return mp.m }

// Apply maps the timestamps in the given direction. The optional policy
// override applies to this call only. Under PolicyReject any out-of-domain
// input fails with DomainError; under clamp or extrapolate the result is
// returned with per-value flags instead.
func (mp *Mapper) Apply(ts []float64, dir Direction, override ...DomainPolicy) ([]float64, []Flag, error) {
	policy := mp.policy
	if len(override) > 0 {
		policy = override[0]
	}

	coeffs, center, scale := mp.m.Coeffs, mp.m.Center, mp.m.Scale
	lo, hi := mp.m.DomainMin, mp.m.DomainMax
	if dir == Inverse {
		coeffs, center, scale = mp.m.InvCoeffs, mp.m.InvCenter, mp.m.InvScale
		lo, hi = mp.m.InvDomainMin, mp.m.InvDomainMax
	}

	out := make([]float64, len(ts))
	flags := make([]Flag, len(ts))
	for i, t := range ts {
		if t >= lo && t <= hi {
			out[i] = evalPoly(coeffs, center, scale, t)
			continue
		}
		switch policy {
		case PolicyClamp:
			c := t
			if c < lo {
				c = lo
			} else if c > hi {
				c = hi
			}
			out[i] = evalPoly(coeffs, center, scale, c)
			flags[i] = FlagClamped
		case PolicyExtrapolate:
			out[i] = evalPoly(coeffs, center, scale, t)
			flags[i] = FlagExtrapolated
		default:
			return nil, nil, &DomainError{Time: t, Min: lo, Max: hi, Direction: dir}
		}
	}
	return out, flags, nil
}

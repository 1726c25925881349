package clockmap

import (
	"fmt"

	"github.com/ratlab/pulsesync/pkg/pulsesync/align"
)

// QualityReport is the diagnostic bundle for one calibration attempt. It is
// produced whether or not the mapping is accepted, so a rejection always
// carries its full evidence.
type QualityReport struct {
	PulseCountA  int
	PulseCountB  int
	MatchedPairs int
	DroppedPairs int
	UnmatchedA   int
	UnmatchedB   int

	Residuals ResidualStats
	State     State

	Accepted bool
	Reason   string
}

// Thresholds are the accept/reject gates applied on top of the fit itself.
type Thresholds struct {
	// MinMatchedPairs is the minimum matched-pair count for acceptance.
	MinMatchedPairs int
	// MinMatchRatio is the minimum ratio of matched pairs to the smaller
	// side's raw pulse count. Guards against a fit that passes residual
	// checks on a pathologically small matched subset.
	MinMatchRatio float64
}

// Validate packages a QualityReport and issues the accept/reject verdict.
// A rejected mapping is never downgraded to best-effort; the caller decides
// what to do with the diagnostics.
func Validate(m *Mapping, res *align.Result, rawA, rawB int, th Thresholds) *QualityReport {
	rep := &QualityReport{
		PulseCountA: rawA,
		PulseCountB: rawB,
	}
	if res != nil {
		rep.MatchedPairs = len(res.Pairs)
		rep.UnmatchedA = res.UnmatchedA
		rep.UnmatchedB = res.UnmatchedB
	}
	if m != nil {
		rep.DroppedPairs = m.DroppedPairs
		rep.Residuals = m.Residuals
		rep.State = m.State
	}

	smaller := rawA
	if rawB < smaller {
		smaller = rawB
	}

	switch {
	case m == nil || m.State != StateValid:
		rep.Reason = fmt.Sprintf("mapping state is %s, not VALID", rep.State)
	case rep.MatchedPairs < th.MinMatchedPairs:
		rep.Reason = fmt.Sprintf("%d matched pairs, need at least %d", rep.MatchedPairs, th.MinMatchedPairs)
	case smaller > 0 && float64(rep.MatchedPairs)/float64(smaller) < th.MinMatchRatio:
		rep.Reason = fmt.Sprintf("match ratio %.2f below minimum %.2f",
			float64(rep.MatchedPairs)/float64(smaller), th.MinMatchRatio)
	default:
		rep.Accepted = true
		rep.Reason = "accepted"
	}
	return rep
}

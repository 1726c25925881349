package clockmap

import (
	"strings"
	"testing"

	"github.com/ratlab/pulsesync/pkg/pulsesync/align"
)

func resultWithPairs(n int) *align.Result {
	pairs := make([]align.Pair, n)
	for i := range pairs {
		pairs[i] = align.Pair{TimeA: float64(i), TimeB: float64(i) + 1, IndexA: i, IndexB: i}
	}
	return &align.Result{Pairs: pairs}
}

func TestValidateAccepts(t *testing.T) {
	m := validMapping(t)
	rep := Validate(m, resultWithPairs(30), 32, 31, Thresholds{MinMatchedPairs: 8, MinMatchRatio: 0.5})
	if !rep.Accepted {
		t.Fatalf("rejected: %s", rep.Reason)
	}
	if rep.MatchedPairs != 30 || rep.PulseCountA != 32 || rep.PulseCountB != 31 {
		t.Errorf("counts = %d/%d/%d", rep.MatchedPairs, rep.PulseCountA, rep.PulseCountB)
	}
	if rep.State != StateValid {
		t.Errorf("State = %s, want VALID", rep.State)
	}
}

func TestValidateRejectsInvalidMapping(t *testing.T) {
	m := &Mapping{State: StateInvalid}
	rep := Validate(m, resultWithPairs(30), 30, 30, Thresholds{MinMatchedPairs: 8, MinMatchRatio: 0.5})
	if rep.Accepted {
		t.Fatal("accepted an INVALID mapping")
	}
	if !strings.Contains(rep.Reason, "INVALID") {
		t.Errorf("Reason = %q", rep.Reason)
	}
}

func TestValidateRejectsTooFewPairs(t *testing.T) {
	m := validMapping(t)
	rep := Validate(m, resultWithPairs(5), 6, 6, Thresholds{MinMatchedPairs: 8, MinMatchRatio: 0.5})
	if rep.Accepted {
		t.Fatal("accepted below the pair floor")
	}
}

func TestValidateRejectsLowMatchRatio(t *testing.T) {
	m := validMapping(t)
	// 10 of 100 pulses matched: the fit may be tight but the session is not
	// trustworthy.
	rep := Validate(m, resultWithPairs(10), 100, 100, Thresholds{MinMatchedPairs: 8, MinMatchRatio: 0.5})
	if rep.Accepted {
		t.Fatal("accepted a pathologically low match ratio")
	}
	if !strings.Contains(rep.Reason, "ratio") {
		t.Errorf("Reason = %q", rep.Reason)
	}
}

func TestValidateNilMapping(t *testing.T) {
	rep := Validate(nil, nil, 0, 0, Thresholds{MinMatchedPairs: 8, MinMatchRatio: 0.5})
	if rep.Accepted {
		t.Fatal("accepted a nil mapping")
	}
}

package pulse

import (
	"fmt"
	"math"
	"sort"
)

// Params holds the edge-detection tunables. All durations are seconds in the
// stream's own clock.
type Params struct {
	// Hysteresis thresholds. A rising edge arms above HighThreshold; the
	// pulse ends, and the detector re-arms, below LowThreshold.
	HighThreshold float64
	LowThreshold  float64
	// MinHoldTime is how long the signal must stay above HighThreshold
	// before the edge is registered. Rejects single-sample glitches.
	MinHoldTime float64
	// MinPulseWidth discards registered pulses narrower than this
	// (counted in Sequence.ShortDiscarded, not an error).
	MinPulseWidth float64
	// DebounceInterval is how long the signal must stay below LowThreshold
	// after a pulse before a new rising edge may register.
	DebounceInterval float64
	// DedupEpsilon collapses event-source timestamps closer than this to
	// one event.
	DedupEpsilon float64
}

// ExtractionError reports a stream from which no usable pulses could be
// extracted. It indicates a wiring or acquisition fault and aborts the
// synchronization attempt.
type ExtractionError struct {
	StreamID string
	Reason   string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("pulse extraction failed for stream %q: %s", e.StreamID, e.Reason)
}

// Extractor performs hysteresis edge detection over a sampled digital trace.
// Input may arrive in arbitrary chunks via Push; detector state carries over
// chunk boundaries, so a pulse spanning two chunks is neither missed nor
// double-counted. Finish seals the sequence.
type Extractor struct {
	streamID string
	rate     float64
	p        Params

	n int64 // samples consumed so far

	armed          bool
	inPulse        bool
	candidateStart float64 // onset candidate time, -1 when none
	candidateIdx   int64
	pulseStart     float64
	pulseStartIdx  int64
	lowStart       float64 // start of the current low excursion, -1 when none
	sawHigh        bool
	sawLow         bool

	events []Event
	short  int
}

// NewExtractor validates the parameters and returns a ready Extractor. The
// detector starts armed: a trace that is already high at its first sample
// registers an onset at time zero.
func NewExtractor(streamID string, sampleRate float64, p Params) (*Extractor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", sampleRate)
	}
	if p.HighThreshold <= p.LowThreshold {
		return nil, fmt.Errorf("high threshold %v must exceed low threshold %v",
			p.HighThreshold, p.LowThreshold)
	}
	return &Extractor{
		streamID:       streamID,
		rate:           sampleRate,
		p:              p,
		armed:          true,
		candidateStart: -1,
		lowStart:       -1,
	}, nil
}

// Push consumes the next chunk of samples.
func (e *Extractor) Push(samples []float64) {
	for _, v := range samples {
		t := float64(e.n) / e.rate
		e.step(t, v)
		e.n++
	}
}

func (e *Extractor) step(t, v float64) {
	if v >= e.p.HighThreshold {
		e.sawHigh = true
	}
	if v <= e.p.LowThreshold {
		e.sawLow = true
	}

	if e.inPulse {
		// Pulse ends only once the signal drops below the low threshold.
		if v <= e.p.LowThreshold {
			width := t - e.pulseStart
			if width >= e.p.MinPulseWidth {
				e.events = append(e.events, Event{Time: e.pulseStart, SampleIndex: e.pulseStartIdx})
			} else {
				e.short++
			}
			e.inPulse = false
			e.armed = false
			e.lowStart = t
		}
		return
	}

	if !e.armed {
		// Debounce: require a sustained low excursion before re-arming.
		if v <= e.p.LowThreshold {
			if e.lowStart < 0 {
				e.lowStart = t
			}
			if t-e.lowStart >= e.p.DebounceInterval {
				e.armed = true
				e.candidateStart = -1
			}
		} else {
			e.lowStart = -1
		}
		return
	}

	// Armed: a rising edge registers once it has held above the high
	// threshold for MinHoldTime. The onset is back-dated to the crossing.
	if v >= e.p.HighThreshold {
		if e.candidateStart < 0 {
			e.candidateStart = t
			e.candidateIdx = e.n
		}
		if t-e.candidateStart >= e.p.MinHoldTime {
			e.inPulse = true
			e.pulseStart = e.candidateStart
			e.pulseStartIdx = e.candidateIdx
			e.armed = false
			e.lowStart = -1
		}
	} else {
		e.candidateStart = -1
	}
}

// Finish seals extraction and returns the Sequence. A pulse still open at the
// end of input has an unknown width and is dropped. Fails with
// ExtractionError when the input was empty, the signal never crossed both
// thresholds, or no pulses survived.
func (e *Extractor) Finish() (*Sequence, error) {
	if e.n == 0 {
		return nil, &ExtractionError{StreamID: e.streamID, Reason: "empty sample input"}
	}
	if !e.sawHigh || !e.sawLow {
		return nil, &ExtractionError{
			StreamID: e.streamID,
			Reason:   "signal has no valid high/low excursions (flat or stuck line)",
		}
	}
	if len(e.events) == 0 {
		return nil, &ExtractionError{
			StreamID: e.streamID,
			Reason:   fmt.Sprintf("no pulses detected (%d discarded as too narrow)", e.short),
		}
	}
	return &Sequence{
		StreamID:       e.streamID,
		Unit:           "s",
		Events:         e.events,
		ShortDiscarded: e.short,
	}, nil
}

// FromSamples extracts a Sequence from a fully materialized trace.
func FromSamples(streamID string, samples []float64, sampleRate float64, p Params) (*Sequence, error) {
	ex, err := NewExtractor(streamID, sampleRate, p)
	if err != nil {
		return nil, err
	}
	ex.Push(samples)
	return ex.Finish()
}

// FromEvents builds a Sequence from discrete timestamped pulse messages.
// Arrival order is not trusted: times are sorted first, then near-duplicates
// within DedupEpsilon collapse to the earliest occurrence.
func FromEvents(streamID string, times []float64, p Params) (*Sequence, error) {
	if len(times) == 0 {
		return nil, &ExtractionError{StreamID: streamID, Reason: "no pulse events in input"}
	}

	ts := append([]float64(nil), times...)
	sort.Float64s(ts)

	events := make([]Event, 0, len(ts))
	dupes := 0
	last := math.Inf(-1)
	for _, t := range ts {
		if len(events) > 0 && t-last <= p.DedupEpsilon {
			dupes++
			continue
		}
		events = append(events, Event{Time: t, SampleIndex: -1})
		last = t
	}

	return &Sequence{
		StreamID:       streamID,
		Unit:           "s",
		Events:         events,
		DupesCollapsed: dupes,
	}, nil
}

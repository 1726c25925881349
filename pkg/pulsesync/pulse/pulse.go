package pulse

// Event is a single detected pulse onset. Time is in the owning stream's
// native clock, in seconds. SampleIndex is the sample the onset was detected
// at for sample-based sources, or -1 for event-based sources.
type Event struct {
	Time        float64
	SampleIndex int64
}

// Sequence is an ordered run of pulse onsets from one stream. Times are
// strictly increasing. A Sequence is built once by extraction and never
// mutated afterwards; corrections produce a new Sequence.
type Sequence struct {
	StreamID string
	Unit     string
	Events   []Event

	// Diagnostic counts. Not errors: a handful of rejected glitches is
	// expected on a real digital line.
	ShortDiscarded int // pulses narrower than the minimum width
	DupesCollapsed int // near-duplicate events merged (event sources only)
}

func (s *Sequence) Len() int { return len(s.Events) }

// Times returns the onset times as a fresh slice.
func (s *Sequence) Times() []float64 {
	out := make([]float64, len(s.Events))
	for i, e := range s.Events {
		out[i] = e.Time
	}
	return out
}

// Intervals returns the inter-pulse-interval profile: the consecutive
// differences of the onset times. Length is Len()-1.
func (s *Sequence) Intervals() []float64 {
	if len(s.Events) < 2 {
		return nil
	}
	out := make([]float64, len(s.Events)-1)
	for i := 1; i < len(s.Events); i++ {
		out[i-1] = s.Events[i].Time - s.Events[i-1].Time
	}
	return out
}

// First and Last return the boundary onset times. Only valid for Len() > 0.
func (s *Sequence) First() float64 { return s.Events[0].Time }
func (s *Sequence) Last() float64  { return s.Events[len(s.Events)-1].Time }

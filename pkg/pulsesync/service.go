// Package pulsesync synchronizes two independently clocked recording
// streams: it extracts shared sync pulses from each raw stream, matches them
// across streams despite drop-outs, fits a polynomial clock mapping with
// outlier rejection, validates it, and applies it to downstream timestamps.
package pulsesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ratlab/pulsesync/pkg/logger"
	"github.com/ratlab/pulsesync/pkg/pulsesync/align"
	"github.com/ratlab/pulsesync/pkg/pulsesync/clockmap"
	"github.com/ratlab/pulsesync/pkg/pulsesync/pulse"
)

// DefaultDBFile is where the default store keeps persisted mappings.
const DefaultDBFile = "pulsesync.sqlite3"

// ErrRejected is wrapped into the error returned by Calibrate when the
// fitted mapping fails validation. The QualityReport is still returned; the
// mapping is not. A rejected mapping is never downgraded to best-effort.
var ErrRejected = errors.New("clock mapping rejected by validator")

type syncService struct {
	cfg   Config
	log   Logger
	store Store
}

// NewService builds a Service from the given options, opening the default
// sqlite-backed mapping store unless one is injected.
func NewService(opts ...Option) (Service, error) {
	o := &options{cfg: DefaultConfig(), dbPath: DefaultDBFile}
	for _, opt := range opts {
		opt(o)
	}

	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}

	st := o.store
	if st == nil {
		var err error
		st, err = newSQLiteStore(o.dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening mapping store: %w", err)
		}
	}

	return &syncService{cfg: o.cfg, log: o.logger, store: st}, nil
}

// Calibrate runs the full pipeline: extract both streams (in parallel, they
// have no data dependency), match, fit, validate. Extraction, matching, and
// fit failures abort the attempt entirely with their diagnostic errors.
func (s *syncService) Calibrate(ctx context.Context, in CalibrationInput) (*clockmap.Mapping, *clockmap.QualityReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		wg         sync.WaitGroup
		seqA, seqB *pulse.Sequence
		errA, errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		seqA, errA = extractStream(in.StreamA, s.cfg.pulseParams())
	}()
	go func() {
		defer wg.Done()
		seqB, errB = extractStream(in.StreamB, s.cfg.pulseParams())
	}()
	wg.Wait()

	if errA != nil {
		return nil, nil, fmt.Errorf("stream A: %w", errA)
	}
	if errB != nil {
		return nil, nil, fmt.Errorf("stream B: %w", errB)
	}
	s.log.Infof("extracted %d pulses from %s (%d short discarded), %d from %s (%d dupes collapsed)",
		seqA.Len(), seqA.StreamID, seqA.ShortDiscarded,
		seqB.Len(), seqB.StreamID, seqB.DupesCollapsed)

	res, err := align.Match(seqA, seqB, s.cfg.matchParams())
	if err != nil {
		return nil, nil, err
	}
	s.log.Infof("matched %d pulse pairs (coarse offset %d, unmatched A=%d B=%d)",
		len(res.Pairs), res.Offset, res.UnmatchedA, res.UnmatchedB)

	m, fitErr := clockmap.Fit(res.Pairs, s.cfg.fitParams())
	rep := clockmap.Validate(m, res, seqA.Len(), seqB.Len(), s.cfg.thresholds())
	if fitErr != nil {
		return nil, rep, fitErr
	}
	s.log.Infof("fit degree-%d mapping: max residual %.3gs, rms %.3gs, %d pairs survived (%d dropped)",
		m.Degree, m.Residuals.MaxAbs, m.Residuals.RMS, m.SurvivingPairs, m.DroppedPairs)

	if !rep.Accepted {
		s.log.Warnf("mapping rejected: %s", rep.Reason)
		return nil, rep, fmt.Errorf("%w: %s", ErrRejected, rep.Reason)
	}
	return m, rep, nil
}

func extractStream(in StreamInput, p pulse.Params) (*pulse.Sequence, error) {
	switch {
	case len(in.Samples) > 0 || in.SampleRate > 0:
		return pulse.FromSamples(in.ID, in.Samples, in.SampleRate, p)
	case in.EventTimes != nil:
		return pulse.FromEvents(in.ID, in.EventTimes, p)
	default:
		return nil, &pulse.ExtractionError{StreamID: in.ID, Reason: "stream has neither samples nor events"}
	}
}

// SaveMapping persists an accepted mapping under its session key. Only VALID
// mappings may be persisted.
func (s *syncService) SaveMapping(subject, session string, m *clockmap.Mapping, rep *clockmap.QualityReport) error {
	if !m.Valid() {
		return fmt.Errorf("refusing to persist a mapping in state %s", m.State)
	}
	id, err := s.store.Save(&MappingRecord{
		SubjectID:   subject,
		SessionName: session,
		Mapping:     m,
		Report:      rep,
	})
	if err != nil {
		return fmt.Errorf("saving mapping for %s/%s: %w", subject, session, err)
	}
	s.log.Infof("saved mapping %s for %s/%s", id, subject, session)
	return nil
}

// LoadMapping returns the stored mapping for a session.
func (s *syncService) LoadMapping(subject, session string) (*clockmap.Mapping, error) {
	rec, err := s.store.Get(subject, session)
	if err != nil {
		return nil, err
	}
	return rec.Mapping, nil
}

// Mapper wraps a mapping with the configured domain policy.
func (s *syncService) Mapper(m *clockmap.Mapping) (*clockmap.Mapper, error) {
	return clockmap.NewMapper(m, s.cfg.DomainPolicy)
}

func (s *syncService) ListMappings() ([]MappingRecord, error) {
	return s.store.List()
}

func (s *syncService) DeleteMapping(subject, session string) error {
	return s.store.Delete(subject, session)
}

func (s *syncService) Close() error {
	return s.store.Close()
}

package pulsesync

import (
	"context"
	"time"

	"github.com/ratlab/pulsesync/pkg/pulsesync/clockmap"
)

// Service runs the full calibration pipeline and manages persisted mappings.
type Service interface {
	Calibrate(ctx context.Context, in CalibrationInput) (*clockmap.Mapping, *clockmap.QualityReport, error)
	SaveMapping(subject, session string, m *clockmap.Mapping, rep *clockmap.QualityReport) error
	LoadMapping(subject, session string) (*clockmap.Mapping, error)
	Mapper(m *clockmap.Mapping) (*clockmap.Mapper, error)
	ListMappings() ([]MappingRecord, error)
	DeleteMapping(subject, session string) error
	Close() error
}

// StreamInput is one raw stream, either a sampled digital trace
// (Samples + SampleRate) or a list of timestamped pulse events (EventTimes).
type StreamInput struct {
	ID         string
	Samples    []float64
	SampleRate float64
	EventTimes []float64
}

// CalibrationInput carries both streams of one session.
type CalibrationInput struct {
	StreamA StreamInput
	StreamB StreamInput
}

// MappingRecord is a persisted, session-keyed mapping. Session identity
// lives here, in the surrounding layer, never inside the core computation.
type MappingRecord struct {
	ID          string
	SubjectID   string
	SessionName string
	Mapping     *clockmap.Mapping
	Report      *clockmap.QualityReport
	CreatedAt   time.Time
}

// Store persists validated mappings per (subject, session). Saving never
// mutates a mapping; a recalibration inserts a new frozen instance that
// supersedes the previous one.
type Store interface {
	Save(rec *MappingRecord) (string, error)
	Get(subject, session string) (*MappingRecord, error)
	List() ([]MappingRecord, error)
	Delete(subject, session string) error
	Close() error
}

// Logger is the minimal logging surface the service needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

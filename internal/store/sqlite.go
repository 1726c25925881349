// Package store persists validated clock mappings per (subject, session)
// in a sqlite database, mirroring how the surrounding metadata layer keys
// session artifacts. Mappings are stored frozen: a recalibration inserts a
// new row and supersedes the old one.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ratlab/pulsesync/pkg/pulsesync/clockmap"
)

// ErrNotFound is returned when no mapping exists for a session key.
var ErrNotFound = errors.New("no mapping stored for session")

// Record is one persisted mapping row. Mapping and Report are kept as JSON
// blobs; the columns used for lookup and auditing are broken out.
type Record struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	SubjectID   string `gorm:"uniqueIndex:idx_session_key,priority:1"`
	SessionName string `gorm:"uniqueIndex:idx_session_key,priority:2"`

	Degree      int
	MaxResidual float64
	RMSResidual float64

	MappingJSON string
	ReportJSON  string

	CreatedAt time.Time
}

// DB wraps the gorm handle.
type DB struct {
	db *gorm.DB
}

// Open opens (creating if needed) the mapping store at path and migrates the
// schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Save inserts a mapping for the session key, replacing any previous row for
// the same key. Returns the mapping's instance ID.
func (d *DB) Save(subject, session string, m *clockmap.Mapping, rep *clockmap.QualityReport) (string, error) {
	mappingJSON, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding mapping: %w", err)
	}
	var reportJSON []byte
	if rep != nil {
		if reportJSON, err = json.Marshal(rep); err != nil {
			return "", fmt.Errorf("encoding report: %w", err)
		}
	}

	rec := Record{
		ID:          m.ID,
		SubjectID:   subject,
		SessionName: session,
		Degree:      m.Degree,
		MaxResidual: m.Residuals.MaxAbs,
		RMSResidual: m.Residuals.RMS,
		MappingJSON: string(mappingJSON),
		ReportJSON:  string(reportJSON),
	}

	err = d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subject_id = ? AND session_name = ?", subject, session).
			Delete(&Record{}).Error; err != nil {
			return err
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return "", fmt.Errorf("inserting mapping: %w", err)
	}
	return rec.ID, nil
}

// Get fetches the mapping row for a session key.
func (d *DB) Get(subject, session string) (*Record, error) {
	var rec Record
	err := d.db.Where("subject_id = ? AND session_name = ?", subject, session).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, subject, session)
	}
	if err != nil {
		return nil, fmt.Errorf("querying mapping: %w", err)
	}
	return &rec, nil
}

// List returns all stored rows, newest first.
func (d *DB) List() ([]Record, error) {
	var recs []Record
	if err := d.db.Order("created_at desc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing mappings: %w", err)
	}
	return recs, nil
}

// Delete removes the row for a session key.
func (d *DB) Delete(subject, session string) error {
	res := d.db.Where("subject_id = ? AND session_name = ?", subject, session).Delete(&Record{})
	if res.Error != nil {
		return fmt.Errorf("deleting mapping: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, subject, session)
	}
	return nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DecodeMapping reconstructs the frozen mapping from the row.
func (r *Record) DecodeMapping() (*clockmap.Mapping, error) {
	var m clockmap.Mapping
	if err := json.Unmarshal([]byte(r.MappingJSON), &m); err != nil {
		return nil, fmt.Errorf("decoding mapping %s: %w", r.ID, err)
	}
	return &m, nil
}

// DecodeReport reconstructs the quality report, or nil if none was stored.
func (r *Record) DecodeReport() (*clockmap.QualityReport, error) {
	if r.ReportJSON == "" {
		return nil, nil
	}
	var rep clockmap.QualityReport
	if err := json.Unmarshal([]byte(r.ReportJSON), &rep); err != nil {
		return nil, fmt.Errorf("decoding report for %s: %w", r.ID, err)
	}
	return &rep, nil
}

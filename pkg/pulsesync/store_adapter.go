package pulsesync

import (
	"github.com/ratlab/pulsesync/internal/store"
)

// sqliteStore adapts internal/store to the Store interface.
type sqliteStore struct {
	db *store.DB
}

func newSQLiteStore(path string) (Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Save(rec *MappingRecord) (string, error) {
	return s.db.Save(rec.SubjectID, rec.SessionName, rec.Mapping, rec.Report)
}

func (s *sqliteStore) Get(subject, session string) (*MappingRecord, error) {
	row, err := s.db.Get(subject, session)
	if err != nil {
		return nil, err
	}
	return recordFromRow(row)
}

func (s *sqliteStore) List() ([]MappingRecord, error) {
	rows, err := s.db.List()
	if err != nil {
		return nil, err
	}
	out := make([]MappingRecord, 0, len(rows))
	for i := range rows {
		rec, err := recordFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *sqliteStore) Delete(subject, session string) error {
	return s.db.Delete(subject, session)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func recordFromRow(row *store.Record) (*MappingRecord, error) {
	m, err := row.DecodeMapping()
	if err != nil {
		return nil, err
	}
	rep, err := row.DecodeReport()
	if err != nil {
		return nil, err
	}
	return &MappingRecord{
		ID:          row.ID,
		SubjectID:   row.SubjectID,
		SessionName: row.SessionName,
		Mapping:     m,
		Report:      rep,
		CreatedAt:   row.CreatedAt,
	}, nil
}

package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// ReadEventTimes reads pulse-event timestamps (seconds) from a CSV export of
// the robotics log. The timestamp is taken from the first column; a
// non-numeric first row is treated as a header and skipped. Ordering is not
// required; extraction sorts.
func ReadEventTimes(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	times := make([]float64, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("%s contains no event timestamps", path)
	}
	return times, nil
}

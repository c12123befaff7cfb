// Package export turns the committed schedule into the files consumed by the
// recorder: one line per event, date buckets ascending, start time
// ascending within a bucket.
package export

import (
	"bytes"
	"errors"
	"io"
	"time"

	"reccal/internal/schedule"
)

// stampLayout renders dd-mm-yy-HH-MM.
const stampLayout = "02-01-06-15-04"

// ErrEmptySchedule means there is nothing to write; callers must not
// produce an empty schedule file.
var ErrEmptySchedule = errors.New("export: schedule is empty")

// Record is one exported event.
type Record struct {
	Start time.Time
	Stop  time.Time
}

// String renders the record without its trailing newline.
func (r Record) String() string {
	return r.Start.Format(stampLayout) + "; " + r.Stop.Format(stampLayout)
}

// Records walks the store in its natural order. It performs no validation.
func Records(src *schedule.Store) ([]Record, error) {
	if src.Len() == 0 {
		return nil, ErrEmptySchedule
	}
	out := make([]Record, 0, src.Len())
	for _, date := range src.Dates() {
		for _, ev := range src.Query(date) {
			out = append(out, Record{Start: ev.Start, Stop: ev.Stop})
		}
	}
	return out, nil
}

// Write emits one line per record.
func Write(w io.Writer, records []Record) error {
	if len(records) == 0 {
		return ErrEmptySchedule
	}
	for _, r := range records {
		if _, err := io.WriteString(w, r.String()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// Encode is Records followed by Write into memory.
func Encode(src *schedule.Store) ([]byte, error) {
	records, err := Records(src)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

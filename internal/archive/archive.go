// Package archive saves and opens whole schedules. The file is a YAML
// document holding every series and every date bucket, so that parent/child
// links and per-day ordering survive a round trip unchanged.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	appLog "reccal/internal/log"
	"reccal/internal/model"
	"reccal/internal/schedule"
)

// Ext is the file extension of schedule archives.
const Ext = ".rcal"

const (
	formatName    = "reccal-archive"
	formatVersion = 1
	stampLayout   = "2006-01-02T15:04"
)

// IOError reports a failed read or write of the archive medium.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("archive: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

type document struct {
	Format  string      `yaml:"format"`
	Version int         `yaml:"version"`
	Series  []seriesDoc `yaml:"series,omitempty"`
	Days    []dayDoc    `yaml:"days,omitempty"`
}

type seriesDoc struct {
	ID       string   `yaml:"id"`
	Start    string   `yaml:"start"`
	Stop     string   `yaml:"stop"`
	Until    string   `yaml:"until"`
	Cadence  string   `yaml:"cadence"`
	Children []string `yaml:"children"`
}

type dayDoc struct {
	Date   string     `yaml:"date"`
	Events []eventDoc `yaml:"events"`
}

type eventDoc struct {
	ID     string `yaml:"id"`
	Start  string `yaml:"start"`
	Stop   string `yaml:"stop"`
	Parent string `yaml:"parent,omitempty"`
}

// Marshal encodes the full store.
func Marshal(src *schedule.Store) ([]byte, error) {
	snap := src.Snapshot()
	doc := document{Format: formatName, Version: formatVersion}

	for _, sr := range snap.Series {
		doc.Series = append(doc.Series, seriesDoc{
			ID:       sr.ID,
			Start:    sr.Start.Format(stampLayout),
			Stop:     sr.Stop.Format(stampLayout),
			Until:    sr.Until.String(),
			Cadence:  sr.Cadence.String(),
			Children: sr.ChildIDs,
		})
	}
	for _, day := range snap.Days {
		dd := dayDoc{Date: day.Date.String()}
		for _, ev := range day.Events {
			dd.Events = append(dd.Events, eventDoc{
				ID:     ev.ID,
				Start:  ev.Start.Format(stampLayout),
				Stop:   ev.Stop.Format(stampLayout),
				Parent: ev.ParentID,
			})
		}
		doc.Days = append(doc.Days, dd)
	}

	return yaml.Marshal(&doc)
}

// Unmarshal rebuilds a store from Marshal output. Overlap rules are not
// re-applied; the blob is trusted to come from a valid store.
func Unmarshal(blob []byte) (*schedule.Store, error) {
	var doc document
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("archive: decode: %w", err)
	}
	if doc.Format != formatName {
		return nil, fmt.Errorf("archive: unexpected format %q", doc.Format)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("archive: unsupported version %d", doc.Version)
	}

	var snap schedule.Snapshot
	for _, sd := range doc.Series {
		sr, err := decodeSeries(sd)
		if err != nil {
			return nil, err
		}
		snap.Series = append(snap.Series, sr)
	}
	for _, dd := range doc.Days {
		date, err := model.ParseDate(dd.Date)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		day := schedule.Day{Date: date, Events: make([]model.Event, 0, len(dd.Events))}
		for _, ed := range dd.Events {
			ev, err := decodeEvent(ed)
			if err != nil {
				return nil, err
			}
			day.Events = append(day.Events, ev)
		}
		snap.Days = append(snap.Days, day)
	}

	return schedule.Restore(snap)
}

func decodeSeries(sd seriesDoc) (model.Series, error) {
	start, err := parseStamp(sd.Start)
	if err != nil {
		return model.Series{}, err
	}
	stop, err := parseStamp(sd.Stop)
	if err != nil {
		return model.Series{}, err
	}
	until, err := model.ParseDate(sd.Until)
	if err != nil {
		return model.Series{}, fmt.Errorf("archive: %w", err)
	}
	cadence, err := model.ParseCadence(sd.Cadence)
	if err != nil {
		return model.Series{}, fmt.Errorf("archive: %w", err)
	}
	return model.Series{
		ID:       sd.ID,
		Start:    start,
		Stop:     stop,
		Until:    until,
		Cadence:  cadence,
		ChildIDs: sd.Children,
	}, nil
}

func decodeEvent(ed eventDoc) (model.Event, error) {
	start, err := parseStamp(ed.Start)
	if err != nil {
		return model.Event{}, err
	}
	stop, err := parseStamp(ed.Stop)
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{ID: ed.ID, Start: start, Stop: stop, ParentID: ed.Parent}, nil
}

func parseStamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(stampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("archive: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// ReadFile opens an archive. A missing file yields an empty store when
// allowMissing is set.
func ReadFile(path string, allowMissing bool) (*schedule.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return schedule.New(), nil
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	appLog.Debug("archive opened", "path", path, "events", s.Len())
	return s, nil
}

// WriteFile saves the store to path. The previous file stays intact unless
// the new one was written completely.
func WriteFile(path string, src *schedule.Store) error {
	data, err := Marshal(src)
	if err != nil {
		return fmt.Errorf("archive: encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".reccal-archive-*.tmp")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &IOError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}

	appLog.Debug("archive saved", "path", path, "events", src.Len())
	return nil
}

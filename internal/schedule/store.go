// Package schedule holds the date-indexed event store. The store owns every
// Event and Series reachable through it and guarantees that no two events
// sharing a start date overlap.
//
// A Store is not safe for concurrent use; callers serialize writes.
package schedule

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	appLog "reccal/internal/log"
	"reccal/internal/model"
)

var (
	ErrNotFound      = errors.New("schedule: not found")
	ErrDuplicateID   = errors.New("schedule: duplicate id")
	ErrUnknownSeries = errors.New("schedule: unknown series")
)

// OverlapError identifies the two conflicting occurrences of a rejected save.
type OverlapError struct {
	Date      model.Date
	Existing  model.Event
	Candidate model.Event
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("schedule: %s overlaps %s on %s", e.Candidate, e.Existing, e.Date)
}

// Store maps each start date to the ids of the events starting that day,
// ordered by start time and then insertion order.
type Store struct {
	events  map[string]*model.Event
	series  map[string]*model.Series
	buckets map[model.Date][]string
}

func New() *Store {
	return &Store{
		events:  make(map[string]*model.Event),
		series:  make(map[string]*model.Series),
		buckets: make(map[model.Date][]string),
	}
}

// Len returns the number of events in the store.
func (s *Store) Len() int {
	return len(s.events)
}

// Dates returns the non-empty bucket dates in ascending order.
func (s *Store) Dates() []model.Date {
	return slices.Sorted(maps.Keys(s.buckets))
}

// Query returns copies of the events starting on date, ordered by start.
func (s *Store) Query(date model.Date) []model.Event {
	ids := s.buckets[date]
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.events[id])
	}
	return out
}

// QueryTime is Query for the calendar day of t.
func (s *Store) QueryTime(t time.Time) []model.Event {
	return s.Query(model.DateOf(t))
}

// Event returns a copy of the event with the given id.
func (s *Store) Event(id string) (model.Event, bool) {
	ev, ok := s.events[id]
	if !ok {
		return model.Event{}, false
	}
	return *ev, true
}

// Series returns a copy of the series with the given id.
func (s *Store) Series(id string) (model.Series, bool) {
	sr, ok := s.series[id]
	if !ok {
		return model.Series{}, false
	}
	return copySeries(sr), true
}

// SeriesIDs returns the ids of all stored series, sorted.
func (s *Store) SeriesIDs() []string {
	return slices.Sorted(maps.Keys(s.series))
}

// SaveSingle inserts one event. A child event must name a series already in
// the store; it is appended to that series' child list if not listed yet.
func (s *Store) SaveSingle(ev *model.Event) error {
	return s.SaveBatch([]*model.Event{ev})
}

// SaveBatch inserts events as one unit. Every candidate is checked against
// the untouched store and against the candidates placed before it; nothing
// is written unless all of them fit.
func (s *Store) SaveBatch(events []*model.Event) error {
	if err := s.validate(events, nil); err != nil {
		return err
	}
	s.commit(events)
	return nil
}

// SaveSeries registers a new series together with its children, all or
// nothing. children must be exactly the events listed in series.ChildIDs.
// The store copies both; the arguments stay the caller's.
func (s *Store) SaveSeries(series *model.Series, children []*model.Event) error {
	if series == nil {
		return errors.New("schedule: nil series")
	}
	if _, ok := s.series[series.ID]; ok {
		return fmt.Errorf("%w: series %s", ErrDuplicateID, series.ID)
	}
	if len(children) == 0 {
		return model.ErrEmptySeries
	}
	if len(children) != len(series.ChildIDs) {
		return fmt.Errorf("schedule: series %s lists %d children, got %d", series.ID, len(series.ChildIDs), len(children))
	}
	for i, ev := range children {
		if ev == nil || ev.ID != series.ChildIDs[i] || ev.ParentID != series.ID {
			return fmt.Errorf("schedule: child %d does not belong to series %s", i, series.ID)
		}
	}

	if err := s.validate(children, series); err != nil {
		appLog.Info("schedule: series rejected", "series", series.ID, "occurrences", len(children), "reason", err.Error())
		return err
	}
	owned := copySeries(series)
	s.series[series.ID] = &owned
	s.commit(children)
	appLog.Debug("schedule: series saved", "series", series.ID, "cadence", series.Cadence.String(), "occurrences", len(children))
	return nil
}

// validate is the first phase of a save: it places every candidate on a
// scratch view of the affected buckets without mutating the store.
func (s *Store) validate(events []*model.Event, pending *model.Series) error {
	staged := make(map[model.Date][]*model.Event)
	seen := make(map[string]struct{}, len(events))

	for _, ev := range events {
		if ev == nil {
			return errors.New("schedule: nil event")
		}
		if !ev.Start.Before(ev.Stop) {
			return fmt.Errorf("%w: event %s", model.ErrInvalidSpan, ev.ID)
		}
		if _, ok := s.events[ev.ID]; ok {
			return fmt.Errorf("%w: event %s", ErrDuplicateID, ev.ID)
		}
		if _, ok := seen[ev.ID]; ok {
			return fmt.Errorf("%w: event %s", ErrDuplicateID, ev.ID)
		}
		seen[ev.ID] = struct{}{}

		if ev.ParentID != "" {
			_, known := s.series[ev.ParentID]
			if !known && (pending == nil || pending.ID != ev.ParentID) {
				return fmt.Errorf("%w: %s", ErrUnknownSeries, ev.ParentID)
			}
		}

		date := ev.Date()
		for _, id := range s.buckets[date] {
			if existing := s.events[id]; existing.Span().Overlaps(ev.Span()) {
				return &OverlapError{Date: date, Existing: *existing, Candidate: *ev}
			}
		}
		for _, other := range staged[date] {
			if other.Span().Overlaps(ev.Span()) {
				return &OverlapError{Date: date, Existing: *other, Candidate: *ev}
			}
		}
		staged[date] = append(staged[date], ev)
	}
	return nil
}

// commit is the second phase; it assumes validate accepted events. The store
// keeps its own copies, so later changes through the caller's pointers do not
// reach the buckets.
func (s *Store) commit(events []*model.Event) {
	for _, in := range events {
		ev := new(model.Event)
		*ev = *in
		s.events[ev.ID] = ev
		s.insert(ev)
		if ev.ParentID != "" {
			if parent := s.series[ev.ParentID]; !parent.HasChild(ev.ID) {
				parent.ChildIDs = append(parent.ChildIDs, ev.ID)
			}
		}
	}
}

// insert places ev after every event starting at or before it.
func (s *Store) insert(ev *model.Event) {
	date := ev.Date()
	ids := s.buckets[date]
	pos := len(ids)
	for i, id := range ids {
		if s.events[id].Start.After(ev.Start) {
			pos = i
			break
		}
	}
	s.buckets[date] = slices.Insert(ids, pos, ev.ID)
}

// Remove deletes one event. A child is detached from its series, and a
// series left without children is discarded.
func (s *Store) Remove(id string) error {
	ev, ok := s.events[id]
	if !ok {
		return fmt.Errorf("%w: event %s", ErrNotFound, id)
	}
	s.drop(ev)

	if ev.ParentID == "" {
		return nil
	}
	if parent, ok := s.series[ev.ParentID]; ok && parent.DetachChild(id) {
		delete(s.series, parent.ID)
		appLog.Debug("schedule: empty series discarded", "series", parent.ID)
	}
	return nil
}

// RemoveSeries deletes every remaining child of the series, then the series.
func (s *Store) RemoveSeries(id string) error {
	sr, ok := s.series[id]
	if !ok {
		return fmt.Errorf("%w: series %s", ErrNotFound, id)
	}
	for _, childID := range sr.ChildIDs {
		if ev, ok := s.events[childID]; ok {
			s.drop(ev)
		}
	}
	delete(s.series, id)
	return nil
}

func (s *Store) drop(ev *model.Event) {
	date := ev.Date()
	ids := slices.DeleteFunc(s.buckets[date], func(id string) bool { return id == ev.ID })
	if len(ids) == 0 {
		delete(s.buckets, date)
	} else {
		s.buckets[date] = ids
	}
	delete(s.events, ev.ID)
}

func copySeries(sr *model.Series) model.Series {
	out := *sr
	out.ChildIDs = slices.Clone(sr.ChildIDs)
	return out
}

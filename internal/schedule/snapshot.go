package schedule

import (
	"errors"
	"fmt"

	"reccal/internal/model"
)

// Day is one bucket of a Snapshot.
type Day struct {
	Date   model.Date
	Events []model.Event
}

// Snapshot is a structural copy of a store: series in id order and buckets
// in date order, each bucket in store order.
type Snapshot struct {
	Series []model.Series
	Days   []Day
}

// Snapshot copies the full store.
func (s *Store) Snapshot() Snapshot {
	var snap Snapshot
	for _, id := range s.SeriesIDs() {
		snap.Series = append(snap.Series, copySeries(s.series[id]))
	}
	for _, date := range s.Dates() {
		snap.Days = append(snap.Days, Day{Date: date, Events: s.Query(date)})
	}
	return snap
}

// Restore rebuilds a store from a snapshot exactly as given. Bucket order is
// kept and no overlap checks run; only the parent/child links are verified
// so that the result is a well-formed store.
func Restore(snap Snapshot) (*Store, error) {
	s := New()

	for i := range snap.Series {
		sr := copySeries(&snap.Series[i])
		if sr.ID == "" {
			return nil, errors.New("schedule: restore: series without id")
		}
		if _, ok := s.series[sr.ID]; ok {
			return nil, fmt.Errorf("schedule: restore: %w: series %s", ErrDuplicateID, sr.ID)
		}
		listed := make(map[string]struct{}, len(sr.ChildIDs))
		for _, childID := range sr.ChildIDs {
			if _, dup := listed[childID]; dup {
				return nil, fmt.Errorf("schedule: restore: series %s lists child %s twice", sr.ID, childID)
			}
			listed[childID] = struct{}{}
		}
		s.series[sr.ID] = &sr
	}

	for _, day := range snap.Days {
		if _, ok := s.buckets[day.Date]; ok {
			return nil, fmt.Errorf("schedule: restore: bucket %s listed twice", day.Date)
		}
		ids := make([]string, 0, len(day.Events))
		for i := range day.Events {
			ev := day.Events[i]
			if ev.ID == "" {
				return nil, fmt.Errorf("schedule: restore: event without id on %s", day.Date)
			}
			if _, ok := s.events[ev.ID]; ok {
				return nil, fmt.Errorf("schedule: restore: %w: event %s", ErrDuplicateID, ev.ID)
			}
			if ev.Date() != day.Date {
				return nil, fmt.Errorf("schedule: restore: event %s starts %s but is filed under %s", ev.ID, ev.Date(), day.Date)
			}
			if ev.ParentID != "" {
				parent, ok := s.series[ev.ParentID]
				if !ok {
					return nil, fmt.Errorf("schedule: restore: event %s: %w: %s", ev.ID, ErrUnknownSeries, ev.ParentID)
				}
				if !parent.HasChild(ev.ID) {
					return nil, fmt.Errorf("schedule: restore: series %s does not list child %s", parent.ID, ev.ID)
				}
			}
			s.events[ev.ID] = &ev
			ids = append(ids, ev.ID)
		}
		if len(ids) > 0 {
			s.buckets[day.Date] = ids
		}
	}

	for _, sr := range s.series {
		if len(sr.ChildIDs) == 0 {
			return nil, fmt.Errorf("schedule: restore: series %s has no children", sr.ID)
		}
		for _, childID := range sr.ChildIDs {
			ev, ok := s.events[childID]
			if !ok || ev.ParentID != sr.ID {
				return nil, fmt.Errorf("schedule: restore: series %s lists missing child %s", sr.ID, childID)
			}
		}
	}

	return s, nil
}

// Replace swaps the whole content of s for that of other, which must not be
// used afterwards.
func (s *Store) Replace(other *Store) {
	s.events = other.events
	s.series = other.series
	s.buckets = other.buckets
}
